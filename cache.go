package moderate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL is how long a moderation result stays fresh.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultCacheMaxEntries is the size ceiling that triggers a sweep of expired entries.
	DefaultCacheMaxEntries = 1000

	dimensionModeration = "moderation"
)

// Cache stores moderation results keyed by content fingerprint.
// Implementations absorb their own failures: a broken cache behaves like a miss.
// Get must not hand out values that alias the stored entry.
type Cache interface {
	Get(ctx context.Context, key string) (ModerationResult, bool)
	Set(ctx context.Context, key string, value ModerationResult)
	Len(ctx context.Context) int
	Clear(ctx context.Context) int
	TTL() time.Duration
}

// CacheKey returns the fingerprint of ref for the given analysis dimension.
// Byte buffers are hashed by content, URLs by their exact text.
func CacheKey(ref ImageRef, dimension string) string {
	h := sha256.New()
	if len(ref.Data) > 0 {
		h.Write([]byte("data:"))
		h.Write(ref.Data)
	} else {
		h.Write([]byte("url:"))
		h.Write([]byte(ref.URL))
	}
	return hex.EncodeToString(h.Sum(nil)) + ":" + dimension
}

type cacheEntry struct {
	value    ModerationResult
	storedAt time.Time
}

// MemoryCache is an in-process Cache with TTL expiry.
// Stale entries are dropped on read; when a write pushes the cache past its
// ceiling, every expired entry is swept. Live entries are never evicted.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates a MemoryCache. Non-positive arguments select the defaults.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &MemoryCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the cached result for key if it has not expired.
func (c *MemoryCache) Get(_ context.Context, key string) (ModerationResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return ModerationResult{}, false
	}
	if c.expired(e) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && c.expired(cur) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return ModerationResult{}, false
	}
	return e.value.Clone(), true
}

// Set stores value under key. Last writer wins.
func (c *MemoryCache) Set(_ context.Context, key string, value ModerationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value.Clone(), storedAt: c.now()}
	if len(c.entries) > c.maxEntries {
		c.sweepLocked()
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

func (c *MemoryCache) sweepLocked() int {
	removed := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including not-yet-swept stale ones.
func (c *MemoryCache) Len(_ context.Context) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry and returns how many there were.
func (c *MemoryCache) Clear(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// TTL returns the entry lifetime.
func (c *MemoryCache) TTL() time.Duration { return c.ttl }

func (c *MemoryCache) expired(e cacheEntry) bool {
	return c.now().Sub(e.storedAt) > c.ttl
}
