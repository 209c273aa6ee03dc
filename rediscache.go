package moderate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultRedisPrefix = "moderate:"
	redisScanCount     = 200
)

// RedisCache is a Cache shared across processes. Expiry is delegated to Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client. An empty prefix selects "moderate:".
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get loads and decodes the result stored under key.
func (c *RedisCache) Get(ctx context.Context, key string) (ModerationResult, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("moderate: redis get failed", "key", key, "error", err.Error())
		}
		return ModerationResult{}, false
	}
	var res ModerationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		slog.Warn("moderate: redis entry undecodable", "key", key, "error", err.Error())
		return ModerationResult{}, false
	}
	return res, true
}

// Set encodes value and stores it with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value ModerationResult) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("moderate: redis encode failed", "key", key, "error", err.Error())
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		slog.Warn("moderate: redis set failed", "key", key, "error", err.Error())
	}
}

// Len counts keys under the cache prefix.
func (c *RedisCache) Len(ctx context.Context) int {
	n := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		slog.Warn("moderate: redis scan failed", "error", err.Error())
	}
	return n
}

// Clear deletes every key under the cache prefix and returns how many were removed.
func (c *RedisCache) Clear(ctx context.Context) int {
	removed := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			slog.Warn("moderate: redis del failed", "key", iter.Val(), "error", err.Error())
			continue
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		slog.Warn("moderate: redis scan failed", "error", err.Error())
	}
	return removed
}

// TTL returns the expiry applied to every write.
func (c *RedisCache) TTL() time.Duration { return c.ttl }
