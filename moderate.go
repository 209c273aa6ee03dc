// Package moderate is a content-moderation decision pipeline for user-generated
// images and their metadata. Independent analyzers (NSFW, plagiarism, quality,
// text) run per item, their results are merged by a deterministic policy into
// a recommendation, and verdicts are cached by content fingerprint.
package moderate

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// ErrMissingImage is the caller input error for a request without an image reference.
var ErrMissingImage = errors.New("moderate: image reference required")

// DefaultProviderTimeout bounds every external classification call.
const DefaultProviderTimeout = 30 * time.Second

// RandomSource supplies the bounded perturbation used by the heuristic analyzers.
// Implementations must be safe for concurrent use.
type RandomSource interface {
	Float64() float64
}

// RandomFunc adapts a function to RandomSource.
type RandomFunc func() float64

// Float64 calls f.
func (f RandomFunc) Float64() float64 { return f() }

// Config holds all dependencies injected by the consumer.
// Zero values select in-process defaults.
type Config struct {
	HTTPClient      *http.Client  // image downloads and provider calls (nil = client following at most 3 redirects)
	UserAgent       string        // default: "Mozilla/5.0 (compatible; go-moderate/1.0)"
	FetchTimeout    time.Duration // per image download (default: 30s)
	ProviderTimeout time.Duration // per provider call (default: 30s)

	// Provider is the external NSFW classifier. Nil selects heuristic mode.
	Provider NSFWProvider

	Cache      Cache          // nil = MemoryCache with 24h TTL
	Thresholds ThresholdStore // nil = registry seeded with DefaultThresholds
	Random     RandomSource   // nil = math/rand/v2
	Monitor    *Monitor       // nil = unregistered monitor

	// HashIndex holds perceptual hashes of known images for plagiarism matching.
	HashIndex *HashIndex

	// ExtraStockDomains are additional hosts treated as stock-photo sources.
	ExtraStockDomains []string

	// BannedKeywords and SpamKeywords replace the built-in text lists when non-empty.
	BannedKeywords []string
	SpamKeywords   []string

	// OnPanic is called with the recovered value when an analyzer or batch item panics.
	OnPanic func(tag string, r any)

	// Now overrides the clock used for CheckedAt.
	Now func() time.Time
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; go-moderate/1.0)"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = newFetchClient()
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultTimeout
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.Cache == nil {
		c.Cache = NewMemoryCache(DefaultCacheTTL, DefaultCacheMaxEntries)
	}
	if c.Thresholds == nil {
		c.Thresholds = NewThresholdRegistry(DefaultThresholds)
	}
	if c.Random == nil {
		c.Random = RandomFunc(rand.Float64)
	}
	if c.Monitor == nil {
		c.Monitor = NewMonitor(nil)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
