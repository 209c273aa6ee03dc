package moderate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// latencyWindow is how many recent aggregations the rolling average covers.
const latencyWindow = 100

// PerformanceSnapshot is a point-in-time copy of the monitor counters.
type PerformanceSnapshot struct {
	Requests         int64   `json:"requests"`
	CacheHits        int64   `json:"cacheHits"`
	CacheMisses      int64   `json:"cacheMisses"`
	Errors           int64   `json:"errors"`
	ErrorRate        float64 `json:"errorRate"`
	CacheHitRate     float64 `json:"cacheHitRate"`
	AverageLatencyMs float64 `json:"averageLatencyMs"`
}

// Monitor counts requests, cache hits and degraded results, and keeps a
// rolling average of aggregation latency. Counters are mirrored to Prometheus
// when the monitor is created with a registerer.
type Monitor struct {
	mu        sync.Mutex
	requests  int64
	hits      int64
	misses    int64
	errors    int64
	latencies [latencyWindow]time.Duration
	next      int
	filled    int

	promRequests  prometheus.Counter
	promCache     *prometheus.CounterVec
	promErrors    prometheus.Counter
	promLatency   prometheus.Histogram
	promDecisions *prometheus.CounterVec
}

// NewMonitor creates a monitor. A nil registerer keeps the collectors
// unregistered; they still count.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		promRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderate_requests_total",
			Help: "Total number of moderation requests",
		}),
		promCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderate_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderate_errors_total",
			Help: "Moderation passes that ended in a degraded result",
		}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderate_aggregation_seconds",
			Help:    "Wall-clock time of uncached moderation passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		promDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderate_recommendations_total",
			Help: "Moderation results by recommendation",
		}, []string{"recommendation"}),
	}
	if reg != nil {
		reg.MustRegister(m.promRequests, m.promCache, m.promErrors, m.promLatency, m.promDecisions)
	}
	return m
}

// RecordRequest counts one moderation request.
func (m *Monitor) RecordRequest() {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
	m.promRequests.Inc()
}

// RecordCache counts a cache lookup.
func (m *Monitor) RecordCache(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
	if hit {
		m.promCache.WithLabelValues("hit").Inc()
	} else {
		m.promCache.WithLabelValues("miss").Inc()
	}
}

// RecordError counts a degraded result.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
	m.promErrors.Inc()
}

// RecordResult counts a finished pass by recommendation and, for computed
// results, adds its latency to the rolling window.
func (m *Monitor) RecordResult(rec Recommendation, d time.Duration, computed bool) {
	m.promDecisions.WithLabelValues(string(rec)).Inc()
	if !computed {
		return
	}
	m.mu.Lock()
	m.latencies[m.next] = d
	m.next = (m.next + 1) % latencyWindow
	if m.filled < latencyWindow {
		m.filled++
	}
	m.mu.Unlock()
	m.promLatency.Observe(d.Seconds())
}

// Snapshot returns the current counters.
func (m *Monitor) Snapshot() PerformanceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := PerformanceSnapshot{
		Requests:    m.requests,
		CacheHits:   m.hits,
		CacheMisses: m.misses,
		Errors:      m.errors,
	}
	if m.requests > 0 {
		s.ErrorRate = float64(m.errors) / float64(m.requests)
	}
	if lookups := m.hits + m.misses; lookups > 0 {
		s.CacheHitRate = float64(m.hits) / float64(lookups)
	}
	if m.filled > 0 {
		var total time.Duration
		for i := 0; i < m.filled; i++ {
			total += m.latencies[i]
		}
		s.AverageLatencyMs = float64(total) / float64(m.filled) / float64(time.Millisecond)
	}
	return s
}
