// Package metrics implements the Engine's lock-free performance counters,
// separate from internal/stats. Every update is a single atomic operation;
// Snapshot reads each counter once and accepts the small cross-field skew
// that implies under concurrent writers.
//
// Grounded on the Prometheus collector registration idiom
// (promauto.NewCounterVec/NewHistogram) used for cache hit/miss-by-host+path
// counters elsewhere in this codebase: the same idiom is reused here,
// generalized to the full Metrics set, and mirrored into atomic counters for
// the FFI-facing zero-allocation hot path.
package metrics

import (
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the atomic performance counters the Engine exposes.
// Construct it with New, which seeds the minimum-duration counter; a zero
// Metrics never records a minimum and reports min_processing_time_ns as 0.
type Metrics struct {
	totalRequests     atomic.Uint64
	blockedRequests   atomic.Uint64
	totalProcessingNS atomic.Uint64
	maxNS             atomic.Uint64
	minNS             atomic.Uint64
	filterCount       atomic.Uint64
	memoryUsageBytes  atomic.Uint64
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	parseErrors       atomic.Uint64
	matchErrors       atomic.Uint64

	prom promCollectors
}

type promCollectors struct {
	requests    prometheus.Counter
	blocked     prometheus.Counter
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	parseErrors prometheus.Counter
	matchErrors prometheus.Counter
	decisionDur prometheus.Histogram
}

// New constructs a Metrics instance and registers its Prometheus mirror
// collectors against reg. Passing nil skips Prometheus registration
// entirely (used by tests, and by embedders that never start the
// cmd/filterctl debug server and so never scrape /metrics).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.minNS.Store(math.MaxUint64)

	if reg == nil {
		return m
	}

	factory := promauto.With(reg)
	m.prom = promCollectors{
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "adfilter_requests_total",
			Help: "Total should_block decisions made.",
		}),
		blocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "adfilter_blocked_total",
			Help: "Total should_block decisions that resulted in a block.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "adfilter_cache_hits_total",
			Help: "Decision cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "adfilter_cache_misses_total",
			Help: "Decision cache misses.",
		}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "adfilter_parse_errors_total",
			Help: "Filter list lines dropped for failing to parse.",
		}),
		matchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "adfilter_match_errors_total",
			Help: "Candidate matches whose post-filter verification hit a broken internal invariant.",
		}),
		decisionDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "adfilter_decision_duration_seconds",
			Help:    "should_block wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12), // 100ns .. ~420ms
		}),
	}
	return m
}

// RecordDecision updates timing + request/blocked counters for one
// should_block call. dur is the wall-clock time of the whole call,
// including any cache lookup.
func (m *Metrics) RecordDecision(dur int64, blocked bool, cacheHit bool) {
	m.totalRequests.Add(1)
	if blocked {
		m.blockedRequests.Add(1)
	}

	ns := uint64(dur)
	m.totalProcessingNS.Add(ns)
	casMax(&m.maxNS, ns)
	casMin(&m.minNS, ns)

	if cacheHit {
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}

	if m.prom.requests != nil {
		m.prom.requests.Inc()
		if blocked {
			m.prom.blocked.Inc()
		}
		if cacheHit {
			m.prom.cacheHits.Inc()
		} else {
			m.prom.cacheMisses.Inc()
		}
		m.prom.decisionDur.Observe(float64(dur) / 1e9)
	}
}

// IncParseErrors counts n dropped filter-list lines; n <= 0 is a no-op.
func (m *Metrics) IncParseErrors(n int) {
	if n <= 0 {
		return
	}
	m.parseErrors.Add(uint64(n))
	if m.prom.parseErrors != nil {
		m.prom.parseErrors.Add(float64(n))
	}
}

// IncMatchErrors counts one candidate whose post-filter verification hit a
// broken internal invariant (an ordinary non-match is not counted).
func (m *Metrics) IncMatchErrors() {
	m.matchErrors.Add(1)
	if m.prom.matchErrors != nil {
		m.prom.matchErrors.Inc()
	}
}

// SetFilterCount records the rule count of the currently active RuleSet.
func (m *Metrics) SetFilterCount(n int) { m.filterCount.Store(uint64(n)) }

// SetMemoryUsageBytes records an approximate resident memory figure
// (typically sourced from runtime.MemStats by the caller).
func (m *Metrics) SetMemoryUsageBytes(n uint64) { m.memoryUsageBytes.Store(n) }

func casMax(addr *atomic.Uint64, v uint64) {
	for {
		cur := addr.Load()
		if v <= cur {
			return
		}
		if addr.CompareAndSwap(cur, v) {
			return
		}
	}
}

func casMin(addr *atomic.Uint64, v uint64) {
	for {
		cur := addr.Load()
		if v >= cur {
			return
		}
		if addr.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Snapshot is a consistent-enough point-in-time view of every counter,
// shaped for direct JSON serving with stable, caller-facing field names.
type Snapshot struct {
	TotalRequests        uint64  `json:"total_requests"`
	BlockedRequests      uint64  `json:"blocked_requests"`
	AllowedRequests      uint64  `json:"allowed_requests"`
	AvgProcessingTimeNS  float64 `json:"avg_processing_time_ns"`
	MaxProcessingTimeNS  uint64  `json:"max_processing_time_ns"`
	MinProcessingTimeNS  uint64  `json:"min_processing_time_ns"`
	FilterCount          uint64  `json:"filter_count"`
	MemoryUsageBytes     uint64  `json:"memory_usage_bytes"`
	ParseErrors          uint64  `json:"parse_errors"`
	MatchErrors          uint64  `json:"match_errors"`
	CacheHits            uint64  `json:"cache_hits"`
	CacheMisses          uint64  `json:"cache_misses"`
	CacheSize            uint64  `json:"cache_size"`
	BlockRate            float64 `json:"block_rate"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
}

// Snapshot reads every counter once. cacheSize is supplied by the caller
// (internal/cache owns its own size accounting; Metrics doesn't reach into
// it) so Snapshot never needs a cross-package lock.
func (m *Metrics) Snapshot(cacheSize uint64) Snapshot {
	total := m.totalRequests.Load()
	blocked := m.blockedRequests.Load()
	totalNS := m.totalProcessingNS.Load()
	minNS := m.minNS.Load()
	if minNS == math.MaxUint64 {
		minNS = 0
	}

	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()

	var avg float64
	if total > 0 {
		avg = float64(totalNS) / float64(total)
	}
	var blockRate float64
	if total > 0 {
		blockRate = float64(blocked) / float64(total)
	}
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Snapshot{
		TotalRequests:       total,
		BlockedRequests:     blocked,
		AllowedRequests:     total - blocked,
		AvgProcessingTimeNS: avg,
		MaxProcessingTimeNS: m.maxNS.Load(),
		MinProcessingTimeNS: minNS,
		FilterCount:         m.filterCount.Load(),
		MemoryUsageBytes:    m.memoryUsageBytes.Load(),
		ParseErrors:         m.parseErrors.Load(),
		MatchErrors:         m.matchErrors.Load(),
		CacheHits:           hits,
		CacheMisses:         misses,
		CacheSize:           cacheSize,
		BlockRate:           blockRate,
		CacheHitRate:        hitRate,
	}
}
