// Package engine is the composition root for the ad/tracker filtering
// library: it owns the atomically-swapped RuleSet, the decision cache, the
// Statistics and Metrics components, and the small always-consulted
// custom-rule layer, and exposes the create/destroy/should_block/
// load_filter_list/get_statistics/reset_statistics/get_performance_metrics/
// add_custom_rule surface the FFI layer wraps.
//
// Grounded on the construct-one-cache/one-set-of-Prometheus-collectors/
// one-Logger-at-startup-and-thread-them-through-every-handler composition
// shape, generalized from a single long-lived HTTP process to a library
// Engine that may be created and destroyed many times within one host
// process.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridianmobile/adfilter/internal/cache"
	"github.com/meridianmobile/adfilter/internal/matcher"
	"github.com/meridianmobile/adfilter/internal/metrics"
	"github.com/meridianmobile/adfilter/internal/rule"
	"github.com/meridianmobile/adfilter/internal/ruleset"
	"github.com/meridianmobile/adfilter/internal/stats"
	"github.com/meridianmobile/adfilter/internal/updater"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a new Engine. All fields are optional; the zero Config
// produces an Engine with sane defaults.
type Config struct {
	Logger         *slog.Logger
	CacheCapacity  int
	Registerer     prometheus.Registerer // nil disables Prometheus registration
	RecentCapacity int
}

// Engine is the library's top-level handle, created once by an embedder.
// Safe for concurrent use by every method. LoadFilterList and RunUpdate
// publish a new RuleSet with an atomic pointer store and take no lock;
// AddCustomRule serializes behind customMu; the cache and Statistics
// synchronize internally.
type Engine struct {
	logger *slog.Logger

	active atomic.Pointer[ruleset.RuleSet]
	custom atomic.Pointer[ruleset.RuleSet] // add_custom_rule layer

	customMu    sync.Mutex
	customRules []*rule.Rule // source vector backing `custom`, since RuleSet discards its own

	cache   *cache.Cache
	stats   *stats.Statistics
	metrics *metrics.Metrics

	createdAt time.Time
}

// New constructs an Engine (the adblock_engine_create entry point). The
// Engine starts with an empty RuleSet: should_block allows everything until
// LoadFilterList is called.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(nopWriter{}, nil))
	}
	logger = logger.WithGroup("engine")

	e := &Engine{
		logger:    logger,
		cache:     cache.New(cfg.CacheCapacity),
		stats:     stats.New(logger, statsOptions(cfg)...),
		metrics:   metrics.New(cfg.Registerer),
		createdAt: time.Now(),
	}
	e.active.Store(ruleset.Empty())
	e.custom.Store(ruleset.Empty())
	e.metrics.SetFilterCount(0)
	return e
}

func statsOptions(cfg Config) []stats.Option {
	if cfg.RecentCapacity <= 0 {
		return nil
	}
	return []stats.Option{stats.WithRecentCapacity(cfg.RecentCapacity)}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Close releases the Engine's resources. Go's garbage collector reclaims
// the RuleSet snapshots and cache once the last reference drops; Close
// exists so FFI destroy calls have a concrete point to log against and so
// callers have a place to release future non-GC resources (e.g. an
// updater's background ticker) without relying on a finalizer.
func (e *Engine) Close() error {
	e.logger.Info("engine closed", "uptime", time.Since(e.createdAt).String())
	return nil
}

// ShouldBlock implements should_block(url): check cache, evaluate against
// the active RuleSet plus the custom-rule layer on a miss, cache the
// result, and record both Statistics and Metrics. Never returns an error: a
// malformed url just fails to match anything.
func (e *Engine) ShouldBlock(url string) matcher.Decision {
	start := time.Now()

	n := matcher.Normalize(url)

	if d, ok := e.cache.Get(url); ok {
		e.metrics.RecordDecision(time.Since(start).Nanoseconds(), d.ShouldBlock, true)
		e.recordStats(n.Host, d)
		return d
	}

	rs := e.active.Load()
	d := matcher.Evaluate(rs, n, e.metrics)

	if !d.ShouldBlock {
		if cd := matcher.Evaluate(e.custom.Load(), n, e.metrics); cd.ShouldBlock {
			d = cd
		}
	}

	e.cache.Set(url, d)
	e.recordStats(n.Host, d)
	e.metrics.RecordDecision(time.Since(start).Nanoseconds(), d.ShouldBlock, false)

	return d
}

// recordStats updates Statistics for one should_block verdict, whether it
// came from a fresh evaluation or a cache hit: every should_block call is
// counted, not just the ones that missed the decision cache.
func (e *Engine) recordStats(host string, d matcher.Decision) {
	if d.ShouldBlock {
		e.stats.RecordBlock(host, time.Now())
	} else {
		e.stats.RecordAllow(host, time.Now())
	}
}

// LoadFilterList compiles text into a new RuleSet and atomically swaps it in
// (the adblock_engine_load_filter_list entry point), invalidating the
// decision cache so no stale verdict from the previous RuleSet can be
// served. Returns the compiled RuleSet's parse-error count.
func (e *Engine) LoadFilterList(text string) int {
	res := rule.Parse(e.logger, text)
	rs := ruleset.Compile(e.logger, res.Rules, res.ParseErrors)

	e.active.Store(rs)
	e.cache.Clear()
	e.metrics.SetFilterCount(rs.RuleCount())
	e.metrics.IncParseErrors(rs.ParseErrors())

	e.logger.Info("filter list loaded", "rules", rs.RuleCount(), "parse_errors", rs.ParseErrors())
	return rs.ParseErrors()
}

// AddCustomRule compiles one extra EasyList line into the always-consulted
// custom layer, letting embedders add ad-hoc rules that survive a
// filter-list reload. The custom layer is merged into the previous custom
// RuleSet's rule vector, not replaced, so earlier custom rules are never
// lost by a later call; it does not persist across Engine restarts.
func (e *Engine) AddCustomRule(line string) error {
	res := rule.Parse(e.logger, line)
	if len(res.Rules) == 0 {
		return fmt.Errorf("engine: %q did not parse into a rule", line)
	}

	e.customMu.Lock()
	e.customRules = append(e.customRules, res.Rules...)
	rs := ruleset.Compile(e.logger, e.customRules, 0)
	e.customMu.Unlock()

	e.custom.Store(rs)
	e.cache.Clear()
	return nil
}

// GetStatistics returns the Statistics payload.
func (e *Engine) GetStatistics() stats.JSON { return e.stats.Snapshot() }

// ResetStatistics clears Statistics; it does not affect Metrics or the
// active RuleSet.
func (e *Engine) ResetStatistics() { e.stats.Reset() }

// GetPerformanceMetrics returns the Metrics payload.
func (e *Engine) GetPerformanceMetrics() metrics.Snapshot {
	return e.metrics.Snapshot(uint64(e.cache.Len()))
}

// RunUpdate drives one updater.Update cycle and, on success, loads the
// merged rule vector as the active RuleSet, repeating LoadFilterList's
// swap-and-invalidate steps (store, cache clear, filter count). Returns the
// updater's metadata (source used, per-source rule counts) for callers that
// want to surface it.
func (e *Engine) RunUpdate(ctx context.Context, u *updater.Updater) (*updater.Meta, error) {
	res, err := u.Update(ctx, e.logger)
	if err != nil {
		return nil, err
	}

	rs := ruleset.Compile(e.logger, res.Rules, 0)
	e.active.Store(rs)
	e.cache.Clear()
	e.metrics.SetFilterCount(rs.RuleCount())

	e.logger.Info("engine applied updater result", "rules", rs.RuleCount(), "source", res.Meta.SourceURL)
	return &res.Meta, nil
}
