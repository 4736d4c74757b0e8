// Package stats implements the Engine's Statistics component: blocked/
// allowed counters, per-domain tallies, and a ring buffer of the most
// recently blocked hosts. Unlike internal/metrics, Statistics survives
// filter-list reloads and is reset only via an explicit call.
//
// Grounded on the slog-scoped-component-guarding-a-map-with-a-sync.RWMutex
// shape used for TTL-keyed caching elsewhere in this codebase, generalized
// from "per host+path TTL entries" to "per-host blocked/allowed tallies"
// plus a ring buffer for recent activity.
package stats

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRecentCapacity is the default size of the recent-decisions ring.
const DefaultRecentCapacity = 100

// DefaultDataSavedPerBlockBytes is the fixed per-block estimate used for the
// data-saved figure: a constant rather than an observed response size, since
// a blocked request's actual payload size is never fetched.
const DefaultDataSavedPerBlockBytes = 1024

// DomainTally holds the blocked/allowed counts for one host.
type DomainTally struct {
	Blocked uint64
	Allowed uint64
}

// RecentEntry is one entry in the recent-decisions ring.
type RecentEntry struct {
	Host      string
	Blocked   bool
	Timestamp time.Time
}

// Statistics is safe for concurrent use: scalar counters are atomic: the
// per-domain map and ring buffer are guarded by a mutex, matching the
// teacher's InMemoryCache shape.
type Statistics struct {
	logger *slog.Logger

	blockedCount   atomic.Uint64
	allowedCount   atomic.Uint64
	dataSavedBytes atomic.Uint64

	dataSavedPerBlock uint64
	recentCapacity    int

	mu        sync.RWMutex
	perDomain map[string]*DomainTally
	recent    []RecentEntry // ring, oldest overwritten first
	recentPos int
}

// Option configures New.
type Option func(*Statistics)

// WithRecentCapacity overrides DefaultRecentCapacity.
func WithRecentCapacity(n int) Option {
	return func(s *Statistics) { s.recentCapacity = n }
}

// WithDataSavedPerBlock overrides DefaultDataSavedPerBlockBytes.
func WithDataSavedPerBlock(n uint64) Option {
	return func(s *Statistics) { s.dataSavedPerBlock = n }
}

// New constructs a Statistics instance. Its lifetime matches the Engine's:
// created once, survives RuleSet reloads, cleared only by Reset.
func New(logger *slog.Logger, opts ...Option) *Statistics {
	s := &Statistics{
		logger:            logger.WithGroup("stats"),
		perDomain:         make(map[string]*DomainTally),
		recentCapacity:    DefaultRecentCapacity,
		dataSavedPerBlock: DefaultDataSavedPerBlockBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recent = make([]RecentEntry, 0, s.recentCapacity)
	return s
}

// RecordBlock records a blocked decision for host.
func (s *Statistics) RecordBlock(host string, at time.Time) {
	s.blockedCount.Add(1)
	s.dataSavedBytes.Add(s.dataSavedPerBlock)

	s.mu.Lock()
	s.tallyLocked(host, true)
	s.pushRecentLocked(RecentEntry{Host: host, Blocked: true, Timestamp: at})
	s.mu.Unlock()
}

// RecordAllow records an allowed decision for host.
func (s *Statistics) RecordAllow(host string, at time.Time) {
	s.allowedCount.Add(1)

	s.mu.Lock()
	s.tallyLocked(host, false)
	s.mu.Unlock()
}

func (s *Statistics) tallyLocked(host string, blocked bool) {
	t, ok := s.perDomain[host]
	if !ok {
		t = &DomainTally{}
		s.perDomain[host] = t
	}
	if blocked {
		t.Blocked++
	} else {
		t.Allowed++
	}
}

func (s *Statistics) pushRecentLocked(e RecentEntry) {
	if s.recentCapacity <= 0 {
		return
	}
	if len(s.recent) < s.recentCapacity {
		s.recent = append(s.recent, e)
		return
	}
	s.recent[s.recentPos] = e
	s.recentPos = (s.recentPos + 1) % s.recentCapacity
}

// BlockedCount returns the monotonic-since-reset blocked total.
func (s *Statistics) BlockedCount() uint64 { return s.blockedCount.Load() }

// AllowedCount returns the monotonic-since-reset allowed total.
func (s *Statistics) AllowedCount() uint64 { return s.allowedCount.Load() }

// DataSavedBytes returns the cumulative estimated bytes saved by blocking.
func (s *Statistics) DataSavedBytes() uint64 { return s.dataSavedBytes.Load() }

// PerDomain returns a snapshot copy of the per-domain tally map.
func (s *Statistics) PerDomain() map[string]DomainTally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]DomainTally, len(s.perDomain))
	for host, t := range s.perDomain {
		out[host] = *t
	}
	return out
}

// Recent returns a snapshot copy of the ring buffer, oldest first.
func (s *Statistics) Recent() []RecentEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecentEntry, len(s.recent))
	if len(s.recent) < s.recentCapacity {
		copy(out, s.recent)
		return out
	}
	// ring is full: recentPos is the index of the oldest entry
	copy(out, s.recent[s.recentPos:])
	copy(out[len(s.recent)-s.recentPos:], s.recent[:s.recentPos])
	return out
}

// Reset clears every field. The per-domain map and the ring are cleared
// under the mutex; the scalar counters are zeroed one by one after it is
// released, and Snapshot reads them without the mutex, so a concurrent
// reader can see an emptied map alongside counters not yet zeroed.
func (s *Statistics) Reset() {
	s.mu.Lock()
	s.perDomain = make(map[string]*DomainTally)
	s.recent = s.recent[:0]
	s.recentPos = 0
	s.mu.Unlock()

	s.blockedCount.Store(0)
	s.allowedCount.Store(0)
	s.dataSavedBytes.Store(0)
	s.logger.Info("statistics reset")
}

// JSON is the shape get_stats serves, with stable, caller-facing field
// names.
type JSON struct {
	BlockedCount uint64  `json:"blockedCount"`
	AllowedCount uint64  `json:"allowedCount"`
	DataSaved    uint64  `json:"dataSaved"`
	BlockRate    float64 `json:"blockRate"`
}

// Snapshot returns the JSON payload shape for get_stats.
func (s *Statistics) Snapshot() JSON {
	blocked := s.blockedCount.Load()
	allowed := s.allowedCount.Load()
	var rate float64
	if total := blocked + allowed; total > 0 {
		rate = float64(blocked) / float64(total)
	}
	return JSON{
		BlockedCount: blocked,
		AllowedCount: allowed,
		DataSaved:    s.dataSavedBytes.Load(),
		BlockRate:    rate,
	}
}
