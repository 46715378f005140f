package query

import (
	"errors"
	"sync/atomic"
	"time"
)

var errBoom = errors.New("boom")

func sptr(s string) *string { return &s }

// fakeClock is a manually advanced Clock for deterministic staleness
// and timestamp assertions.
type fakeClock struct{ t atomic.Int64 }

func newFakeClock(start time.Time) *fakeClock {
	c := &fakeClock{}
	c.t.Store(start.UnixNano())
	return c
}

func (c *fakeClock) NowUnixNano() int64      { return c.t.Load() }
func (c *fakeClock) advance(d time.Duration) { c.t.Add(int64(d)) }

// countMetrics records every Metrics signal with atomic counters.
type countMetrics struct {
	hits, misses       atomic.Int64
	added, removed     atomic.Int64
	started, succeeded atomic.Int64
	failed, cancelled  atomic.Int64
	size               atomic.Int64
}

func (m *countMetrics) Hit()            { m.hits.Add(1) }
func (m *countMetrics) Miss()           { m.misses.Add(1) }
func (m *countMetrics) QueryAdded()     { m.added.Add(1) }
func (m *countMetrics) QueryRemoved()   { m.removed.Add(1) }
func (m *countMetrics) Size(n int)      { m.size.Store(int64(n)) }
func (m *countMetrics) FetchStarted()   { m.started.Add(1) }
func (m *countMetrics) FetchSucceeded() { m.succeeded.Add(1) }
func (m *countMetrics) FetchFailed()    { m.failed.Add(1) }
func (m *countMetrics) FetchCancelled() { m.cancelled.Add(1) }

func (m *countMetrics) fetchTerminal() int64 {
	return m.succeeded.Load() + m.failed.Load() + m.cancelled.Load()
}

var _ Metrics = (*countMetrics)(nil)

// newTestCache builds a string/string cache that never garbage
// collects, so tests control entry lifetime explicitly.
func newTestCache(cfg Config[string, string]) *Cache[string, string] {
	if cfg.GCTime == nil {
		cfg.GCTime = Duration(GCNever)
	}
	return New(cfg)
}

// constFn returns a query function that always yields v.
func constFn(v string) QueryFn[string, string] {
	return func(*FetchContext[string, string]) (string, error) { return v, nil }
}
