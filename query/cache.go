package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sukvvon/query/internal/notify"
	"github.com/sukvvon/query/internal/util"
)

// EventType tags a cache notification.
type EventType int

const (
	EventQueryAdded EventType = iota
	EventQueryRemoved
	EventQueryUpdated
	EventObserverAdded
	EventObserverRemoved
)

// String returns the stable label used by subscribers.
func (t EventType) String() string {
	switch t {
	case EventQueryAdded:
		return "added"
	case EventQueryRemoved:
		return "removed"
	case EventObserverAdded:
		return "observerAdded"
	case EventObserverRemoved:
		return "observerRemoved"
	default:
		return "updated"
	}
}

// Event is delivered to cache subscribers after entry lifecycle and
// state changes. Observer is set for observer events; Action carries
// the reducer action kind for EventQueryUpdated.
type Event[K comparable, V any] struct {
	Type     EventType
	Query    *Query[K, V]
	Observer Observer[K, V]
	Action   string
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Config configures a Cache. Zero values are safe; defaults are
// applied in New.
type Config[K comparable, V any] struct {
	// DefaultOptions are the base layer under every entry's options.
	DefaultOptions Options[K, V]

	// GCTime is the default removal delay for entries whose options
	// do not set one. nil means DefaultGCTime.
	GCTime *time.Duration

	// Lifecycle callbacks, invoked after every terminal fetch outcome.
	// Skipped entirely for cancellations.
	OnSuccess func(data *V, q *Query[K, V])
	OnError   func(err error, q *Query[K, V])
	OnSettled func(data *V, err error, q *Query[K, V])

	// Metrics receives cache observability signals; nil => NoopMetrics.
	Metrics Metrics

	// Clock overrides the time source (tests). nil => time.Now().
	Clock Clock

	// Scheduler is the notification batching boundary; nil installs
	// the default coalescing batcher.
	Scheduler notify.Scheduler

	// Shards is the number of index partitions. 0 picks an automatic
	// value; any other value is rounded up to a power of two.
	Shards int
}

// Cache is the multi-key index: it creates and removes entries,
// routes global notifications, and fans focus/online signals out to
// every entry. All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	cfg    Config[K, V]
	shards []*cacheShard[K, V]
	online atomic.Bool

	subMu  sync.Mutex
	subs   map[uint64]func(Event[K, V])
	nextID uint64
}

// cacheShard is an independent partition of the index with its own
// lock and map.
type cacheShard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*Query[K, V]

	// hot counters on their own cache lines
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	builds util.PaddedAtomicInt64
}

// New constructs a Cache with the provided Config.
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = &notify.Batcher{}
	}
	sh := cfg.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}
	c := &Cache[K, V]{
		cfg:    cfg,
		shards: make([]*cacheShard[K, V], sh),
		subs:   make(map[uint64]func(Event[K, V])),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard[K, V]{m: make(map[K]*Query[K, V])}
	}
	c.online.Store(true)
	return c
}

func (c *Cache[K, V]) shard(k K) *cacheShard[K, V] {
	return c.shards[util.ShardIndex(util.Fnv64a(k), len(c.shards))]
}

func (c *Cache[K, V]) scheduler() notify.Scheduler { return c.cfg.Scheduler }

func (c *Cache[K, V]) metrics() Metrics { return c.cfg.Metrics }

func (c *Cache[K, V]) nowUnixNano() int64 {
	if c.cfg.Clock != nil {
		return c.cfg.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// GetOrCreate returns the entry for key, building it (with the cache
// defaults merged under opts) if absent. An existing entry absorbs
// opts via SetOptions.
func (c *Cache[K, V]) GetOrCreate(key K, opts *Options[K, V]) *Query[K, V] {
	return c.build(key, opts, nil)
}

// Restore builds the entry for key with a caller-supplied snapshot
// (hydration). Existing entries are returned unchanged.
func (c *Cache[K, V]) Restore(key K, opts *Options[K, V], state State[V]) *Query[K, V] {
	return c.build(key, opts, &state)
}

func (c *Cache[K, V]) build(key K, opts *Options[K, V], state *State[V]) *Query[K, V] {
	s := c.shard(key)

	s.mu.RLock()
	q, ok := s.m[key]
	s.mu.RUnlock()
	if ok {
		s.hits.Add(1)
		if opts != nil {
			q.SetOptions(opts)
		}
		return q
	}

	s.mu.Lock()
	if q, ok = s.m[key]; ok {
		s.mu.Unlock()
		s.hits.Add(1)
		if opts != nil {
			q.SetOptions(opts)
		}
		return q
	}
	q = newQuery(c, key, opts, state)
	s.m[key] = q
	s.mu.Unlock()
	s.builds.Add(1)

	c.cfg.Metrics.QueryAdded()
	c.cfg.Metrics.Size(c.Len())
	c.notify(Event[K, V]{Type: EventQueryAdded, Query: q})
	return q
}

// Get returns the entry for key and a presence flag, without building.
func (c *Cache[K, V]) Get(key K) (*Query[K, V], bool) {
	s := c.shard(key)
	s.mu.RLock()
	q, ok := s.m[key]
	s.mu.RUnlock()
	return q, ok
}

// Remove drops q from the index and destroys it (cancelling any
// in-flight operation silently). Safe to call with an entry that was
// already replaced or removed.
func (c *Cache[K, V]) Remove(q *Query[K, V]) {
	s := c.shard(q.key)
	s.mu.Lock()
	cur, ok := s.m[q.key]
	if ok && cur == q {
		delete(s.m, q.key)
	}
	s.mu.Unlock()

	q.Destroy()
	if ok && cur == q {
		c.cfg.Metrics.QueryRemoved()
		c.cfg.Metrics.Size(c.Len())
		c.notify(Event[K, V]{Type: EventQueryRemoved, Query: q})
	}
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.cfg.Scheduler.Batch(func() {
		for _, q := range c.All() {
			c.Remove(q)
		}
	})
}

// Len returns the number of resident entries across all shards.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// All returns a snapshot of every resident entry.
func (c *Cache[K, V]) All() []*Query[K, V] {
	var out []*Query[K, V]
	for _, s := range c.shards {
		s.mu.RLock()
		for _, q := range s.m {
			out = append(out, q)
		}
		s.mu.RUnlock()
	}
	return out
}

// Find returns the first resident entry matching pred. Iteration
// order is unspecified; use a predicate that identifies the entry
// uniquely, or FindAll.
func (c *Cache[K, V]) Find(pred func(*Query[K, V]) bool) (*Query[K, V], bool) {
	for _, s := range c.shards {
		s.mu.RLock()
		for _, q := range s.m {
			if pred(q) {
				s.mu.RUnlock()
				return q, true
			}
		}
		s.mu.RUnlock()
	}
	return nil, false
}

// FindAll returns every resident entry matching pred.
func (c *Cache[K, V]) FindAll(pred func(*Query[K, V]) bool) []*Query[K, V] {
	var out []*Query[K, V]
	for _, q := range c.All() {
		if pred(q) {
			out = append(out, q)
		}
	}
	return out
}

// Subscribe registers fn for cache events and returns the
// unsubscribe function. Delivery goes through the batching scheduler,
// so events raised inside one logical operation arrive as one burst.
func (c *Cache[K, V]) Subscribe(fn func(Event[K, V])) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache[K, V]) notify(e Event[K, V]) {
	c.cfg.Scheduler.Schedule(func() {
		c.subMu.Lock()
		fns := make([]func(Event[K, V]), 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.subMu.Unlock()
		for _, fn := range fns {
			fn(e)
		}
	})
}

// ---- focus / online ----

// IsOnline reports the cache's connectivity switch (default true).
func (c *Cache[K, V]) IsOnline() bool { return c.online.Load() }

// SetOnline flips the connectivity switch. Coming back online resumes
// paused operations and triggers reconnect refetches.
func (c *Cache[K, V]) SetOnline(online bool) {
	was := c.online.Swap(online)
	if online && !was {
		c.OnOnline()
	}
}

// OnFocus forwards a focus-regained signal to every entry.
func (c *Cache[K, V]) OnFocus() {
	c.cfg.Scheduler.Batch(func() {
		for _, q := range c.All() {
			q.OnFocus()
		}
	})
}

// OnOnline forwards a connectivity-regained signal to every entry.
func (c *Cache[K, V]) OnOnline() {
	c.cfg.Scheduler.Batch(func() {
		for _, q := range c.All() {
			q.OnOnline()
		}
	})
}

// ---- conveniences ----

// GetQueryData returns the entry's current data, if any.
func (c *Cache[K, V]) GetQueryData(key K) (*V, bool) {
	q, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	return q.State().Data, true
}

// SetQueryData manually writes data for key, building the entry if
// needed. The write is marked manual: it does not disturb an in-flight
// fetch.
func (c *Cache[K, V]) SetQueryData(key K, v V) (*Query[K, V], error) {
	q := c.GetOrCreate(key, nil)
	if _, err := q.SetData(v, nil); err != nil {
		return nil, err
	}
	return q, nil
}

// FetchQuery returns fresh data for key: the resident value if it is
// within its stale-time, otherwise the result of a (possibly shared)
// fetch. Concurrent callers for the same key coalesce onto one
// operation.
func (c *Cache[K, V]) FetchQuery(ctx context.Context, key K, opts *Options[K, V]) (V, error) {
	q := c.GetOrCreate(key, opts)
	staleTime := q.Options().StaleTime
	if data := q.State().Data; data != nil && !q.IsStaleByTime(staleTime) {
		c.cfg.Metrics.Hit()
		return *data, nil
	}
	c.cfg.Metrics.Miss()
	data, err := q.Fetch(opts, nil).Wait(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	if data == nil {
		var zero V
		return zero, ErrUndefinedResult
	}
	return *data, nil
}
