package query

import "time"

// Observer is the per-consumer subscription boundary. The entry calls
// OnQueryUpdate after every transition and consults the remaining
// methods for derived predicates and focus/reconnect refetch policy.
// Observers attach/detach at any time; the entry keeps them in a
// copy-on-write list, so callbacks may detach safely.
type Observer[K comparable, V any] interface {
	// OnQueryUpdate is invoked after every state transition, outside
	// the entry's lock, via the cache's batching scheduler.
	OnQueryUpdate()

	// Enabled resolves whether this observer wants the entry active.
	Enabled(q *Query[K, V]) bool

	// QueryFn returns the observer's query function, or nil. Entries
	// created without a function borrow one from the first attached
	// observer that has one.
	QueryFn() QueryFn[K, V]

	// StaleTime resolves the observer's stale-time for q
	// (StaleTimeStatic means never stale).
	StaleTime(q *Query[K, V]) time.Duration

	// IsStale reports the observer's own computed staleness, which
	// may incorporate enabled state and timing.
	IsStale() bool

	// ShouldRefetchOnFocus reports whether regaining focus should
	// trigger a refetch through this observer.
	ShouldRefetchOnFocus() bool

	// ShouldRefetchOnReconnect reports whether regaining connectivity
	// should trigger a refetch through this observer.
	ShouldRefetchOnReconnect() bool

	// Refetch triggers a non-cancelling refetch through the observer.
	Refetch()
}

// ObserverFuncs is a function-field Observer for consumers that do not
// need a full subscription object (and for tests). Nil fields fall
// back to sensible defaults against Query.
type ObserverFuncs[K comparable, V any] struct {
	// Query the observer is attached to; required for the defaults.
	Query *Query[K, V]

	OnUpdate           func()
	EnabledFn          func(q *Query[K, V]) bool
	Fn                 QueryFn[K, V]
	StaleTimeFn        func(q *Query[K, V]) time.Duration
	IsStaleFn          func() bool
	RefetchOnFocus     bool
	RefetchOnReconnect bool
	RefetchFn          func()
}

// OnQueryUpdate implements Observer.
func (o *ObserverFuncs[K, V]) OnQueryUpdate() {
	if o.OnUpdate != nil {
		o.OnUpdate()
	}
}

// Enabled implements Observer; default true.
func (o *ObserverFuncs[K, V]) Enabled(q *Query[K, V]) bool {
	if o.EnabledFn != nil {
		return o.EnabledFn(q)
	}
	return true
}

// QueryFn implements Observer.
func (o *ObserverFuncs[K, V]) QueryFn() QueryFn[K, V] { return o.Fn }

// StaleTime implements Observer; default is the entry's option.
func (o *ObserverFuncs[K, V]) StaleTime(q *Query[K, V]) time.Duration {
	if o.StaleTimeFn != nil {
		return o.StaleTimeFn(q)
	}
	return q.Options().StaleTime
}

// IsStale implements Observer; default is the entry's own
// staleness-by-time with the resolved stale-time.
func (o *ObserverFuncs[K, V]) IsStale() bool {
	if o.IsStaleFn != nil {
		return o.IsStaleFn()
	}
	if o.Query == nil {
		return true
	}
	return o.Query.IsStaleByTime(o.StaleTime(o.Query))
}

// ShouldRefetchOnFocus implements Observer.
func (o *ObserverFuncs[K, V]) ShouldRefetchOnFocus() bool { return o.RefetchOnFocus }

// ShouldRefetchOnReconnect implements Observer.
func (o *ObserverFuncs[K, V]) ShouldRefetchOnReconnect() bool { return o.RefetchOnReconnect }

// Refetch implements Observer; default starts a plain fetch on the
// attached entry and does not wait for it.
func (o *ObserverFuncs[K, V]) Refetch() {
	if o.RefetchFn != nil {
		o.RefetchFn()
		return
	}
	if o.Query != nil {
		o.Query.Fetch(nil, nil)
	}
}

var _ Observer[string, int] = (*ObserverFuncs[string, int])(nil)
