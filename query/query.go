package query

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sukvvon/query/internal/util"
	"github.com/sukvvon/query/retry"
)

// ErrNoQueryFn is recorded when a fetch starts on an entry that has no
// query function and no attached observer supplies one.
var ErrNoQueryFn = errors.New("query: no query function available")

// ErrUndefinedResult is recorded when a fetch path yields no data
// without reporting an error. A resource cache must never store
// "no value" as success.
var ErrUndefinedResult = errors.New("query: query function returned no data")

// Query is the per-key entry: it owns one key's persisted snapshot,
// coordinates at most one in-flight fetch, fans every transition out
// to attached observers and the cache, and schedules its own removal
// once unobserved.
//
// All methods are safe for concurrent use. Transitions are strictly
// sequential: one action is fully applied before the next is accepted.
type Query[K comparable, V any] struct {
	key   K
	hash  string
	cache *Cache[K, V]

	removable

	mu           sync.Mutex
	opts         Options[K, V]
	state        State[V]
	initialState State[V]
	revertState  *State[V]
	observers    []Observer[K, V] // copy-on-write
	retryer      *retry.Retryer[*V]
	consumed     *atomic.Bool // abort-context consumption of the live fetch
}

func newQuery[K comparable, V any](c *Cache[K, V], key K, opts *Options[K, V], state *State[V]) *Query[K, V] {
	q := &Query[K, V]{
		key:   key,
		hash:  util.KeyString(key),
		cache: c,
	}
	q.opts = c.cfg.DefaultOptions.merge(opts)
	q.removable.gcTime = q.opts.gcTime(c.cfg.GCTime)
	// initialState is always derived from the options; a restored
	// snapshot seeds only the live state, so Reset returns the entry
	// to its configured default rather than the hydrated data.
	q.initialState = newInitialState(q.opts, q.now)
	if state != nil {
		q.state = *state
	} else {
		q.state = q.initialState
	}
	q.scheduleGC()
	return q
}

// Key returns the entry's key.
func (q *Query[K, V]) Key() K { return q.key }

// Hash returns the canonical string form of the key.
func (q *Query[K, V]) Hash() string { return q.hash }

// State returns the current snapshot.
func (q *Query[K, V]) State() State[V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Options returns the entry's merged options.
func (q *Query[K, V]) Options() Options[K, V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts
}

// SetOptions overlays opts onto the entry's options (last writer wins)
// and raises the removal delay if the new options ask for a longer one.
func (q *Query[K, V]) SetOptions(opts *Options[K, V]) {
	q.mu.Lock()
	if opts != nil {
		q.opts = q.opts.merge(opts)
	}
	gc := q.opts.gcTime(q.cache.cfg.GCTime)
	q.mu.Unlock()
	q.removable.raise(gc)
}

func (q *Query[K, V]) now() int64 { return q.cache.nowUnixNano() }

// ---- dispatch ----

// dispatchLocked applies one action and returns the notification
// flush, which the caller runs after releasing q.mu. Keeping delivery
// outside the lock lets observers read the entry from their callbacks.
func (q *Query[K, V]) dispatchLocked(a action[V]) func() {
	q.state = q.reduce(q.state, a)
	obs := q.observers
	kind := a.kind()
	return func() {
		q.cache.scheduler().Batch(func() {
			for _, o := range obs {
				q.cache.scheduler().Schedule(o.OnQueryUpdate)
			}
			q.cache.notify(Event[K, V]{Type: EventQueryUpdated, Query: q, Action: kind})
		})
	}
}

func (q *Query[K, V]) dispatch(a action[V]) {
	q.mu.Lock()
	flush := q.dispatchLocked(a)
	q.mu.Unlock()
	flush()
}

// ---- public mutators ----

// SetDataOptions modify a manual data write.
type SetDataOptions struct {
	// UpdatedAt backdates the write (UnixNano); 0 means "now".
	UpdatedAt int64
}

// SetData records caller-supplied data as a successful update, running
// the Reconcile hook if one is configured. Returns the stored value,
// or the error the hook raised (in which case the snapshot is
// unchanged). The write is manual: an in-flight fetch keeps its
// status and failure bookkeeping and stays the entry's one live
// operation.
func (q *Query[K, V]) SetData(v V, opts *SetDataOptions) (V, error) {
	q.mu.Lock()
	data, flush, err := q.setDataLocked(v, opts, true)
	q.mu.Unlock()
	if err != nil {
		var zero V
		return zero, err
	}
	flush()
	return data, nil
}

func (q *Query[K, V]) setDataLocked(v V, opts *SetDataOptions, manual bool) (V, func(), error) {
	merged := v
	if q.opts.Reconcile != nil {
		var err error
		merged, err = q.opts.Reconcile(q.state.Data, v)
		if err != nil {
			var zero V
			return zero, nil, err
		}
	}
	var at int64
	if opts != nil {
		at = opts.UpdatedAt
	}
	data := merged
	flush := q.dispatchLocked(successAction[V]{data: &data, updatedAt: at, manual: manual})
	return merged, flush, nil
}

// SetState replaces the snapshot with update(current). Used for manual
// overrides such as hydration; ordinary code paths go through the
// dedicated mutators.
func (q *Query[K, V]) SetState(update func(State[V]) State[V]) {
	q.dispatch(setStateAction[V]{update: update})
}

// Invalidate marks the current data as stale while preserving it.
// No-op if the entry is already invalidated.
func (q *Query[K, V]) Invalidate() {
	q.mu.Lock()
	if q.state.IsInvalidated {
		q.mu.Unlock()
		return
	}
	flush := q.dispatchLocked(invalidateAction[V]{})
	q.mu.Unlock()
	flush()
}

// Cancel cancels the active operation, if any, and returns once the
// cancellation has fully settled (including a revert rollback when
// requested). Errors are swallowed; cancellation is not a failure.
func (q *Query[K, V]) Cancel(opts retry.CancelOptions) {
	q.mu.Lock()
	r := q.retryer
	q.mu.Unlock()
	if r == nil {
		return
	}
	r.Cancel(opts)
	<-r.Promise().Done()
}

// Reset cancels any in-flight operation and fully reinitializes the
// snapshot to the construction-time initial state. Distinct from
// Invalidate, which preserves data and only marks it stale.
func (q *Query[K, V]) Reset() {
	q.Cancel(retry.CancelOptions{Silent: true})
	q.mu.Lock()
	init := q.initialState
	q.revertState = nil
	q.retryer = nil
	flush := q.dispatchLocked(setStateAction[V]{update: func(State[V]) State[V] { return init }})
	q.mu.Unlock()
	flush()
}

// Destroy silently cancels any in-flight operation and disarms the
// removal timer. The cache calls it when dropping the entry.
func (q *Query[K, V]) Destroy() {
	q.removable.clear()
	q.Cancel(retry.CancelOptions{Silent: true})
}

// ---- observers ----

// AddObserver attaches o. The first observer disarms a pending
// removal timer. Observers are compared by identity, so use pointer
// implementations.
func (q *Query[K, V]) AddObserver(o Observer[K, V]) {
	q.mu.Lock()
	for _, cur := range q.observers {
		if cur == o {
			q.mu.Unlock()
			return
		}
	}
	next := make([]Observer[K, V], len(q.observers), len(q.observers)+1)
	copy(next, q.observers)
	q.observers = append(next, o)
	q.mu.Unlock()

	q.removable.clear()
	q.cache.notify(Event[K, V]{Type: EventObserverAdded, Query: q, Observer: o})
}

// RemoveObserver detaches o. Detaching the last observer arms the
// removal timer and winds down any in-flight operation: if the fetch
// consumed its abort context, cancellation is cheap and the entry
// rolls back to its pre-fetch snapshot; otherwise only the retry layer
// is cancelled so the already-started attempt can still populate the
// cache.
func (q *Query[K, V]) RemoveObserver(o Observer[K, V]) {
	q.mu.Lock()
	found := false
	next := make([]Observer[K, V], 0, len(q.observers))
	for _, cur := range q.observers {
		if cur == o {
			found = true
			continue
		}
		next = append(next, cur)
	}
	if !found {
		q.mu.Unlock()
		return
	}
	q.observers = next
	last := len(next) == 0
	var r *retry.Retryer[*V]
	fullCancel := false
	if last && q.retryer != nil {
		r = q.retryer
		fullCancel = q.consumed != nil && q.consumed.Load()
	}
	q.mu.Unlock()

	if r != nil {
		if fullCancel {
			r.Cancel(retry.CancelOptions{Revert: true})
		} else {
			r.CancelRetry()
		}
	}
	if last {
		q.scheduleGC()
	}
	q.cache.notify(Event[K, V]{Type: EventObserverRemoved, Query: q, Observer: o})
}

// ObserverCount returns the number of attached observers.
func (q *Query[K, V]) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

func (q *Query[K, V]) observerList() []Observer[K, V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.observers
}

// ---- garbage collection ----

func (q *Query[K, V]) scheduleGC() {
	q.removable.schedule(q.optionalRemove)
}

// optionalRemove runs when the removal timer fires: the entry is
// dropped only if it is still unobserved and idle.
func (q *Query[K, V]) optionalRemove() {
	q.mu.Lock()
	ok := len(q.observers) == 0 && q.state.FetchStatus == FetchIdle
	q.mu.Unlock()
	if ok {
		q.cache.Remove(q)
	}
}

// ---- derived predicates ----

// IsActive reports whether any attached observer resolves enabled to
// true. An unobserved entry is never active.
func (q *Query[K, V]) IsActive() bool {
	for _, o := range q.observerList() {
		if o.Enabled(q) {
			return true
		}
	}
	return false
}

// IsDisabled reports whether the entry cannot currently fetch: with
// observers present it is the negation of IsActive; without any, an
// entry is disabled when its query function is the designated skip or
// when no fetch has ever completed (dormant, not merely inactive).
func (q *Query[K, V]) IsDisabled() bool {
	q.mu.Lock()
	obs := q.observers
	st := q.state
	skip := q.opts.Skip
	q.mu.Unlock()
	if len(obs) > 0 {
		return !q.IsActive()
	}
	return skip || st.DataUpdateCount+st.ErrorUpdateCount == 0
}

// IsStatic reports whether some observer resolves its stale-time to
// the StaleTimeStatic sentinel.
func (q *Query[K, V]) IsStatic() bool {
	for _, o := range q.observerList() {
		if o.StaleTime(q) == StaleTimeStatic {
			return true
		}
	}
	return false
}

// IsStale delegates to the observers' own computed staleness when any
// exist; otherwise data is stale when absent or invalidated.
func (q *Query[K, V]) IsStale() bool {
	obs := q.observerList()
	if len(obs) > 0 {
		for _, o := range obs {
			if o.IsStale() {
				return true
			}
		}
		return false
	}
	st := q.State()
	return st.Data == nil || st.IsInvalidated
}

// IsStaleByTime reports whether the entry's data is older than
// staleTime. Absent data is always stale, StaleTimeStatic is never
// stale, invalidated data is always stale.
func (q *Query[K, V]) IsStaleByTime(staleTime time.Duration) bool {
	st := q.State()
	if st.Data == nil {
		return true
	}
	if staleTime == StaleTimeStatic {
		return false
	}
	if st.IsInvalidated {
		return true
	}
	return q.now()-st.DataUpdatedAt >= int64(staleTime)
}

// ---- focus / reconnect ----

// OnFocus triggers a refetch through the first observer that wants
// one on focus, and resumes a paused operation if any.
func (q *Query[K, V]) OnFocus() {
	q.mu.Lock()
	obs := q.observers
	r := q.retryer
	q.mu.Unlock()
	for _, o := range obs {
		if o.ShouldRefetchOnFocus() {
			o.Refetch()
			break
		}
	}
	if r != nil {
		r.Continue()
	}
}

// OnOnline triggers a refetch through the first observer that wants
// one on reconnect. A paused operation is resumed unconditionally:
// regaining connectivity must always unpause, whether or not any
// observer wanted a refetch.
func (q *Query[K, V]) OnOnline() {
	q.mu.Lock()
	obs := q.observers
	r := q.retryer
	q.mu.Unlock()
	for _, o := range obs {
		if o.ShouldRefetchOnReconnect() {
			o.Refetch()
			break
		}
	}
	if r != nil {
		r.Continue()
	}
}

func asCancelled(err error) *retry.CancelledError {
	var ce *retry.CancelledError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
