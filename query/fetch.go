package query

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sukvvon/query/retry"
)

// FetchContext is the per-execution context handed to query functions,
// behavior hooks, and persisters. Behavior hooks may rewrite the
// mutable parts (FetchFn, Meta) before execution starts; everything
// else is a read-only snapshot taken when the fetch was built.
type FetchContext[K comparable, V any] struct {
	Key     K
	Hash    string
	Meta    FetchMeta
	Options *Options[K, V]
	State   State[V]
	Cache   *Cache[K, V]

	// FetchFn executes one attempt. The default implementation wraps
	// the resolved query function; behavior hooks and persisters may
	// replace or wrap it. Yielding (nil, nil) is the undefined-result
	// error.
	FetchFn func() (*V, error)

	ctx      context.Context
	consumed *atomic.Bool
}

// Context returns the cancellation context of this execution and
// records that it was read. Whether any invocation consumed the
// context decides how the entry winds down an in-flight fetch when its
// last observer detaches: a consumed context means cancelling is cheap
// (the fetch will notice), an unread one means the network effort
// would be wasted, so only retry scheduling is cancelled.
func (f *FetchContext[K, V]) Context() context.Context {
	f.consumed.Store(true)
	return f.ctx
}

// FetchOptions modify one Fetch call.
type FetchOptions[V any] struct {
	// CancelRefetch silently cancels an in-flight operation and starts
	// a fresh one, provided the entry already has data to fall back
	// on. Without it, concurrent Fetch calls share the existing
	// operation.
	CancelRefetch bool

	// Meta tags this fetch; a meta different from the in-flight one
	// counts as a new logical fetch.
	Meta FetchMeta

	// Initial, if set, is adopted as the first attempt instead of
	// running the query function (restored/hydrated operations).
	Initial *retry.Future[*V]
}

// Fetch starts (or joins) the entry's fetch and returns the shared
// future. All concurrent callers without CancelRefetch receive the
// same future; at most one operation is live per entry. The future
// rejects only on unrecoverable errors — transient retry attempts are
// absorbed into the snapshot's failure counters.
func (q *Query[K, V]) Fetch(opts *Options[K, V], fopts *FetchOptions[V]) *retry.Future[*V] {
	q.mu.Lock()

	if q.state.FetchStatus != FetchIdle && q.retryer != nil {
		if fopts != nil && fopts.CancelRefetch && q.state.Data != nil {
			// Take over: drop the current operation without telling
			// anyone and start fresh below.
			old := q.retryer
			q.retryer = nil
			q.mu.Unlock()
			old.Cancel(retry.CancelOptions{Silent: true})
			q.mu.Lock()
			if q.retryer != nil && q.state.FetchStatus != FetchIdle {
				// Another caller already started the fresh operation
				// while we were cancelling; join it.
				r := q.retryer
				q.mu.Unlock()
				return r.Promise()
			}
		} else {
			r := q.retryer
			q.mu.Unlock()
			r.ContinueRetry()
			return r.Promise()
		}
	}

	if opts != nil {
		q.opts = q.opts.merge(opts)
	}

	// An entry built without a query function (manual SetData,
	// hydration) stays fetchable as long as an observer supplies one.
	qfn := q.opts.QueryFn
	if qfn == nil {
		for _, o := range q.observers {
			if fn := o.QueryFn(); fn != nil {
				qfn = fn
				break
			}
		}
	}

	ctx, abort := context.WithCancel(context.Background())
	consumed := &atomic.Bool{}
	q.consumed = consumed

	optsCopy := q.opts
	fctx := &FetchContext[K, V]{
		Key:      q.key,
		Hash:     q.hash,
		Options:  &optsCopy,
		State:    q.state,
		Cache:    q.cache,
		ctx:      ctx,
		consumed: consumed,
	}
	if fopts != nil {
		fctx.Meta = fopts.Meta
	}
	if qfn == nil {
		fctx.FetchFn = func() (*V, error) {
			return nil, retry.Unrecoverable(fmt.Errorf("%w (query %q)", ErrNoQueryFn, q.hash))
		}
	} else {
		fn := qfn
		fctx.FetchFn = func() (*V, error) {
			v, err := fn(fctx)
			if err != nil {
				return nil, err
			}
			return &v, nil
		}
	}

	if q.opts.Behavior != nil {
		q.opts.Behavior.OnFetch(fctx, q)
	}

	// From here on a failing cancellation can roll back to exactly
	// this snapshot.
	rs := q.state
	q.revertState = &rs

	var flush func()
	if q.state.FetchStatus == FetchIdle || !metaEqual(q.state.FetchMeta, fctx.Meta) {
		canStart := q.opts.NetworkMode != NetworkModeOnline || q.cache.IsOnline()
		flush = q.dispatchLocked(fetchAction[V]{meta: fctx.Meta, canRun: canStart})
	}

	run := fctx.FetchFn
	if q.opts.Persister != nil {
		persist := q.opts.Persister
		inner := run
		run = func() (*V, error) {
			return persist(inner, fctx, q)
		}
	}
	hash := q.hash
	attempt := func() (*V, error) {
		data, err := run()
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, retry.Unrecoverable(fmt.Errorf("%w (query %q)", ErrUndefinedResult, hash))
		}
		return data, nil
	}

	var initial *retry.Future[*V]
	if fopts != nil {
		initial = fopts.Initial
	}
	r := retry.Start(retry.Config[*V]{
		Fn:      attempt,
		Initial: initial,
		Abort:   abort,
		OnSuccess: func(data *V) error {
			defer abort()
			return q.onFetchSuccess(data)
		},
		OnError: func(err error) {
			defer abort()
			q.onFetchError(err)
		},
		OnFail: func(failures int, err error) {
			q.dispatch(failedAction[V]{count: failures, err: err})
		},
		OnPause: func() {
			q.dispatch(pauseAction[V]{})
		},
		OnContinue: func() {
			q.dispatch(continueAction[V]{})
		},
		Policy: q.opts.RetryPolicy,
		CanRun: q.canRun(q.opts.NetworkMode),
	})
	q.retryer = r
	q.mu.Unlock()

	if flush != nil {
		flush()
	}
	q.cache.metrics().FetchStarted()
	return r.Promise()
}

// canRun builds the network-mode gate handed to the retry engine.
func (q *Query[K, V]) canRun(mode NetworkMode) func() bool {
	var started atomic.Bool
	return func() bool {
		switch mode {
		case NetworkModeAlways:
			return true
		case NetworkModeOfflineFirst:
			if started.CompareAndSwap(false, true) {
				return true
			}
			return q.cache.IsOnline()
		default:
			return q.cache.IsOnline()
		}
	}
}

// onFetchSuccess records a completed fetch: the write runs through
// setData so a failing Reconcile hook lands on the same error path as
// a fetch failure. A returned error vetoes publication; the shared
// future then rejects with it instead of resolving.
func (q *Query[K, V]) onFetchSuccess(data *V) error {
	q.mu.Lock()
	_, flush, err := q.setDataLocked(*data, nil, false)
	q.mu.Unlock()
	if err != nil {
		q.fetchFailed(err)
		return err
	}
	flush()

	if cb := q.cache.cfg.OnSuccess; cb != nil {
		cb(data, q)
	}
	if cb := q.cache.cfg.OnSettled; cb != nil {
		cb(data, nil, q)
	}
	q.cache.metrics().FetchSucceeded()
	q.scheduleGC()
	return nil
}

func (q *Query[K, V]) onFetchError(err error) {
	q.fetchFailed(err)
}

// fetchFailed is the terminal error path for fetches, reconcile
// failures, and cancellations. A silent cancellation reaches no one;
// any cancellation skips the store-level callbacks, since it is not a
// terminal failure of the logical resource.
func (q *Query[K, V]) fetchFailed(err error) {
	ce := asCancelled(err)
	if ce == nil || !ce.Silent {
		q.dispatch(errorAction[V]{err: err})
	}
	if ce == nil {
		if cb := q.cache.cfg.OnError; cb != nil {
			cb(err, q)
		}
		if cb := q.cache.cfg.OnSettled; cb != nil {
			cb(nil, err, q)
		}
		q.cache.metrics().FetchFailed()
	} else {
		q.cache.metrics().FetchCancelled()
	}
	q.scheduleGC()
}
