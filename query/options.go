package query

import (
	"math"
	"time"

	"github.com/sukvvon/query/retry"
)

// QueryFn produces the value for one key. The fetch context carries
// the key, merged options, fetch metadata, and the cancellation
// context; functions that want to honour cancellation call
// fctx.Context().
type QueryFn[K comparable, V any] func(fctx *FetchContext[K, V]) (V, error)

// NetworkMode gates when a fetch may run or continue retrying.
type NetworkMode int

const (
	// NetworkModeOnline runs fetches only while the cache is online.
	NetworkModeOnline NetworkMode = iota
	// NetworkModeAlways ignores the online state entirely.
	NetworkModeAlways
	// NetworkModeOfflineFirst lets the first attempt run regardless,
	// then gates retries on the online state (for callers whose first
	// attempt may be served from an intermediate cache).
	NetworkModeOfflineFirst
)

const (
	// StaleTimeStatic marks data as never stale regardless of age.
	StaleTimeStatic = time.Duration(math.MaxInt64)

	// GCNever disables garbage collection of unobserved entries.
	GCNever = time.Duration(math.MaxInt64)

	// DefaultGCTime is the removal delay applied when neither the
	// entry options nor the cache config set one.
	DefaultGCTime = 5 * time.Minute
)

// Behavior is a pre-execution customization point for specialized
// fetch variants (e.g. paginated fetches). OnFetch runs synchronously
// before the operation starts and may rewrite the mutable parts of the
// fetch context (FetchFn, Meta). It must not call back into q.
type Behavior[K comparable, V any] interface {
	OnFetch(fctx *FetchContext[K, V], q *Query[K, V])
}

// BehaviorFunc adapts a plain function to Behavior.
type BehaviorFunc[K comparable, V any] func(fctx *FetchContext[K, V], q *Query[K, V])

// OnFetch implements Behavior.
func (f BehaviorFunc[K, V]) OnFetch(fctx *FetchContext[K, V], q *Query[K, V]) { f(fctx, q) }

// Persister indirects query-function execution so an external cache
// layer can short-circuit with previously stored results. fn runs the
// real fetch; a persister may skip it, wrap it, or post-process its
// result. Returning (nil, nil) is the undefined-result error.
type Persister[K comparable, V any] func(fn func() (*V, error), fctx *FetchContext[K, V], q *Query[K, V]) (*V, error)

// Options is the merged per-entry configuration (cache defaults +
// entry options + per-call overrides, last writer wins). The entry
// replaces its Options value wholesale on every change; holders of a
// previous value are unaffected.
type Options[K comparable, V any] struct {
	// QueryFn fetches the value. May be nil for entries populated
	// manually (SetData/hydration); such entries stay fetchable as
	// long as some attached observer supplies a function.
	QueryFn QueryFn[K, V]

	// RetryPolicy decides retry/backoff; nil means retry.Default().
	RetryPolicy retry.Policy

	// NetworkMode gates running/retrying against the cache's online
	// state. Zero value is NetworkModeOnline.
	NetworkMode NetworkMode

	// StaleTime is how long data stays fresh after a successful
	// update. 0 (default) means immediately stale; StaleTimeStatic
	// means never stale.
	StaleTime time.Duration

	// GCTime is the removal delay once the entry is unobserved.
	// nil falls back to the cache default (DefaultGCTime); 0 removes
	// as soon as the entry becomes collectable; GCNever disables
	// removal. Ptr exists so 0 stays distinguishable from unset.
	GCTime *time.Duration

	// Behavior, if set, may rewrite the fetch context before each
	// execution.
	Behavior Behavior[K, V]

	// Persister, if set, indirects query-function execution.
	Persister Persister[K, V]

	// InitialData seeds the entry snapshot at construction; the entry
	// starts in StatusSuccess when it returns non-nil.
	InitialData func() *V

	// InitialDataUpdatedAt backdates the seeded data (UnixNano);
	// 0 means "now".
	InitialDataUpdatedAt int64

	// Reconcile merges freshly fetched data with the previous value
	// (old is nil on first fetch). An error aborts the write and is
	// recorded through the normal error path.
	Reconcile func(old *V, fresh V) (V, error)

	// Skip marks the entry's query function as deliberately disabled
	// (the skip sentinel): with no observers attached the entry counts
	// as disabled, not merely inactive.
	Skip bool

	// Meta is arbitrary entry metadata exposed on the fetch context.
	Meta map[string]any
}

// Duration returns a pointer to d, for the optional duration fields.
func Duration(d time.Duration) *time.Duration { return &d }

// merge overlays per-call options onto base, last writer wins. Only
// fields the override actually sets are applied; zero-value fields of
// o keep the base configuration.
func (base Options[K, V]) merge(o *Options[K, V]) Options[K, V] {
	if o == nil {
		return base
	}
	next := base
	if o.QueryFn != nil {
		next.QueryFn = o.QueryFn
	}
	if o.RetryPolicy != nil {
		next.RetryPolicy = o.RetryPolicy
	}
	if o.NetworkMode != 0 {
		next.NetworkMode = o.NetworkMode
	}
	if o.StaleTime != 0 {
		next.StaleTime = o.StaleTime
	}
	if o.GCTime != nil {
		next.GCTime = o.GCTime
	}
	if o.Behavior != nil {
		next.Behavior = o.Behavior
	}
	if o.Persister != nil {
		next.Persister = o.Persister
	}
	if o.InitialData != nil {
		next.InitialData = o.InitialData
	}
	if o.InitialDataUpdatedAt != 0 {
		next.InitialDataUpdatedAt = o.InitialDataUpdatedAt
	}
	if o.Reconcile != nil {
		next.Reconcile = o.Reconcile
	}
	if o.Skip {
		next.Skip = true
	}
	if o.Meta != nil {
		next.Meta = o.Meta
	}
	return next
}

// gcTime resolves the effective removal delay for these options.
func (base Options[K, V]) gcTime(cacheDefault *time.Duration) time.Duration {
	if base.GCTime != nil {
		return *base.GCTime
	}
	if cacheDefault != nil {
		return *cacheDefault
	}
	return DefaultGCTime
}
