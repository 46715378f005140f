// Package query provides the per-key state machine and fetch
// orchestration of a client-side asynchronous resource cache: each
// entry tracks the lifecycle of a remotely obtained value, decides
// when it is stale, coordinates at most one in-flight fetch, applies
// retry/backoff and cancellation policy, and schedules its own removal
// once unobserved.
//
// Design
//
//   - State machine: every entry owns an immutable snapshot (State)
//     replaced wholesale by a small action reducer. All mutation entry
//     points construct one tagged action; no call site writes snapshot
//     fields directly. Transitions for one entry are strictly
//     sequential.
//
//   - Fetch orchestration: Fetch builds a per-execution context
//     (cancellation context, query function, metadata), consults the
//     optional behavior and persister hooks, and runs the attempt
//     through the retry engine (package retry). Concurrent callers
//     share one future; a second operation starts only on an explicit
//     CancelRefetch takeover.
//
//   - Observers: consumers attach through the Observer interface and
//     are notified after every transition. Notifications pass through
//     a batching scheduler so transitions raised within one logical
//     operation coalesce into a single burst.
//
//   - Staleness: data is stale when absent, invalidated, or older than
//     the resolved stale-time; StaleTimeStatic marks data that never
//     goes stale. With observers attached, staleness delegates to
//     their own resolution.
//
//   - Garbage collection: detaching the last observer arms a removal
//     timer (GCTime, default 5 minutes; GCNever disables). The timer
//     re-checks on expiry that the entry is still unobserved and idle.
//
//   - Storage: the multi-key Cache is split into shards, each a map
//     under its own RWMutex; the shard is picked by an FNV-1a hash of
//     the key's canonical string form.
//
//   - Metrics: Config.Metrics receives lifecycle signals; NoopMetrics
//     by default, Prometheus adapter in metrics/prom.
//
// Basic usage
//
//	c := query.New[string, string](query.Config[string, string]{})
//	v, err := c.FetchQuery(ctx, "user:1", &query.Options[string, string]{
//	    StaleTime: time.Minute,
//	    QueryFn: func(fctx *query.FetchContext[string, string]) (string, error) {
//	        // e.g. call an API; honour fctx.Context() for cancellation
//	        return loadUser(fctx.Context(), fctx.Key)
//	    },
//	})
//
// Sharing an in-flight fetch
//
//	q := c.GetOrCreate("user:1", opts)
//	fut := q.Fetch(nil, nil) // everyone gets the same future
//	data, err := fut.Wait(ctx)
//
// Manual writes and invalidation
//
//	c.SetQueryData("user:1", cached)
//	q.Invalidate() // keep the data, mark it stale
//
// Thread-safety
//
// All methods on Cache and Query are safe for concurrent use. Observer
// callbacks and cache events are delivered outside the entry's lock,
// so they may read the entry freely; they must not block.
package query
