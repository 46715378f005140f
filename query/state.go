package query

import "reflect"

// Status reports whether an entry has ever produced data (success),
// only errors (error), or neither (pending).
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusError
)

// String returns the stable label used in events and logs.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "pending"
	}
}

// FetchStatus reports whether an entry currently has a live fetch
// attempt, is paused waiting for the network mode to allow running,
// or is idle.
type FetchStatus int

const (
	FetchIdle FetchStatus = iota
	FetchFetching
	FetchPaused
)

// String returns the stable label used in events and logs.
func (s FetchStatus) String() string {
	switch s {
	case FetchFetching:
		return "fetching"
	case FetchPaused:
		return "paused"
	default:
		return "idle"
	}
}

// FetchMeta carries direction metadata for specialized fetches
// (e.g. cursor/page direction). Two fetches against the same key with
// different meta are distinct logical fetches.
type FetchMeta map[string]any

func metaEqual(a, b FetchMeta) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// State is the persisted snapshot of one entry. It is a value type:
// every transition replaces the snapshot wholesale, it is never
// mutated in place. Data == nil means the entry has never had a value.
// Timestamps are UnixNano.
type State[V any] struct {
	Data            *V
	DataUpdateCount int
	DataUpdatedAt   int64

	Error            error
	ErrorUpdateCount int
	ErrorUpdatedAt   int64

	FetchFailureCount  int
	FetchFailureReason error
	FetchMeta          FetchMeta

	IsInvalidated bool
	Status        Status
	FetchStatus   FetchStatus
}

// ---- actions ----

// Every mutation entry point constructs one tagged action and hands it
// to the reducer; no call site writes snapshot fields directly.
type action[V any] interface {
	kind() string
}

type fetchAction[V any] struct {
	meta   FetchMeta
	canRun bool // network mode allows running right now
}

type successAction[V any] struct {
	data      *V
	updatedAt int64 // 0 = clock now
	manual    bool
}

type errorAction[V any] struct {
	err error
}

type failedAction[V any] struct {
	count int
	err   error
}

type pauseAction[V any] struct{}

type continueAction[V any] struct{}

type invalidateAction[V any] struct{}

type setStateAction[V any] struct {
	update func(State[V]) State[V]
}

func (fetchAction[V]) kind() string      { return "fetch" }
func (successAction[V]) kind() string    { return "success" }
func (errorAction[V]) kind() string      { return "error" }
func (failedAction[V]) kind() string     { return "failed" }
func (pauseAction[V]) kind() string      { return "pause" }
func (continueAction[V]) kind() string   { return "continue" }
func (invalidateAction[V]) kind() string { return "invalidate" }
func (setStateAction[V]) kind() string   { return "setState" }

// reduce computes the next snapshot for one action. Called with q.mu
// held; the only entry state it touches besides the snapshot is
// revertState (captured before a fetch, cleared on success, consulted
// by a reverting cancellation).
func (q *Query[K, V]) reduce(s State[V], a action[V]) State[V] {
	switch act := a.(type) {
	case fetchAction[V]:
		next := s
		next.FetchFailureCount = 0
		next.FetchFailureReason = nil
		next.FetchMeta = act.meta
		if act.canRun {
			next.FetchStatus = FetchFetching
		} else {
			next.FetchStatus = FetchPaused
		}
		if s.Data == nil {
			next.Error = nil
			next.Status = StatusPending
		}
		return next

	case successAction[V]:
		q.revertState = nil
		next := s
		next.Data = act.data
		next.DataUpdateCount = s.DataUpdateCount + 1
		if act.updatedAt != 0 {
			next.DataUpdatedAt = act.updatedAt
		} else {
			next.DataUpdatedAt = q.now()
		}
		next.Error = nil
		next.IsInvalidated = false
		next.Status = StatusSuccess
		if !act.manual {
			next.FetchStatus = FetchIdle
			next.FetchFailureCount = 0
			next.FetchFailureReason = nil
		}
		return next

	case errorAction[V]:
		if ce := asCancelled(act.err); ce != nil && ce.Revert && q.revertState != nil {
			// Full rollback: the failed attempt never happened.
			next := *q.revertState
			next.FetchStatus = FetchIdle
			return next
		}
		next := s
		next.Error = act.err
		next.ErrorUpdateCount = s.ErrorUpdateCount + 1
		next.ErrorUpdatedAt = q.now()
		next.FetchFailureCount = s.FetchFailureCount + 1
		next.FetchFailureReason = act.err
		next.FetchStatus = FetchIdle
		next.Status = StatusError
		return next

	case failedAction[V]:
		next := s
		next.FetchFailureCount = act.count
		next.FetchFailureReason = act.err
		return next

	case pauseAction[V]:
		next := s
		next.FetchStatus = FetchPaused
		return next

	case continueAction[V]:
		next := s
		next.FetchStatus = FetchFetching
		return next

	case invalidateAction[V]:
		next := s
		next.IsInvalidated = true
		return next

	case setStateAction[V]:
		return act.update(s)

	default:
		return s
	}
}

// newInitialState builds the construction-time snapshot from the
// merged options. Entries seeded with initial data start as success.
func newInitialState[K comparable, V any](o Options[K, V], now func() int64) State[V] {
	var data *V
	if o.InitialData != nil {
		data = o.InitialData()
	}
	s := State[V]{Data: data}
	if data != nil {
		s.Status = StatusSuccess
		if o.InitialDataUpdatedAt != 0 {
			s.DataUpdatedAt = o.InitialDataUpdatedAt
		} else {
			s.DataUpdatedAt = now()
		}
	}
	return s
}
