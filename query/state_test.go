package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sukvvon/query/retry"
)

func newReducerQuery(t *testing.T) (*Query[string, string], *fakeClock) {
	t.Helper()
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	c := newTestCache(Config[string, string]{Clock: clk})
	return c.GetOrCreate("k", nil), clk
}

func TestReduceFetch(t *testing.T) {
	q, _ := newReducerQuery(t)

	// No data yet: a starting fetch flips the entry to pending.
	s := q.reduce(State[string]{}, fetchAction[string]{canRun: true})
	require.Equal(t, StatusPending, s.Status)
	require.Equal(t, FetchFetching, s.FetchStatus)
	require.Nil(t, s.Error)

	// Gated by network mode: paused instead of fetching.
	s = q.reduce(State[string]{}, fetchAction[string]{canRun: false})
	require.Equal(t, FetchPaused, s.FetchStatus)

	// With data present the status survives; failure bookkeeping and
	// meta are reset for the new logical fetch.
	prev := State[string]{
		Data:               sptr("v"),
		Status:             StatusSuccess,
		FetchFailureCount:  2,
		FetchFailureReason: errBoom,
	}
	meta := FetchMeta{"direction": "forward"}
	s = q.reduce(prev, fetchAction[string]{meta: meta, canRun: true})
	require.Equal(t, StatusSuccess, s.Status)
	require.Equal(t, FetchFetching, s.FetchStatus)
	require.Zero(t, s.FetchFailureCount)
	require.Nil(t, s.FetchFailureReason)
	require.Equal(t, meta, s.FetchMeta)
}

func TestReduceSuccess(t *testing.T) {
	q, clk := newReducerQuery(t)

	prev := State[string]{
		Data:               sptr("old"),
		DataUpdateCount:    3,
		Error:              errBoom,
		ErrorUpdateCount:   1,
		FetchFailureCount:  2,
		FetchFailureReason: errBoom,
		IsInvalidated:      true,
		Status:             StatusError,
		FetchStatus:        FetchFetching,
	}
	s := q.reduce(prev, successAction[string]{data: sptr("new")})
	require.Equal(t, "new", *s.Data)
	require.Equal(t, 4, s.DataUpdateCount)
	require.Equal(t, clk.NowUnixNano(), s.DataUpdatedAt)
	require.Nil(t, s.Error)
	require.False(t, s.IsInvalidated)
	require.Equal(t, StatusSuccess, s.Status)
	require.Equal(t, FetchIdle, s.FetchStatus)
	require.Zero(t, s.FetchFailureCount)
	require.Nil(t, s.FetchFailureReason)

	// A manual write must not disturb an in-flight fetch.
	s = q.reduce(prev, successAction[string]{data: sptr("manual"), manual: true})
	require.Equal(t, FetchFetching, s.FetchStatus)
	require.Equal(t, 2, s.FetchFailureCount)

	// Backdated write.
	s = q.reduce(prev, successAction[string]{data: sptr("x"), updatedAt: 42})
	require.Equal(t, int64(42), s.DataUpdatedAt)
}

func TestReduceError(t *testing.T) {
	q, clk := newReducerQuery(t)

	prev := State[string]{
		Data:              sptr("v"),
		Status:            StatusSuccess,
		FetchStatus:       FetchFetching,
		FetchFailureCount: 1,
	}
	s := q.reduce(prev, errorAction[string]{err: errBoom})
	require.Equal(t, errBoom, s.Error)
	require.Equal(t, 1, s.ErrorUpdateCount)
	require.Equal(t, clk.NowUnixNano(), s.ErrorUpdatedAt)
	require.Equal(t, 2, s.FetchFailureCount)
	require.Equal(t, errBoom, s.FetchFailureReason)
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, FetchIdle, s.FetchStatus)
	// Data survives an error.
	require.Equal(t, "v", *s.Data)
}

func TestReduceErrorRevert(t *testing.T) {
	q, _ := newReducerQuery(t)

	saved := State[string]{
		Data:            sptr("pre"),
		DataUpdateCount: 1,
		Status:          StatusSuccess,
		FetchStatus:     FetchIdle,
	}
	q.revertState = &saved

	mid := saved
	mid.FetchStatus = FetchFetching
	mid.FetchFailureCount = 2

	s := q.reduce(mid, errorAction[string]{err: &retry.CancelledError{Revert: true}})
	require.Equal(t, saved, s)

	// Without a saved snapshot a reverting cancellation degrades to a
	// plain error.
	q.revertState = nil
	s = q.reduce(mid, errorAction[string]{err: &retry.CancelledError{Revert: true}})
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, 1, s.ErrorUpdateCount)
}

func TestReduceFailedPauseContinue(t *testing.T) {
	q, _ := newReducerQuery(t)

	s := q.reduce(State[string]{FetchStatus: FetchFetching}, failedAction[string]{count: 3, err: errBoom})
	require.Equal(t, 3, s.FetchFailureCount)
	require.Equal(t, errBoom, s.FetchFailureReason)
	require.Equal(t, FetchFetching, s.FetchStatus)

	s = q.reduce(s, pauseAction[string]{})
	require.Equal(t, FetchPaused, s.FetchStatus)

	s = q.reduce(s, continueAction[string]{})
	require.Equal(t, FetchFetching, s.FetchStatus)
}

func TestReduceInvalidateAndSetState(t *testing.T) {
	q, _ := newReducerQuery(t)

	s := q.reduce(State[string]{Data: sptr("v"), Status: StatusSuccess}, invalidateAction[string]{})
	require.True(t, s.IsInvalidated)
	require.Equal(t, "v", *s.Data)

	s = q.reduce(s, setStateAction[string]{update: func(cur State[string]) State[string] {
		cur.IsInvalidated = false
		cur.Data = sptr("hydrated")
		return cur
	}})
	require.False(t, s.IsInvalidated)
	require.Equal(t, "hydrated", *s.Data)
}

func TestNewInitialState(t *testing.T) {
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	c := newTestCache(Config[string, string]{Clock: clk})

	q := c.GetOrCreate("empty", nil)
	st := q.State()
	require.Nil(t, st.Data)
	require.Equal(t, StatusPending, st.Status)
	require.Equal(t, FetchIdle, st.FetchStatus)

	q = c.GetOrCreate("seeded", &Options[string, string]{
		InitialData: func() *string { return sptr("seed") },
	})
	st = q.State()
	require.Equal(t, "seed", *st.Data)
	require.Equal(t, StatusSuccess, st.Status)
	require.Equal(t, clk.NowUnixNano(), st.DataUpdatedAt)

	q = c.GetOrCreate("backdated", &Options[string, string]{
		InitialData:          func() *string { return sptr("seed") },
		InitialDataUpdatedAt: 7,
	})
	require.Equal(t, int64(7), q.State().DataUpdatedAt)
}
