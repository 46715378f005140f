package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sukvvon/query/internal/notify"
	"github.com/sukvvon/query/retry"
)

func TestCacheGetOrCreate(t *testing.T) {
	c := newTestCache(Config[string, string]{})

	q1 := c.GetOrCreate("a", nil)
	q2 := c.GetOrCreate("a", nil)
	require.Same(t, q1, q2)
	require.Equal(t, 1, c.Len())

	q3 := c.GetOrCreate("b", nil)
	require.NotSame(t, q1, q3)
	require.Equal(t, 2, c.Len())
	require.Len(t, c.All(), 2)

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Same(t, q1, got)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestCacheGetOrCreateMergesOptions(t *testing.T) {
	c := newTestCache(Config[string, string]{
		DefaultOptions: Options[string, string]{StaleTime: time.Minute},
	})

	q := c.GetOrCreate("a", &Options[string, string]{QueryFn: constFn("v")})
	opts := q.Options()
	require.Equal(t, time.Minute, opts.StaleTime, "cache defaults underlay entry options")
	require.NotNil(t, opts.QueryFn)

	// A later lookup's options are absorbed by the existing entry.
	c.GetOrCreate("a", &Options[string, string]{StaleTime: time.Hour})
	require.Equal(t, time.Hour, q.Options().StaleTime)
}

func TestCacheFind(t *testing.T) {
	c := newTestCache(Config[string, string]{})
	c.GetOrCreate("a", nil)
	stale := c.GetOrCreate("b", nil)
	stale.Invalidate()
	other := c.GetOrCreate("c", nil)
	other.Invalidate()

	q, ok := c.Find(func(q *Query[string, string]) bool { return q.Key() == "b" })
	require.True(t, ok)
	require.Same(t, stale, q)

	_, ok = c.Find(func(q *Query[string, string]) bool { return q.Key() == "zzz" })
	require.False(t, ok)

	invalidated := c.FindAll(func(q *Query[string, string]) bool {
		return q.State().IsInvalidated
	})
	require.Len(t, invalidated, 2)
}

func TestCacheRemove(t *testing.T) {
	c := newTestCache(Config[string, string]{})
	q := c.GetOrCreate("a", nil)

	c.Remove(q)
	require.Equal(t, 0, c.Len())

	// Removing again is safe.
	c.Remove(q)
	require.Equal(t, 0, c.Len())
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(Config[string, string]{})
	for _, k := range []string{"a", "b", "c"} {
		c.GetOrCreate(k, nil)
	}
	c.Clear()
	require.Equal(t, 0, c.Len())
}

func TestCacheRestore(t *testing.T) {
	c := newTestCache(Config[string, string]{})

	q := c.Restore("a", nil, State[string]{
		Data:            sptr("hydrated"),
		DataUpdateCount: 1,
		DataUpdatedAt:   42,
		Status:          StatusSuccess,
	})
	st := q.State()
	require.Equal(t, "hydrated", *st.Data)
	require.Equal(t, int64(42), st.DataUpdatedAt)
	require.Equal(t, StatusSuccess, st.Status)

	// An existing entry is returned unchanged.
	again := c.Restore("a", nil, State[string]{})
	require.Same(t, q, again)
	require.Equal(t, "hydrated", *again.State().Data)
}

func TestCacheSubscribeEvents(t *testing.T) {
	c := newTestCache(Config[string, string]{Scheduler: notify.Immediate{}})

	var mu sync.Mutex
	var got []string
	unsub := c.Subscribe(func(e Event[string, string]) {
		mu.Lock()
		s := e.Type.String()
		if e.Action != "" {
			s += ":" + e.Action
		}
		got = append(got, s)
		mu.Unlock()
	})

	q := c.GetOrCreate("k", nil)
	o := &ObserverFuncs[string, string]{Query: q}
	q.AddObserver(o)
	_, err := q.SetData("v", nil)
	require.NoError(t, err)
	q.Invalidate()
	q.RemoveObserver(o)
	c.Remove(q)

	mu.Lock()
	require.Equal(t, []string{
		"added",
		"observerAdded",
		"updated:success",
		"updated:invalidate",
		"observerRemoved",
		"removed",
	}, got)
	mu.Unlock()

	unsub()
	c.GetOrCreate("k2", nil)
	mu.Lock()
	require.Len(t, got, 6, "unsubscribed listeners receive nothing")
	mu.Unlock()
}

func TestCacheSetAndGetQueryData(t *testing.T) {
	c := newTestCache(Config[string, string]{})

	_, ok := c.GetQueryData("k")
	require.False(t, ok)

	q, err := c.SetQueryData("k", "v")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, q.State().Status)

	data, ok := c.GetQueryData("k")
	require.True(t, ok)
	require.Equal(t, "v", *data)
}

func TestCacheFetchQuery(t *testing.T) {
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	m := &countMetrics{}
	c := newTestCache(Config[string, string]{Clock: clk, Metrics: m})

	calls := 0
	opts := &Options[string, string]{
		StaleTime: time.Minute,
		QueryFn: func(*FetchContext[string, string]) (string, error) {
			calls++
			return "v1", nil
		},
	}

	v, err := c.FetchQuery(context.Background(), "k", opts)
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	require.Equal(t, 1, calls)
	require.Equal(t, int64(1), m.misses.Load())

	// Fresh data is served without touching the query function.
	v, err = c.FetchQuery(context.Background(), "k", opts)
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	require.Equal(t, 1, calls)
	require.Equal(t, int64(1), m.hits.Load())

	// Past the stale time the fetch runs again.
	clk.advance(2 * time.Minute)
	_, err = c.FetchQuery(context.Background(), "k", opts)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, int64(2), m.started.Load())
	require.Equal(t, int64(2), m.succeeded.Load())
}

func TestCacheFetchQueryError(t *testing.T) {
	c := newTestCache(Config[string, string]{})
	_, err := c.FetchQuery(context.Background(), "k", &Options[string, string]{
		RetryPolicy: retry.None{},
		QueryFn: func(*FetchContext[string, string]) (string, error) {
			return "", errBoom
		},
	})
	require.ErrorIs(t, err, errBoom)
}

func TestCacheMetricsLifecycle(t *testing.T) {
	m := &countMetrics{}
	c := newTestCache(Config[string, string]{Metrics: m})

	q := c.GetOrCreate("a", nil)
	c.GetOrCreate("b", nil)
	require.Equal(t, int64(2), m.added.Load())
	require.Equal(t, int64(2), m.size.Load())

	c.Remove(q)
	require.Equal(t, int64(1), m.removed.Load())
	require.Equal(t, int64(1), m.size.Load())
}

func TestCacheOnlineSwitch(t *testing.T) {
	c := newTestCache(Config[string, string]{})
	require.True(t, c.IsOnline())
	c.SetOnline(false)
	require.False(t, c.IsOnline())
	c.SetOnline(true)
	require.True(t, c.IsOnline())
}
