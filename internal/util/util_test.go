package util

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	require.Equal(t, "a", KeyString("a"))
	require.Equal(t, "42", KeyString(42))
	require.Equal(t, "-7", KeyString(int64(-7)))
	require.Equal(t, "7", KeyString(uint32(7)))
	require.Equal(t, "true", KeyString(true))

	// fmt.Stringer keys use their own rendering.
	require.Equal(t, "1s", KeyString(time.Second))

	// Struct keys fall back to the verbose format, which is stable
	// for plain value types.
	type pair struct{ A, B int }
	p := pair{A: 1, B: 2}
	require.Equal(t, fmt.Sprintf("%#v", p), KeyString(p))
	require.Equal(t, KeyString(pair{A: 1, B: 2}), KeyString(p))
}

func TestFnv64a(t *testing.T) {
	// Known FNV-1a vectors over the canonical string form.
	require.Equal(t, uint64(0xaf63dc4c8601ec8c), Fnv64a("a"))
	require.Equal(t, uint64(0xcbf29ce484222325), Fnv64a(""))

	// Same key, same hash; the integer goes through its decimal form.
	require.Equal(t, Fnv64a("97"), Fnv64a(97))
	require.NotEqual(t, Fnv64a("a"), Fnv64a("b"))
}

func TestNextPow2(t *testing.T) {
	cases := []struct{ in, want uint64 }{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{1000, 1024},
		{1 << 40, 1 << 40},
		{1<<40 + 1, 1 << 41},
		{1 << 63, 1 << 63},
		{1<<63 + 1, 1 << 63}, // clamped
	}
	for _, c := range cases {
		require.Equal(t, c.want, NextPow2(c.in), "NextPow2(%d)", c.in)
	}
}

func TestShardIndex(t *testing.T) {
	for _, h := range []uint64{0, 1, 12345, 1 << 63, ^uint64(0)} {
		require.Zero(t, ShardIndex(h, 1))

		i := ShardIndex(h, 8)
		require.Equal(t, int(h&7), i)

		j := ShardIndex(h, 6)
		require.GreaterOrEqual(t, j, 0)
		require.Less(t, j, 6)
	}
}

func TestReasonableShardCount(t *testing.T) {
	n := ReasonableShardCount()
	require.GreaterOrEqual(t, n, 1)
	require.LessOrEqual(t, n, 256)
	require.Zero(t, n&(n-1), "shard count must be a power of two")
}
