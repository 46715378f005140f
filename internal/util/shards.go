package util

import "runtime"

// ReasonableShardCount picks a practical default shard count based on
// CPU parallelism. Heuristic: nextPow2(2*GOMAXPROCS), clamped to
// [1..256]. Sharding the query index reduces lock contention on hot
// multi-key workloads without bloating memory overhead.
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex maps a 64-bit key hash to a shard index. The fast mask
// path applies when the shard count is a power of two (the cache
// rounds it up on construction); arbitrary counts fall back to modulo.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	if shards&(shards-1) == 0 {
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}

// NextPow2 returns the smallest power of two >= x.
// x == 0 yields 1; results that would overflow clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}
