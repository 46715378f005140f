// Package util contains internal helpers (key hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"fmt"
	"strconv"
)

// KeyString renders a query key into its canonical string form.
// The string is stable for a given key value and is what the cache
// reports in events and error messages (the "hash" of the key).
// Supported directly: string, []byte, fixed byte arrays, bool, all
// int/uint widths, fmt.Stringer. Other comparable types fall back to
// fmt.Sprintf("%#v", k), which is stable for plain value types.
func KeyString[K comparable](k K) string {
	switch v := any(k).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case [16]byte:
		return string(v[:])
	case [32]byte:
		return string(v[:])
	case [64]byte:
		return string(v[:])
	case bool:
		return strconv.FormatBool(v)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%#v", k)
	}
}

// Fnv64a hashes a query key with 64-bit FNV-1a over its canonical
// string form. Used only for shard selection, so a fast non-crypto
// hash is sufficient.
func Fnv64a[K comparable](k K) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range []byte(KeyString(k)) {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)
