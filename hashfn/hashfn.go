// Package hashfn supplies the 64-bit hash function over K that the
// extendible hash table needs, treated as an external collaborator so
// the index stays agnostic to concrete key types. Defaults are backed
// by xxhash.
package hashfn

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Func computes a 64-bit hash of a key. Only the low bits are consulted
// by the hash table (it masks down to the directory's global depth), so
// callers do not need a perfectly uniform high-bit distribution, but a
// weak low-bit distribution will concentrate entries in few buckets.
type Func[K any] func(key K) uint64

// String returns a Func[string] backed by xxhash.
func String() Func[string] {
	return func(k string) uint64 {
		return xxhash.Sum64String(k)
	}
}

// Bytes returns a Func[[]byte] backed by xxhash.
func Bytes() Func[[]byte] {
	return func(k []byte) uint64 {
		return xxhash.Sum64(k)
	}
}

// Int64 returns a Func[int64] backed by xxhash over the key's
// little-endian byte representation.
func Int64() Func[int64] {
	return func(k int64) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		return xxhash.Sum64(buf[:])
	}
}

// Int returns a Func[int] backed by Int64.
func Int() Func[int] {
	inner := Int64()
	return func(k int) uint64 {
		return inner(int64(k))
	}
}

// Uint64 returns a Func[uint64] backed by xxhash.
func Uint64() Func[uint64] {
	return func(k uint64) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], k)
		return xxhash.Sum64(buf[:])
	}
}
