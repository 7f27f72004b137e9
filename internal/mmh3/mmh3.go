// Package mmh3 implements the MurmurHash3 x64-128 hash and the derived values
// the Bloom filter needs from it.
//
// A single 128-bit hash is computed per element. Its two 64-bit halves (h1, h2)
// are then combined with the Kirsch-Mitzenmacher construction
//
//	g_i(x) = h1 + i*h2  (mod 2^64)
//
// to simulate any number of independent hash functions without hashing the
// input again ("Less Hashing, Same Performance: Building a Better Bloom
// Filter", Kirsch and Mitzenmacher, 2006).
//
// The output is part of the on-disk contract: bit positions stored in a saved
// filter are only meaningful if every process computes exactly the same
// hashes. Blocks are therefore always read in little-endian order, regardless
// of the host architecture.
package mmh3

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/spaolacci/murmur3"
)

const (
	c1 = 0x87c37b91114253d5
	c2 = 0x4cf5ad432745937f

	blockSize = 16
)

// Sum128 returns the MurmurHash3 x64-128 hash of data for the given seed.
//
// Seeds that fit in 32 bits are the common case (every caller in this module
// uses seed 0) and are served by the murmur3 package, which initialises both
// halves of the state to the seed exactly like the reference algorithm. Wider
// seeds are computed by sum128.
func Sum128(data []byte, seed uint64) (h1, h2 uint64) {
	if seed <= math.MaxUint32 {
		return murmur3.Sum128WithSeed(data, uint32(seed))
	}
	return sum128(data, seed)
}

// sum128 is the reference MurmurHash3 x64-128 with a full 64-bit seed.
func sum128(data []byte, seed uint64) (uint64, uint64) {
	h1, h2 := seed, seed
	length := len(data)
	nblocks := length / blockSize

	for i := 0; i < nblocks; i++ {
		block := data[i*blockSize:]
		k1 := binary.LittleEndian.Uint64(block[0:8])
		k2 := binary.LittleEndian.Uint64(block[8:16])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := data[nblocks*blockSize:]
	var k1, k2 uint64

	// The reference implementation uses a fall-through switch on len&15.
	// Bytes 8..14 feed k2, bytes 0..7 feed k1.
	switch len(tail) {
	case 15:
		k2 ^= uint64(tail[14]) << 48
		fallthrough
	case 14:
		k2 ^= uint64(tail[13]) << 40
		fallthrough
	case 13:
		k2 ^= uint64(tail[12]) << 32
		fallthrough
	case 12:
		k2 ^= uint64(tail[11]) << 24
		fallthrough
	case 11:
		k2 ^= uint64(tail[10]) << 16
		fallthrough
	case 10:
		k2 ^= uint64(tail[9]) << 8
		fallthrough
	case 9:
		k2 ^= uint64(tail[8])
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
		fallthrough
	case 8:
		k1 ^= uint64(tail[7]) << 56
		fallthrough
	case 7:
		k1 ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k1 ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k1 ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k1 ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k1 ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint64(tail[0])
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(length)
	h2 ^= uint64(length)

	h1 += h2
	h2 += h1

	h1 = fmix64(h1)
	h2 = fmix64(h2)

	h1 += h2
	h2 += h1

	return h1, h2
}

// fmix64 is the MurmurHash3 finalisation mix. It forces all bits of the
// state to avalanche.
func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// MakeHashes fills dst with len(dst) probe values for data, using seed 0:
//
//	dst[i] = h1 + i*h2
//
// Arithmetic wraps modulo 2^64. The caller owns dst so that the hot path can
// reuse one buffer across calls.
func MakeHashes(data []byte, dst []uint64) {
	h1, h2 := Sum128(data, 0)
	for i := range dst {
		dst[i] = h1 + uint64(i)*h2
	}
}

// Sum64 folds the 128-bit hash into 64 bits (h1 ^ h2).
func Sum64(data []byte, seed uint64) uint64 {
	h1, h2 := Sum128(data, seed)
	return h1 ^ h2
}

// Sum64String is Sum64 over the bytes of s.
func Sum64String(s string, seed uint64) uint64 {
	return Sum64([]byte(s), seed)
}

// HexDigest returns Sum64String as 16 lowercase hex digits. It is used to
// derive stable cache file names from source paths.
func HexDigest(s string, seed uint64) string {
	return fmt.Sprintf("%016x", Sum64String(s, seed))
}
