package bloom

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
	"sync"
)

var (
	errReleased = errors.New("filter has been released")
	errTooLarge = errors.New("bitmap size exceeds allocation limit")
)

// maxBitmapBytes caps any single bitmap allocation. Sizes are computed from
// caller input and from file headers, so an absurd value surfaces as
// OutOfMemory before it reaches make. An allocation below the cap that the
// system cannot satisfy is still fatal to the process. Tests lower the cap to
// exercise the failure paths.
var maxBitmapBytes uint64 = 1 << 40

// probesPool reuses the per-operation probe buffers. We store *[]uint64
// (pointer) instead of []uint64 (value) to avoid interface wrapping
// allocations (SA6002).
var probesPool = sync.Pool{
	New: func() interface{} {
		// 16 covers every accuracy down to about 1e-5 with room to spare.
		s := make([]uint64, 0, 16)
		return &s
	},
}

// getProbes returns a pooled buffer of exactly k probes.
// The caller must return it via putProbes when done.
func getProbes(k int) *[]uint64 {
	ptr := probesPool.Get().(*[]uint64)
	if cap(*ptr) < k {
		*ptr = make([]uint64, k)
	}
	*ptr = (*ptr)[:k]
	return ptr
}

// putProbes returns the pointer to the pool.
func putProbes(ptr *[]uint64) {
	if ptr == nil {
		return
	}
	probesPool.Put(ptr)
}

// EstimateParameters calculates the segment size in bits and the number of
// probes for n expected elements at false positive rate p.
//
//	m = ceil(-(n * ln(p)) / (ln(2)^2))   rounded up to a whole byte
//	k = floor((m / n) * ln(2))           at least 1
//
// Rounding m up to a multiple of 8 keeps the bit count and the byte length of
// the bitmap in exact agreement, which the file format depends on.
func EstimateParameters(n uint64, p float32) (m uint64, k uint64, err error) {
	if n == 0 {
		return 0, 0, newError(InvalidArgument, "init", "", errors.New("expected element count must be greater than zero"))
	}
	acc := float64(p)
	if !(acc > 0 && acc < 1) {
		return 0, 0, newError(InvalidArgument, "init", "", fmt.Errorf("accuracy %v outside (0, 1)", p))
	}

	ln2 := math.Ln2
	raw := math.Ceil(-float64(n) * math.Log(acc) / (ln2 * ln2))
	if math.IsInf(raw, 0) || raw > float64(maxBitmapBytes)*8 {
		return 0, 0, newError(OutOfMemory, "init", "", errTooLarge)
	}

	m = (uint64(raw) + 7) &^ 7
	k = uint64(math.Floor(float64(m) / float64(n) * ln2))
	if k < 1 {
		k = 1
	}
	if k > MaxHashCount {
		k = MaxHashCount
	}
	return m, k, nil
}

// allocBitmap returns a zeroed bitmap of n bytes.
func allocBitmap(n uint64) ([]byte, error) {
	if n > maxBitmapBytes || n > math.MaxInt {
		return nil, errTooLarge
	}
	return make([]byte, int(n)), nil
}

// extendBitmap returns b extended by extra zeroed bytes. The original slice
// is never modified beyond its length, so on error the caller's bitmap is
// still intact.
func extendBitmap(b []byte, extra uint64) ([]byte, error) {
	newLen, carry := bits.Add64(uint64(len(b)), extra, 0)
	if carry != 0 || newLen > maxBitmapBytes || newLen > math.MaxInt {
		return nil, errTooLarge
	}

	oldLen := len(b)
	out := slices.Grow(b, int(extra))[:int(newLen)]

	// Spare capacity may hold stale bytes; only the new region is cleared.
	clear(out[oldLen:])
	return out, nil
}

// testBit reports whether bit pos is set. Bits are numbered LSB first within
// each byte: bit 0 is the least significant bit of byte 0.
func testBit(b []byte, pos uint64) bool {
	return b[pos>>3]&(1<<(pos&7)) != 0
}

func setBit(b []byte, pos uint64) {
	b[pos>>3] |= 1 << (pos & 7)
}
