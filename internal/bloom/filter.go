// Package bloom implements a self-scaling, persistent Bloom filter used to
// deduplicate lines of text against a growing corpus.
//
// A Bloom filter is a probabilistic data structure that allows checking if an
// element is *definitely not* in a set or *probably* in a set. It is highly
// space-efficient but does not support deletion.
//
// Stacking
// ========
//
// A classic Bloom filter has a fixed capacity. Once exceeded, the false
// positive rate (FPR) rises rapidly. Scalable Bloom Filters (Almeida et al.)
// solve this with a chain of ever larger, ever tighter layers. This package
// uses a cheaper scheme: the bitmap is split into equally sized segments
// ("stacks"), each sized for the original expected element count.
//
//	+---------------------+---------------------+-----+---------------------+
//	| Segment 0           | Segment 1           | ... | Segment N-1         |
//	| (base_size bits)    | (base_size bits)    |     | (active)            |
//	+---------------------+---------------------+-----+---------------------+
//
// Lookups probe every segment, inserts only touch the last one. When the last
// segment has received `expected` inserts, a fresh zeroed segment is
// appended. Growth is O(1) amortised and never rehashes earlier elements, but
// the aggregate FPR degrades as segments accumulate: a false positive in any
// one segment taints the whole lookup.
//
// For that reason the number of segments can be capped. As soon as an insert
// brings the filter to the cap, it raises NeedsRebuild. The filter cannot fix
// this itself (elements cannot be extracted from the bits); the caller must
// build a larger filter from the authoritative source.
//
// The Algorithm
// =============
//
// Each element is hashed once with MurmurHash3 x64-128. The two 64-bit halves
// (h1, h2) are expanded into k probe values with the Kirsch-Mitzenmacher
// optimisation g_i = h1 + i*h2. In segment s, probe i addresses bit
//
//	g_i % base_size + s*base_size
//
// of the bitmap. The hash and the bit numbering are part of the file format:
// a saved filter is only useful if later processes probe the same bits.
//
// A Filter is not safe for concurrent use.
package bloom

import (
	"log/slog"
	"math/bits"

	"github.com/cespare/xxhash/v2"

	"new.lopezb.com/internal/mmh3"
)

const (
	// DefaultAccuracy is the target false positive rate used by the CLI.
	DefaultAccuracy = 0.0001

	// MaxHashCount bounds k. Sizing never exceeds it for any float32
	// accuracy; on load it rejects corrupted headers before they can force
	// huge probe buffers.
	MaxHashCount = 256
)

// Identity describes the source file a filter was built from. The filter
// never interprets it; it is carried through Save and Load so the caller can
// detect a changed source.
type Identity struct {
	Ino   uint64
	Dev   uint64
	Mtime uint64
}

// Filter is a stacked Bloom filter with an exclusively owned bitmap.
type Filter struct {
	// bitmap holds stackCount segments of baseSize bits each.
	bitmap []byte

	baseSize  uint64
	hashCount uint64

	stackCount  uint64
	maxStacks   uint64
	insertCount uint64

	// expected and accuracy are the original sizing targets. They are kept
	// so a rebuild can size its replacement.
	expected uint64
	accuracy float32

	needsRebuild bool
	identity     Identity
}

// New creates an empty filter with one segment sized for expected elements
// at the given false positive rate. maxStacks caps automatic growth; zero
// means unbounded.
func New(expected uint64, accuracy float32, maxStacks uint64) (*Filter, error) {
	baseSize, hashCount, err := EstimateParameters(expected, accuracy)
	if err != nil {
		return nil, err
	}

	bitmap, err := allocBitmap(baseSize / 8)
	if err != nil {
		return nil, newError(OutOfMemory, "init", "", err)
	}

	return &Filter{
		bitmap:     bitmap,
		baseSize:   baseSize,
		hashCount:  hashCount,
		stackCount: 1,
		maxStacks:  maxStacks,
		expected:   expected,
		accuracy:   accuracy,
	}, nil
}

// Release drops the bitmap. It is safe to call Release multiple times;
// every other operation on a released filter fails with InvalidArgument.
func (f *Filter) Release() {
	f.bitmap = nil
}

// TestAndInsert reports whether elem was (probably) seen before and records
// it if not.
//
// The boolean is always valid. A non-nil error means the automatic growth
// triggered by this insert failed; the element was still recorded in the
// current last segment, the filter is otherwise unchanged and growth is
// attempted again on the next insert.
func (f *Filter) TestAndInsert(elem []byte) (bool, error) {
	if f.bitmap == nil {
		return false, newError(InvalidArgument, "insert", "", errReleased)
	}

	probes := getProbes(int(f.hashCount))
	defer putProbes(probes)

	hashes := *probes
	mmh3.MakeHashes(elem, hashes)

	if f.lookup(hashes) {
		return true, nil
	}

	// Insert into the last segment only.
	offset := (f.stackCount - 1) * f.baseSize
	for _, h := range hashes {
		setBit(f.bitmap, h%f.baseSize+offset)
	}
	f.insertCount++

	var err error
	if f.insertCount >= f.expected && f.canGrow() {
		err = f.Grow()
	}

	// Evaluated after growth, so the insert that adds the last allowed
	// segment raises the flag.
	if f.maxStacks != 0 && f.stackCount >= f.maxStacks {
		f.needsRebuild = true
	}

	return false, err
}

// TestAndInsertString is TestAndInsert over the bytes of s.
func (f *Filter) TestAndInsertString(s string) (bool, error) {
	return f.TestAndInsert([]byte(s))
}

// lookup scans segments from oldest to newest. It returns true as soon as
// one segment has every probed bit set.
func (f *Filter) lookup(hashes []uint64) bool {
	for s := uint64(0); s < f.stackCount; s++ {
		offset := s * f.baseSize
		found := true
		for _, h := range hashes {
			if !testBit(f.bitmap, h%f.baseSize+offset) {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

func (f *Filter) canGrow() bool {
	return f.maxStacks == 0 || f.stackCount < f.maxStacks
}

// Grow appends one zeroed segment and makes it the insert target.
//
// Grow fails with StackLimit when the filter already holds maxStacks
// segments, and with OutOfMemory when the larger bitmap cannot be allocated.
// On failure the filter is unchanged.
func (f *Filter) Grow() error {
	if f.bitmap == nil {
		return newError(InvalidArgument, "grow", "", errReleased)
	}
	if !f.canGrow() {
		return newError(StackLimit, "grow", "", nil)
	}

	bitmap, err := extendBitmap(f.bitmap, f.baseSize/8)
	if err != nil {
		return newError(OutOfMemory, "grow", "", err)
	}

	f.bitmap = bitmap
	f.stackCount++
	f.insertCount = 0
	return nil
}

// Size returns the total number of bits (BaseSize * StackCount).
func (f *Filter) Size() uint64 { return f.baseSize * f.stackCount }

// BaseSize returns the number of bits per segment.
func (f *Filter) BaseSize() uint64 { return f.baseSize }

// BitmapSize returns the bitmap length in bytes.
func (f *Filter) BitmapSize() uint64 { return uint64(len(f.bitmap)) }

// HashCount returns k, the number of bits probed per segment.
func (f *Filter) HashCount() uint64 { return f.hashCount }

// StackCount returns the number of segments.
func (f *Filter) StackCount() uint64 { return f.stackCount }

// MaxStacks returns the segment cap; zero means unbounded.
func (f *Filter) MaxStacks() uint64 { return f.maxStacks }

// InsertCount returns the number of inserts into the last segment.
func (f *Filter) InsertCount() uint64 { return f.insertCount }

// Expected returns the per-segment capacity the filter was sized for.
func (f *Filter) Expected() uint64 { return f.expected }

// Accuracy returns the target false positive rate per segment.
func (f *Filter) Accuracy() float32 { return f.accuracy }

// NeedsRebuild reports whether the filter has reached its segment cap. Once
// set it never clears; the caller must replace the filter.
func (f *Filter) NeedsRebuild() bool { return f.needsRebuild }

// Identity returns the source identity recorded with SetIdentity or Load.
func (f *Filter) Identity() Identity { return f.identity }

// SetIdentity records the source identity. The filter only stores it and
// writes it on Save.
func (f *Filter) SetIdentity(id Identity) { f.identity = id }

// FillRatio returns the fraction of bitmap bits that are set.
func (f *Filter) FillRatio() float64 {
	if len(f.bitmap) == 0 {
		return 0
	}
	var ones int
	for _, b := range f.bitmap {
		ones += bits.OnesCount8(b)
	}
	return float64(ones) / float64(len(f.bitmap)*8)
}

// Digest returns the xxHash64 of the bitmap. Two filters with equal digests
// and equal headers answer every query identically.
func (f *Filter) Digest() uint64 {
	return xxhash.Sum64(f.bitmap)
}

// Stats is a point-in-time copy of the filter's counters.
type Stats struct {
	Size         uint64
	BaseSize     uint64
	HashCount    uint64
	StackCount   uint64
	MaxStacks    uint64
	InsertCount  uint64
	Expected     uint64
	Accuracy     float32
	NeedsRebuild bool
}

// Stats returns the current counters.
func (f *Filter) Stats() Stats {
	return Stats{
		Size:         f.Size(),
		BaseSize:     f.baseSize,
		HashCount:    f.hashCount,
		StackCount:   f.stackCount,
		MaxStacks:    f.maxStacks,
		InsertCount:  f.insertCount,
		Expected:     f.expected,
		Accuracy:     f.accuracy,
		NeedsRebuild: f.needsRebuild,
	}
}

// LogValue implements slog.LogValuer so a Stats can be logged as a group.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("size", s.Size),
		slog.Uint64("base_size", s.BaseSize),
		slog.Uint64("hash_count", s.HashCount),
		slog.Uint64("stacks", s.StackCount),
		slog.Uint64("max_stacks", s.MaxStacks),
		slog.Uint64("insert_count", s.InsertCount),
		slog.Uint64("expected", s.Expected),
		slog.Float64("accuracy", float64(s.Accuracy)),
		slog.Bool("needs_rebuild", s.NeedsRebuild),
	)
}
