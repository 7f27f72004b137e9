package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Header is the fixed-size record that precedes the bitmap in a saved
// filter. All fields are little-endian.
//
//	+--------+--------+--------+--------+--------+--------+-------+------+
//	| Magic  | Size   | Base   | Hash   | Bitmap | Expect | Accur | Rsvd |
//	|        | (bits) | Size   | Count  | Size   |        | f32   |      |
//	+--------+--------+--------+--------+--------+--------+-------+------+
//	  8B       8B       8B       8B       8B       8B       4B      4B
//
//	+--------+--------+--------+--------+--------+--------+
//	| Insert | Stack  | Max    | Ino    | Dev    | Mtime  |
//	| Count  | Count  | Stacks |        |        |        |
//	+--------+--------+--------+--------+--------+--------+
//	  8B       8B       8B       8B       8B       8B
//
// The reserved word at offset 52 is not a field of the logical record, which
// lists insert_count directly after the 4-byte accuracy. It is the padding a
// C compiler puts there on 64-bit little-endian hosts, so files written by
// earlier releases load unchanged. Every 64-bit field stays 8-byte aligned,
// giving a 104-byte header instead of 100. The word is written as zero and
// ignored on decode.
type Header struct {
	Size        uint64
	BaseSize    uint64
	HashCount   uint64
	BitmapSize  uint64
	Expected    uint64
	Accuracy    float32
	InsertCount uint64
	StackCount  uint64
	MaxStacks   uint64
	Identity    Identity
}

const (
	// Magic tags a saved filter.
	Magic = "!bloomz!"

	// HeaderSize is the encoded size of Header in bytes.
	HeaderSize = 104

	offMagic       = 0
	offSize        = 8
	offBaseSize    = 16
	offHashCount   = 24
	offBitmapSize  = 32
	offExpected    = 40
	offAccuracy    = 48
	offReserved    = 52
	offInsertCount = 56
	offStackCount  = 64
	offMaxStacks   = 72
	offIno         = 80
	offDev         = 88
	offMtime       = 96
)

var (
	errBadMagic      = errors.New("header magic invalid")
	errShortHeader   = errors.New("buffer shorter than header")
	errSizeMismatch  = errors.New("bitmap size does not match bit count")
	errStackMismatch = errors.New("bit count does not match base size times stack count")
)

// EncodeHeader writes h into dst, which must be at least HeaderSize bytes.
func EncodeHeader(dst []byte, h Header) error {
	if len(dst) < HeaderSize {
		return errShortHeader
	}
	le := binary.LittleEndian

	copy(dst[offMagic:offSize], Magic)
	le.PutUint64(dst[offSize:], h.Size)
	le.PutUint64(dst[offBaseSize:], h.BaseSize)
	le.PutUint64(dst[offHashCount:], h.HashCount)
	le.PutUint64(dst[offBitmapSize:], h.BitmapSize)
	le.PutUint64(dst[offExpected:], h.Expected)
	le.PutUint32(dst[offAccuracy:], math.Float32bits(h.Accuracy))
	le.PutUint32(dst[offReserved:], 0)
	le.PutUint64(dst[offInsertCount:], h.InsertCount)
	le.PutUint64(dst[offStackCount:], h.StackCount)
	le.PutUint64(dst[offMaxStacks:], h.MaxStacks)
	le.PutUint64(dst[offIno:], h.Identity.Ino)
	le.PutUint64(dst[offDev:], h.Identity.Dev)
	le.PutUint64(dst[offMtime:], h.Identity.Mtime)
	return nil
}

// DecodeHeader parses the header at the start of src. It checks the magic
// only; structural checks are done by Validate.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, errShortHeader
	}
	if string(src[offMagic:offSize]) != Magic {
		return Header{}, errBadMagic
	}
	le := binary.LittleEndian

	return Header{
		Size:        le.Uint64(src[offSize:]),
		BaseSize:    le.Uint64(src[offBaseSize:]),
		HashCount:   le.Uint64(src[offHashCount:]),
		BitmapSize:  le.Uint64(src[offBitmapSize:]),
		Expected:    le.Uint64(src[offExpected:]),
		Accuracy:    math.Float32frombits(le.Uint32(src[offAccuracy:])),
		InsertCount: le.Uint64(src[offInsertCount:]),
		StackCount:  le.Uint64(src[offStackCount:]),
		MaxStacks:   le.Uint64(src[offMaxStacks:]),
		Identity: Identity{
			Ino:   le.Uint64(src[offIno:]),
			Dev:   le.Uint64(src[offDev:]),
			Mtime: le.Uint64(src[offMtime:]),
		},
	}, nil
}

// Validate checks the header's internal consistency and, when fileSize is
// non-negative, that the file holds exactly the header plus the bitmap.
func (h Header) Validate(fileSize int64) error {
	// bitmap_size * 8 must equal size without overflowing.
	if h.BitmapSize > math.MaxUint64/8 || h.BitmapSize*8 != h.Size {
		return errSizeMismatch
	}
	if fileSize >= 0 {
		total, carry := bits.Add64(HeaderSize, h.BitmapSize, 0)
		if carry != 0 || total != uint64(fileSize) {
			return fmt.Errorf("file is %d bytes, header describes %d", fileSize, HeaderSize+h.BitmapSize)
		}
	}
	if h.BaseSize == 0 || h.BaseSize%8 != 0 {
		return fmt.Errorf("base size %d is not a positive multiple of 8", h.BaseSize)
	}
	if h.StackCount == 0 {
		return errors.New("stack count is zero")
	}
	hi, lo := bits.Mul64(h.BaseSize, h.StackCount)
	if hi != 0 || lo != h.Size {
		return errStackMismatch
	}
	if h.HashCount == 0 || h.HashCount > MaxHashCount {
		return fmt.Errorf("hash count %d outside [1, %d]", h.HashCount, MaxHashCount)
	}
	if h.Expected == 0 {
		return errors.New("expected element count is zero")
	}
	return nil
}

// header returns the record describing f.
func (f *Filter) header() Header {
	return Header{
		Size:        f.Size(),
		BaseSize:    f.baseSize,
		HashCount:   f.hashCount,
		BitmapSize:  uint64(len(f.bitmap)),
		Expected:    f.expected,
		Accuracy:    f.accuracy,
		InsertCount: f.insertCount,
		StackCount:  f.stackCount,
		MaxStacks:   f.maxStacks,
		Identity:    f.identity,
	}
}
