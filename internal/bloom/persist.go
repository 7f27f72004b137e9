package bloom

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// WriteTo serializes the filter (header followed by the raw bitmap) to w.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	if f.bitmap == nil {
		return 0, newError(InvalidArgument, "save", "", errReleased)
	}

	var hdr [HeaderSize]byte
	if err := EncodeHeader(hdr[:], f.header()); err != nil {
		return 0, newError(WriteFailed, "save", "", err)
	}

	var written int64
	n, err := w.Write(hdr[:])
	written += int64(n)
	if err != nil {
		return written, newError(WriteFailed, "save", "", err)
	}

	n, err = w.Write(f.bitmap)
	written += int64(n)
	if err != nil {
		return written, newError(WriteFailed, "save", "", err)
	}

	return written, nil
}

// Save writes the filter to path.
//
// The record is written to a temporary file next to path, synced, and then
// renamed over path, so readers never observe a half-written filter. Should
// the rename itself not happen, the previous file at path is left untouched.
func (f *Filter) Save(path string) error {
	if f.bitmap == nil {
		return newError(InvalidArgument, "save", path, errReleased)
	}

	tmpName := path + ".tmp"
	fp, err := os.Create(tmpName)
	if err != nil {
		return newError(OpenFailed, "save", path, err)
	}

	// State flags for deferred cleanup.
	var (
		fileClosed    bool
		renameSuccess bool
	)
	defer func() {
		if !fileClosed {
			_ = fp.Close()
		}
		if !renameSuccess {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(fp)
	if _, err := f.WriteTo(bw); err != nil {
		return withPath(err, path)
	}
	if err := bw.Flush(); err != nil {
		return newError(WriteFailed, "save", path, err)
	}
	if err := fp.Sync(); err != nil {
		return newError(WriteFailed, "save", path, err)
	}
	if err := fp.Close(); err != nil {
		return newError(WriteFailed, "save", path, err)
	}
	fileClosed = true

	if err := os.Rename(tmpName, path); err != nil {
		return newError(WriteFailed, "save", path, err)
	}
	renameSuccess = true

	return nil
}

// Load restores a filter saved by Save.
//
// The file must hold exactly one header and the bitmap it describes. Any
// structural mismatch is reported as InvalidFormat without allocating the
// bitmap. The returned filter never has NeedsRebuild set; deciding whether
// the source has changed since the save is up to the caller (see Identity).
func Load(path string) (*Filter, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, newError(OpenFailed, "load", path, err)
	}
	defer func() { _ = fp.Close() }()

	info, err := fp.Stat()
	if err != nil {
		return nil, newError(StatFailed, "load", path, err)
	}

	f, err := ReadFrom(bufio.NewReader(fp), info.Size())
	if err != nil {
		return nil, withPath(err, path)
	}
	return f, nil
}

// ReadFrom decodes a filter from r. size is the total number of bytes the
// record occupies (header plus bitmap); pass -1 when it is unknown, in which
// case only the header's own consistency is checked.
func ReadFrom(r io.Reader, size int64) (*Filter, error) {
	if size >= 0 && size < HeaderSize {
		return nil, newError(InvalidFormat, "load", "", fmt.Errorf("file is %d bytes, shorter than the %d byte header", size, HeaderSize))
	}

	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if err := hdr.Validate(size); err != nil {
		return nil, newError(InvalidFormat, "load", "", err)
	}

	bitmap, err := allocBitmap(hdr.BitmapSize)
	if err != nil {
		return nil, newError(OutOfMemory, "load", "", err)
	}
	if _, err := io.ReadFull(r, bitmap); err != nil {
		return nil, newError(ReadFailed, "load", "", err)
	}

	return &Filter{
		bitmap:      bitmap,
		baseSize:    hdr.BaseSize,
		hashCount:   hdr.HashCount,
		stackCount:  hdr.StackCount,
		maxStacks:   hdr.MaxStacks,
		insertCount: hdr.InsertCount,
		expected:    hdr.Expected,
		accuracy:    hdr.Accuracy,
		identity:    hdr.Identity,
	}, nil
}

// ReadHeader reads and decodes only the header. The magic is checked; the
// remaining fields are returned as stored.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, newError(ReadFailed, "load", "", err)
	}
	hdr, err := DecodeHeader(buf[:])
	if err != nil {
		return Header{}, newError(InvalidFormat, "load", "", err)
	}
	return hdr, nil
}

// withPath fills in the path of an *Error produced by a path-less helper.
func withPath(err error, path string) error {
	var e *Error
	if errors.As(err, &e) && e.Path == "" {
		e.Path = path
	}
	return err
}
