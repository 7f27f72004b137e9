// new-check is a diagnostic tool for inspecting and validating the filter
// caches written by new. It streams the file: the header is decoded and
// checked, and the bitmap is only hashed and counted, never held in memory.
//
// It can answer questions like:
//
//   - Is the cache file truncated or corrupted?
//   - How many segments has the filter stacked, and how full is it?
//   - Which file version (inode, device, mtime) does the cache describe?
//   - Do two caches hold the same bitmap?
//
// Usage Examples
// ==============
//
// Basic validation (header fields and structural checks):
//
//	new-check -file ~/.new/78f31065ac1cfdc3
//
// Verbose mode (also hashes the bitmap and reports the fill ratio):
//
//	new-check -file ~/.new/78f31065ac1cfdc3 -v
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is corrupted or unreadable (bad magic, truncated, inconsistent
// sizes, etc.)

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math/bits"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"new.lopezb.com/internal/bloom"
)

// CountReader wraps an io.Reader to track the cumulative byte offset. This is
// used to report the file position in error messages.
type CountReader struct {
	r     io.Reader
	count int64
}

// Read implements io.Reader, passing through to the underlying reader while
// accumulating the byte count.
func (cr *CountReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

func main() {
	filePath := flag.String("file", "", "Path to the filter cache file")
	verbose := flag.Bool("v", false, "Verbose mode (hash the bitmap and report the fill ratio)")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "[err] -file is required")
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] Cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] Cannot stat file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("[offset 0] Checking filter cache %s (%d bytes)\n", *filePath, info.Size())

	counter := &CountReader{r: f}
	reader := bufio.NewReader(counter)
	start := time.Now()

	if info.Size() < bloom.HeaderSize {
		die(0, fmt.Sprintf("File is shorter than the %d byte header", bloom.HeaderSize), nil)
	}

	hdr, err := bloom.ReadHeader(reader)
	if err != nil {
		die(counter.count, "Failed to read header", err)
	}
	describe(os.Stdout, hdr)

	want := bloom.HeaderSize + int64(hdr.BitmapSize)
	if hdr.BitmapSize > uint64(info.Size()) || want != info.Size() {
		fmt.Printf("[offset %d] Size MISMATCH\n", bloom.HeaderSize)
		fmt.Printf("   File:     %d bytes\n", info.Size())
		fmt.Printf("   Expected: %d bytes (header + bitmap)\n", want)
	}

	if err := hdr.Validate(info.Size()); err != nil {
		die(bloom.HeaderSize, "Invalid header", err)
	}
	fmt.Printf("[offset %d] Header OK\n", bloom.HeaderSize)

	for _, w := range sizingWarnings(hdr) {
		fmt.Printf("[warn] %s\n", w)
	}

	if *verbose {
		digest, ones, err := scanBitmap(reader, hdr.BitmapSize)
		if err != nil {
			die(counter.count, "Failed reading bitmap", err)
		}
		fmt.Printf("[offset %d] Bitmap digest %016x\n", bloom.HeaderSize+int64(hdr.BitmapSize), digest)
		fmt.Printf("  Fill Ratio:   %.4f (%d of %d bits set)\n", float64(ones)/float64(hdr.Size), ones, hdr.Size)
	}

	fmt.Println("\nSummary:")
	fmt.Printf("  Process Time: %v\n", time.Since(start))
	fmt.Printf("  Capacity:     %d lines per segment, %d segments\n", hdr.Expected, hdr.StackCount)
	if atStackLimit(hdr) {
		fmt.Println("  Stack Limit:  reached (the next insert will trigger a rebuild)")
	}
}

// atStackLimit reports whether a filter restored from hdr raises
// NeedsRebuild on its next insert.
func atStackLimit(hdr bloom.Header) bool {
	return hdr.MaxStacks != 0 && hdr.StackCount >= hdr.MaxStacks
}

// describe prints every header field.
func describe(w io.Writer, hdr bloom.Header) {
	maxStacks := "unbounded"
	if hdr.MaxStacks != 0 {
		maxStacks = fmt.Sprintf("%d", hdr.MaxStacks)
	}

	fmt.Fprintf(w, "  Magic:        %q\n", bloom.Magic)
	fmt.Fprintf(w, "  Size:         %d bits\n", hdr.Size)
	fmt.Fprintf(w, "  Base Size:    %d bits\n", hdr.BaseSize)
	fmt.Fprintf(w, "  Hash Count:   %d\n", hdr.HashCount)
	fmt.Fprintf(w, "  Bitmap Size:  %d bytes\n", hdr.BitmapSize)
	fmt.Fprintf(w, "  Expected:     %d\n", hdr.Expected)
	fmt.Fprintf(w, "  Accuracy:     %g\n", hdr.Accuracy)
	fmt.Fprintf(w, "  Insert Count: %d\n", hdr.InsertCount)
	fmt.Fprintf(w, "  Stacks:       %d of %s\n", hdr.StackCount, maxStacks)
	fmt.Fprintf(w, "  Source:       ino=%d dev=%d mtime=%s\n",
		hdr.Identity.Ino, hdr.Identity.Dev, time.Unix(int64(hdr.Identity.Mtime), 0).UTC().Format(time.RFC3339))
}

// sizingWarnings compares the stored geometry with the one New would derive
// from the stored capacity and accuracy. A mismatch is not fatal, the filter
// still answers correctly, but it means the file was not written by this
// version.
func sizingWarnings(hdr bloom.Header) []string {
	m, k, err := bloom.EstimateParameters(hdr.Expected, hdr.Accuracy)
	if err != nil {
		return []string{fmt.Sprintf("Cannot derive geometry: %v", err)}
	}

	var warnings []string
	if m != hdr.BaseSize {
		warnings = append(warnings, fmt.Sprintf("Base size %d differs from derived %d", hdr.BaseSize, m))
	}
	if k != hdr.HashCount {
		warnings = append(warnings, fmt.Sprintf("Hash count %d differs from derived %d", hdr.HashCount, k))
	}
	return warnings
}

// scanBitmap consumes n bytes of r, returning their xxHash64 digest and the
// number of set bits.
func scanBitmap(r io.Reader, n uint64) (digest uint64, ones uint64, err error) {
	h := xxhash.New()
	buf := make([]byte, 64*1024)

	remaining := n
	for remaining > 0 {
		chunk := buf
		if uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return 0, 0, err
		}
		_, _ = h.Write(chunk)
		for _, b := range chunk {
			ones += uint64(bits.OnesCount8(b))
		}
		remaining -= uint64(len(chunk))
	}
	return h.Sum64(), ones, nil
}

// die prints a fatal error message with the current file offset and exits.
func die(offset int64, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "[offset %d] Fatal: %s: %v\n", offset, msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "[offset %d] Fatal: %s\n", offset, msg)
	}
	os.Exit(1)
}
