package bloom

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
)

// Populate feeds every line of r through TestAndInsert, discarding the
// results. One trailing '\n' is stripped per line and a final line without a
// newline is still inserted. Lines of any length are accepted.
//
// Populate assumes the filter was sized for r; it relies on the filter's own
// growth and rebuild signalling. If reading fails midway the lines already
// consumed stay in the filter and the caller decides whether to keep it.
func (f *Filter) Populate(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)

	// long accumulates lines that overflow the reader's buffer.
	var long []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			long = append(long, chunk...)
			continue
		}

		line := chunk
		if len(long) > 0 {
			long = append(long, chunk...)
			line = long
		}

		if len(line) > 0 {
			line = bytes.TrimSuffix(line, []byte{'\n'})
			if _, ierr := f.TestAndInsert(line); ierr != nil {
				return ierr
			}
		}
		long = long[:0]

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return newError(ReadFailed, "populate", "", err)
		}
	}
}

// PopulateFromFile is Populate over the contents of path.
func (f *Filter) PopulateFromFile(path string) error {
	fp, err := os.Open(path)
	if err != nil {
		return newError(OpenFailed, "populate", path, err)
	}
	defer func() { _ = fp.Close() }()

	return withPath(f.Populate(fp), path)
}
