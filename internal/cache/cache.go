// Package cache locates and sizes the persisted filters that back a corpus
// file.
//
// Every corpus file gets one cache file in ~/.new, named after the hash of the
// corpus path. A cache is trusted only while the corpus still has the inode,
// device and modification time recorded in it (see Stale).
package cache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"new.lopezb.com/internal/mmh3"
)

const (
	// DirName is the cache directory inside the user's home.
	DirName = ".new"

	// DirPerm is enforced on the cache directory; caches reveal which files
	// a user deduplicates against.
	DirPerm os.FileMode = 0o700

	// DefaultInitialSize is the filter capacity used for small corpora and
	// for corpora without any newline.
	DefaultInitialSize = 10000

	// LargeFileThreshold is the corpus size above which the filter is sized
	// from the actual line count.
	LargeFileThreshold = 100 * 1024
)

// Home returns the user's home directory: $HOME, or the account database
// entry when $HOME is unset.
func Home() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	if u.HomeDir == "" {
		return "", errors.New("could not determine home directory")
	}
	return u.HomeDir, nil
}

// Dir returns the cache directory under home.
func Dir(home string) string {
	return filepath.Join(home, DirName)
}

// EnsureDir creates dir with DirPerm if needed and tightens its permissions
// if they are looser or different.
func EnsureDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(dir, DirPerm); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		info, err = os.Stat(dir)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dir)
	}

	if info.Mode().Perm() != DirPerm {
		if err := os.Chmod(dir, DirPerm); err != nil {
			return fmt.Errorf("chmod %s: %w", dir, err)
		}
	}
	return nil
}

// PathFor returns the cache file for the corpus at sourcePath. sourcePath
// should be absolute so that every invocation maps to the same cache.
func PathFor(dir, sourcePath string) string {
	return filepath.Join(dir, mmh3.HexDigest(sourcePath, 0))
}

// CountLines counts the newlines in the file at path. A file without any
// newline reports DefaultInitialSize so callers never size a filter for zero
// elements.
func CountLines(path string) (uint64, error) {
	fp, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = fp.Close() }()

	br := bufio.NewReaderSize(fp, 64*1024)
	buf := make([]byte, 64*1024)

	var count uint64
	for {
		n, err := br.Read(buf)
		count += uint64(bytes.Count(buf[:n], []byte{'\n'}))
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}

	if count == 0 {
		return DefaultInitialSize, nil
	}
	return count, nil
}

// IsLarge reports whether the file at path exceeds LargeFileThreshold. A
// missing file is not large.
func IsLarge(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > LargeFileThreshold
}

// ExpectedFor returns the capacity for a fresh filter over the corpus at
// path: twice its line count when the corpus is large, initial otherwise.
// The headroom lets the corpus double before the first growth.
func ExpectedFor(path string, initial uint64) uint64 {
	if !IsLarge(path) {
		return initial
	}
	lines, err := CountLines(path)
	if err != nil {
		return initial
	}
	return lines * 2
}
