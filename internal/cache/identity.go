package cache

import (
	"fmt"
	"os"

	"new.lopezb.com/internal/bloom"
)

// Stat returns the identity of the file at path: inode, device and
// modification time in whole seconds.
func Stat(path string) (bloom.Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return bloom.Identity{}, err
	}
	ino, dev := fileID(info)
	return bloom.Identity{
		Ino:   ino,
		Dev:   dev,
		Mtime: uint64(info.ModTime().Unix()),
	}, nil
}

// Stale reports whether f no longer describes the corpus at sourcePath. An
// unreadable corpus is always stale.
func Stale(f *bloom.Filter, sourcePath string) bool {
	id, err := Stat(sourcePath)
	if err != nil {
		return true
	}
	return id != f.Identity()
}

// Stamp records the current identity of sourcePath in f.
func Stamp(f *bloom.Filter, sourcePath string) error {
	id, err := Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", sourcePath, err)
	}
	f.SetIdentity(id)
	return nil
}
