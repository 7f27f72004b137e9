//go:build !unix

package cache

import "os"

// fileID has no portable inode/device outside unix; staleness then rests on
// the modification time alone.
func fileID(os.FileInfo) (ino, dev uint64) {
	return 0, 0
}
