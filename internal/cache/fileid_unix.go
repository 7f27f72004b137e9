//go:build unix

package cache

import (
	"os"
	"syscall"
)

func fileID(info os.FileInfo) (ino, dev uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Ino), uint64(st.Dev)
}
