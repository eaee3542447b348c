//go:build unix

package tailer

import (
	"os"
	"syscall"
)

// fileIdent returns the (device, inode) pair identifying a file across
// renames. Used to detect rotation at a stable path.
func fileIdent(fi os.FileInfo) (uint64, uint64) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev), uint64(st.Ino)
	}
	return 0, 0
}
