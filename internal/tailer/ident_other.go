//go:build !unix

package tailer

import "os"

// Without inode identity, rotation falls back to size-based detection
// (size below offset resets to zero).
func fileIdent(fi os.FileInfo) (uint64, uint64) {
	return 0, 0
}
