// Package tailer reads appended JSONL lines from files by byte offset.
// Offsets only ever advance past complete newline-terminated lines, so a
// partially written line is re-read on the next poll instead of being
// split. Rotation and truncation reset the offset to zero.
package tailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// maxReadChunk caps the bytes consumed from one file per read call so a
// huge backlog cannot starve the other tailed files in a poll cycle. A
// single line longer than the cap widens the window past it.
const maxReadChunk = 1 << 20

// Position is the serializable resume point for one file.
type Position struct {
	Path           string `json:"path"`
	Device         uint64 `json:"device"`
	Inode          uint64 `json:"inode"`
	Offset         int64  `json:"offset"`
	LastModifiedNs int64  `json:"last_modified_ns"`
}

// Tailer tracks one file. Not safe for concurrent use; the poll loop is
// the only caller.
type Tailer struct {
	path   string
	offset int64
	device uint64
	inode  uint64
	modNs  int64

	baseDelay time.Duration
	maxDelay  time.Duration
	failures  int
	retryAt   time.Time
}

// New creates a tailer starting at offset zero. baseDelay seeds the
// error backoff and normally equals the watcher poll interval.
func New(path string, baseDelay time.Duration) *Tailer {
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Tailer{
		path:      path,
		baseDelay: baseDelay,
		maxDelay:  baseDelay * 16,
	}
}

// Resume adopts a saved position. The position is applied only when the
// file still has the same (device, inode) identity and has not shrunk
// below the saved offset; otherwise the tailer starts from zero.
func (t *Tailer) Resume(pos Position) bool {
	if pos.Path != t.path {
		return false
	}
	fi, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	dev, ino := fileIdent(fi)
	if dev != pos.Device || ino != pos.Inode {
		return false
	}
	if fi.Size() < pos.Offset {
		return false
	}
	t.offset = pos.Offset
	t.device = dev
	t.inode = ino
	t.modNs = pos.LastModifiedNs
	return true
}

// SkipToEnd moves the offset to the current end of file, so only lines
// appended afterwards are reported.
func (t *Tailer) SkipToEnd() error {
	fi, err := os.Stat(t.path)
	if err != nil {
		return fmt.Errorf("skip to end %s: %w", t.path, err)
	}
	t.device, t.inode = fileIdent(fi)
	t.offset = fi.Size()
	t.modNs = fi.ModTime().UnixNano()
	return nil
}

// ReadLines returns the complete lines appended since the last call,
// without their trailing newline. Blank lines are dropped. After an I/O
// error, subsequent calls are no-ops until an exponential backoff delay
// (capped at 16x the base delay) has elapsed.
func (t *Tailer) ReadLines(now time.Time) ([][]byte, error) {
	if t.failures > 0 && now.Before(t.retryAt) {
		return nil, nil
	}
	lines, err := t.read()
	if err != nil {
		t.failures++
		delay := t.baseDelay
		for i := 1; i < t.failures && delay < t.maxDelay; i++ {
			delay *= 2
		}
		if delay > t.maxDelay {
			delay = t.maxDelay
		}
		t.retryAt = now.Add(delay)
		return nil, err
	}
	t.failures = 0
	return lines, nil
}

func (t *Tailer) read() ([][]byte, error) {
	fi, err := os.Stat(t.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", t.path, err)
	}

	dev, ino := fileIdent(fi)
	tracked := t.device != 0 || t.inode != 0
	if tracked && (dev != t.device || ino != t.inode) {
		// Rotated: a different file now lives at this path.
		t.offset = 0
	}
	t.device, t.inode = dev, ino

	if fi.Size() < t.offset {
		// Truncated in place, treat like rotation.
		t.offset = 0
	}
	t.modNs = fi.ModTime().UnixNano()

	total := fi.Size() - t.offset
	if total <= 0 {
		return nil, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	window := total
	if window > maxReadChunk {
		window = maxReadChunk
	}
	var buf []byte
	for {
		if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek %s: %w", t.path, err)
		}
		buf = make([]byte, window)
		n, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", t.path, err)
		}
		buf = buf[:n]
		if window >= total || bytes.IndexByte(buf, '\n') >= 0 {
			break
		}
		// A single line wider than the chunk cap: a capped window
		// would never contain its newline and the offset could never
		// advance. Widen until the newline lands or the file ends.
		window *= 2
		if window > total {
			window = total
		}
	}

	var lines [][]byte
	consumed := 0
	for {
		idx := bytes.IndexByte(buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := buf[consumed : consumed+idx]
		consumed += idx + 1
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}

	// Anything after the last newline stays unconsumed and is re-read
	// once the writer finishes the line.
	t.offset += int64(consumed)
	return lines, nil
}

// Position snapshots the current resume point.
func (t *Tailer) Position() Position {
	return Position{
		Path:           t.path,
		Device:         t.device,
		Inode:          t.inode,
		Offset:         t.offset,
		LastModifiedNs: t.modNs,
	}
}

func (t *Tailer) Path() string { return t.path }

func (t *Tailer) Offset() int64 { return t.offset }
