package tailer

import (
	"sort"
	"time"
)

// Line is one complete line read from a tailed file.
type Line struct {
	Path string
	Data []byte
}

// Multi coordinates tailers over a changing set of files. Within one
// Poll cycle, files are visited in sorted path order so output is
// deterministic; lines from one file keep their file order.
type Multi struct {
	baseDelay time.Duration
	tailers   map[string]*Tailer
}

func NewMulti(baseDelay time.Duration) *Multi {
	return &Multi{
		baseDelay: baseDelay,
		tailers:   make(map[string]*Tailer),
	}
}

// Add starts tailing path from offset zero. Adding an already tracked
// path returns the existing tailer untouched.
func (m *Multi) Add(path string) *Tailer {
	if t, ok := m.tailers[path]; ok {
		return t
	}
	t := New(path, m.baseDelay)
	m.tailers[path] = t
	return t
}

// Remove stops tailing path. The final position is returned so callers
// can persist it; ok is false if the path was not tracked.
func (m *Multi) Remove(path string) (Position, bool) {
	t, ok := m.tailers[path]
	if !ok {
		return Position{}, false
	}
	delete(m.tailers, path)
	return t.Position(), true
}

func (m *Multi) Get(path string) (*Tailer, bool) {
	t, ok := m.tailers[path]
	return t, ok
}

func (m *Multi) Contains(path string) bool {
	_, ok := m.tailers[path]
	return ok
}

// Paths returns the tracked paths, sorted.
func (m *Multi) Paths() []string {
	paths := make([]string, 0, len(m.tailers))
	for p := range m.tailers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m *Multi) Len() int { return len(m.tailers) }

// Poll reads new lines from every tracked file. Per-file read errors do
// not abort the cycle; they are returned keyed by path while the other
// files' lines are still delivered.
func (m *Multi) Poll(now time.Time) ([]Line, map[string]error) {
	var lines []Line
	var errs map[string]error

	for _, path := range m.Paths() {
		t := m.tailers[path]
		read, err := t.ReadLines(now)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[path] = err
			continue
		}
		for _, data := range read {
			lines = append(lines, Line{Path: path, Data: data})
		}
	}
	return lines, errs
}

// Positions snapshots every tracked tailer, for state persistence.
func (m *Multi) Positions() []Position {
	positions := make([]Position, 0, len(m.tailers))
	for _, path := range m.Paths() {
		positions = append(positions, m.tailers[path].Position())
	}
	return positions
}
