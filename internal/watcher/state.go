package watcher

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/claudewatch/claudewatch/internal/tailer"
)

const stateVersion = 1

// stateFile is the on-disk resume format.
type stateFile struct {
	Version   int               `json:"version"`
	Positions []tailer.Position `json:"positions"`
}

// StateStore persists tailer positions so a restarted watcher resumes
// where it left off instead of re-reading whole transcripts.
type StateStore struct {
	mu        sync.Mutex
	path      string
	positions map[string]tailer.Position
	dirty     bool
}

// LoadState reads a state file, tolerating absence and corruption: both
// yield an empty store (corruption is logged). A version newer than this
// binary understands is an error.
func LoadState(path string) (*StateStore, error) {
	s := &StateStore{
		path:      path,
		positions: make(map[string]tailer.Position),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("[watcher] corrupt state file %s, starting fresh: %v", path, err)
		return s, nil
	}
	if f.Version > stateVersion {
		return nil, fmt.Errorf("state file %s has version %d, newer than supported %d",
			path, f.Version, stateVersion)
	}

	for _, pos := range f.Positions {
		s.positions[pos.Path] = pos
	}
	return s, nil
}

// Lookup returns the saved position for a file. Identity checks happen
// in tailer.Resume; the store only remembers.
func (s *StateStore) Lookup(path string) (tailer.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[path]
	return pos, ok
}

// Update records the latest position for a file.
func (s *StateStore) Update(pos tailer.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.positions[pos.Path]; ok && cur == pos {
		return
	}
	s.positions[pos.Path] = pos
	s.dirty = true
}

// Forget drops the position for a file that no longer exists.
func (s *StateStore) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[path]; ok {
		delete(s.positions, path)
		s.dirty = true
	}
}

func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

// SaveIfDirty writes the state only when something changed since the
// last save.
func (s *StateStore) SaveIfDirty() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Save()
}

// Save writes the state atomically: temp file in the same directory,
// fsync, then rename over the target.
func (s *StateStore) Save() error {
	s.mu.Lock()
	f := stateFile{Version: stateVersion}
	for _, pos := range s.positions {
		f.Positions = append(f.Positions, pos)
	}
	path := s.path
	s.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}
