package watcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/claudewatch/claudewatch/internal/tailer"
)

func TestStateSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("fresh store has %d positions", s.Len())
	}

	s.Update(tailer.Position{Path: "/p/a.jsonl", Device: 5, Inode: 42, Offset: 1000, LastModifiedNs: 99})
	s.Update(tailer.Position{Path: "/p/b.jsonl", Device: 5, Inode: 43, Offset: 10})
	if err := s.SaveIfDirty(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	pos, ok := loaded.Lookup("/p/a.jsonl")
	if !ok {
		t.Fatal("position missing after reload")
	}
	if pos.Inode != 42 || pos.Offset != 1000 || pos.LastModifiedNs != 99 {
		t.Errorf("pos = %+v", pos)
	}
	if loaded.Len() != 2 {
		t.Errorf("len = %d", loaded.Len())
	}
}

func TestStateFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, _ := LoadState(path)
	s.Update(tailer.Position{Path: "/p/a.jsonl", Device: 1, Inode: 2, Offset: 3, LastModifiedNs: 4})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		Version   int `json:"version"`
		Positions []map[string]any
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw.Version != 1 {
		t.Errorf("version = %d", raw.Version)
	}
	if len(raw.Positions) != 1 {
		t.Fatalf("positions = %d", len(raw.Positions))
	}
	for _, key := range []string{"path", "device", "inode", "offset", "last_modified_ns"} {
		if _, ok := raw.Positions[0][key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}

func TestStateCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("corrupt state should not error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestStateNewerVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"positions":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Error("newer version should be rejected")
	}
}

func TestStateSaveIfDirtySkipsCleanStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, _ := LoadState(path)

	if err := s.SaveIfDirty(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("clean store should not write a file")
	}

	s.Update(tailer.Position{Path: "/p/a.jsonl", Offset: 1})
	if err := s.SaveIfDirty(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("dirty store should write: %v", err)
	}

	// Re-saving the identical position keeps the store clean.
	s.Update(tailer.Position{Path: "/p/a.jsonl", Offset: 1})
	info1, _ := os.Stat(path)
	if err := s.SaveIfDirty(); err != nil {
		t.Fatal(err)
	}
	info2, _ := os.Stat(path)
	if info1.ModTime() != info2.ModTime() {
		t.Error("identical update should not mark dirty")
	}
}

func TestStateForget(t *testing.T) {
	s, _ := LoadState(filepath.Join(t.TempDir(), "state.json"))
	s.Update(tailer.Position{Path: "/p/a.jsonl", Offset: 1})
	s.Forget("/p/a.jsonl")
	if _, ok := s.Lookup("/p/a.jsonl"); ok {
		t.Error("forgotten position still present")
	}
}
