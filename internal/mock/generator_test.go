package mock

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/parser"
)

func TestStepWritesParseableTranscripts(t *testing.T) {
	dir := t.TempDir()
	g := New(Config{Dir: dir, Sessions: 2, Seed: 1})

	now := time.Now()
	for i := 0; i < 30; i++ {
		if err := g.Step(now.Add(time.Duration(i) * time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "projects", "*", "*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 {
		t.Fatalf("transcripts = %d, want >= 2", len(files))
	}

	p := parser.New()
	var messages, toolUses, toolResults, errors int
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			for _, ev := range p.ParseLine(sc.Bytes(), "") {
				switch ev.EventType() {
				case event.TypeMessage:
					messages++
				case event.TypeToolUse:
					toolUses++
				case event.TypeToolResult:
					toolResults++
				case event.TypeError:
					errors++
				}
			}
		}
		f.Close()
	}

	if errors != 0 {
		t.Errorf("generated %d malformed entries", errors)
	}
	if messages == 0 || toolUses == 0 {
		t.Errorf("messages = %d, tool uses = %d; script too thin", messages, toolUses)
	}
	// Every result answers an earlier use in the same file.
	if toolResults > toolUses {
		t.Errorf("results = %d > uses = %d", toolResults, toolUses)
	}
}

func TestSessionsRotate(t *testing.T) {
	dir := t.TempDir()
	g := New(Config{Dir: dir, Sessions: 1, Seed: 7})

	now := time.Now()
	// More steps than any one script lasts (max 8+16 entries).
	for i := 0; i < 60; i++ {
		if err := g.Step(now.Add(time.Duration(i) * time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "projects", "*", "*.jsonl"))
	if len(files) < 2 {
		t.Errorf("files = %d, want session turnover", len(files))
	}
}
