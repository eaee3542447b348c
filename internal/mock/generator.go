// Package mock writes synthetic session transcripts so the pipeline
// can be demoed and load-tested without a live assistant.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var commonTools = []struct {
	name  string
	input map[string]any
}{
	{"Read", map[string]any{"file_path": "/home/user/myproject/main.go"}},
	{"Edit", map[string]any{"file_path": "/home/user/myproject/main.go", "old_string": "foo", "new_string": "bar"}},
	{"Bash", map[string]any{"command": "go test ./..."}},
	{"Grep", map[string]any{"pattern": "TODO", "path": "."}},
	{"Glob", map[string]any{"pattern": "**/*.go"}},
	{"Write", map[string]any{"file_path": "/home/user/myproject/new.go", "content": "package main"}},
}

var userPrompts = []string{
	"fix the failing test in the tailer package",
	"add a retry to the webhook client",
	"why does the poll loop skip the last line?",
	"refactor the config loader to apply defaults first",
}

var assistantReplies = []string{
	"I'll take a look at that now.",
	"The test fails because the offset is not reset after rotation.",
	"Done. The retry uses exponential backoff capped at three attempts.",
	"That happens when the final line has no trailing newline yet.",
}

// Config controls the generator.
type Config struct {
	// Dir is the base path; transcripts land under Dir/projects/<slug>/.
	Dir string
	// Sessions is how many sessions write concurrently; default 3.
	Sessions int
	// Interval is the delay between appends per session; default 500ms.
	Interval time.Duration
	// Seed fixes the random stream; 0 seeds from the clock.
	Seed int64
}

func (c *Config) applyDefaults() {
	if c.Sessions <= 0 {
		c.Sessions = 3
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Generator drives a handful of scripted sessions, appending one
// transcript entry per session per tick.
type Generator struct {
	cfg      Config
	rng      *rand.Rand
	sessions []*scriptedSession
	seq      int
}

type scriptedSession struct {
	id      string
	path    string
	cwd     string
	uuidSeq int
	// pendingTool holds the id of an unanswered tool_use.
	pendingTool string
	remaining   int
}

func New(cfg Config) *Generator {
	cfg.applyDefaults()
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Run appends entries until ctx is canceled.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := g.Step(now); err != nil {
				return err
			}
		}
	}
}

// Step advances every scripted session by one entry, replacing finished
// sessions with fresh ones.
func (g *Generator) Step(now time.Time) error {
	for len(g.sessions) < g.cfg.Sessions {
		s, err := g.newSession()
		if err != nil {
			return err
		}
		g.sessions = append(g.sessions, s)
	}

	alive := g.sessions[:0]
	for _, s := range g.sessions {
		if err := g.append(s, now); err != nil {
			return err
		}
		if s.remaining > 0 {
			alive = append(alive, s)
		}
	}
	g.sessions = alive
	return nil
}

func (g *Generator) newSession() (*scriptedSession, error) {
	g.seq++
	project := fmt.Sprintf("-home-user-demo-%d", g.seq%4)
	dir := filepath.Join(g.cfg.Dir, "projects", project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("demo-%08x", g.rng.Uint32())
	return &scriptedSession{
		id:        id,
		path:      filepath.Join(dir, id+".jsonl"),
		cwd:       fmt.Sprintf("/home/user/demo-%d", g.seq%4),
		remaining: 8 + g.rng.Intn(16),
	}, nil
}

// append writes the session's next entry: an open tool call is answered
// first, otherwise the script alternates prompts, replies, and tool use.
func (g *Generator) append(s *scriptedSession, now time.Time) error {
	s.remaining--
	s.uuidSeq++
	entry := map[string]any{
		"uuid":      fmt.Sprintf("%s-%04d", s.id, s.uuidSeq),
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"sessionId": s.id,
		"cwd":       s.cwd,
	}

	switch {
	case s.pendingTool != "":
		entry["type"] = "user"
		entry["message"] = map[string]any{
			"role": "user",
			"content": []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": s.pendingTool,
				"content":     "ok",
				"is_error":    g.rng.Intn(10) == 0,
			}},
		}
		s.pendingTool = ""
	case g.rng.Intn(3) == 0:
		tool := commonTools[g.rng.Intn(len(commonTools))]
		s.pendingTool = fmt.Sprintf("toolu_%s_%04d", s.id, s.uuidSeq)
		entry["type"] = "assistant"
		entry["message"] = map[string]any{
			"role": "assistant",
			"content": []map[string]any{{
				"type":  "tool_use",
				"id":    s.pendingTool,
				"name":  tool.name,
				"input": tool.input,
			}},
		}
	case g.rng.Intn(2) == 0:
		entry["type"] = "user"
		entry["message"] = map[string]any{
			"role":    "user",
			"content": userPrompts[g.rng.Intn(len(userPrompts))],
		}
	default:
		entry["type"] = "assistant"
		entry["message"] = map[string]any{
			"role": "assistant",
			"content": []map[string]any{{
				"type": "text",
				"text": assistantReplies[g.rng.Intn(len(assistantReplies))],
			}},
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}
