package format

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/session"
)

var when = time.Date(2026, 8, 24, 15, 4, 5, 0, time.UTC)

func TestJSONLines(t *testing.T) {
	ev := event.ToolUseEvent{
		Base:         event.Base{Timestamp: when, SessionID: "abcd1234efgh"},
		ToolUseID:    "toolu_1",
		ToolName:     "Bash",
		ToolCategory: "bash",
	}
	line, err := JSON{}.Format(ev)
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if payload["event_type"] != "tool_use" || payload["tool_name"] != "Bash" {
		t.Errorf("payload = %v", payload)
	}
	if strings.Contains(line, "\n") {
		t.Error("line contains newline")
	}
}

func TestTextMessageLine(t *testing.T) {
	ev := event.MessageEvent{
		Base: event.Base{Timestamp: when, SessionID: "abcd1234efgh"},
		Message: session.Message{
			Role:    session.RoleUser,
			Content: []session.ContentBlock{session.TextBlock{Text: "fix the race\nin the tailer"}},
		},
	}
	line, err := Text{}.Format(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "15:04:05 [abcd1234] message") {
		t.Errorf("line = %q", line)
	}
	if !strings.Contains(line, "user: fix the race in the tailer") {
		t.Errorf("line = %q", line)
	}
}

func TestTextPreviewClipped(t *testing.T) {
	ev := event.MessageEvent{
		Base: event.Base{Timestamp: when, SessionID: "s"},
		Message: session.Message{
			Role:    session.RoleAssistant,
			Content: []session.ContentBlock{session.TextBlock{Text: strings.Repeat("x", 200)}},
		},
	}
	line, _ := Text{Preview: 40}.Format(ev)
	if !strings.Contains(line, strings.Repeat("x", 40)+"…") {
		t.Errorf("line = %q", line)
	}
	if strings.Contains(line, strings.Repeat("x", 41)) {
		t.Errorf("preview not clipped: %q", line)
	}
}

func TestTextAgentSuffix(t *testing.T) {
	ev := event.ToolUseEvent{
		Base:         event.Base{Timestamp: when, SessionID: "abcd1234efgh", AgentID: "agent007xyz"},
		ToolName:     "Grep",
		ToolCategory: "search",
	}
	line, _ := Text{}.Format(ev)
	if !strings.Contains(line, "[abcd1234/agent007]") {
		t.Errorf("line = %q", line)
	}
}

func TestTextLifecycleLines(t *testing.T) {
	end := event.SessionEndEvent{
		Base:         event.Base{Timestamp: when, SessionID: "abcd1234efgh"},
		Reason:       event.ReasonIdleTimeout,
		MessageCount: 12,
		ToolCount:    5,
	}
	line, _ := Text{}.Format(end)
	if !strings.Contains(line, "session_end") || !strings.Contains(line, "idle_timeout (12 messages, 5 tools)") {
		t.Errorf("line = %q", line)
	}

	completed := event.ToolCallCompletedEvent{
		Base:     event.Base{Timestamp: when, SessionID: "abcd1234efgh"},
		ToolName: "Bash",
		Duration: 1500 * time.Millisecond,
	}
	line, _ = Text{}.Format(completed)
	if !strings.Contains(line, "Bash ok in 1.50s") {
		t.Errorf("line = %q", line)
	}
}
