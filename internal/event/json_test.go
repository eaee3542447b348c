package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/claudewatch/claudewatch/internal/session"
)

func TestMarshalMessageEvent(t *testing.T) {
	ts := time.Date(2026, 2, 1, 9, 30, 0, 123000000, time.UTC)
	ev := MessageEvent{
		Base: Base{Timestamp: ts, SessionID: "sess-1", AgentID: "agent-7"},
		Message: session.Message{
			Role:    session.RoleUser,
			Content: []session.ContentBlock{session.TextBlock{Text: "hello"}},
		},
	}

	data, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("round-trip: %v", err)
	}
	if got["event_type"] != "message" {
		t.Errorf("event_type = %v", got["event_type"])
	}
	if got["session_id"] != "sess-1" || got["agent_id"] != "agent-7" {
		t.Errorf("ids = %v / %v", got["session_id"], got["agent_id"])
	}
	if got["role"] != "user" || got["text_preview"] != "hello" {
		t.Errorf("role/preview = %v / %v", got["role"], got["text_preview"])
	}
	if got["has_tool_calls"] != false {
		t.Errorf("has_tool_calls = %v", got["has_tool_calls"])
	}
	if !strings.HasPrefix(got["timestamp"].(string), "2026-02-01T09:30:00.123") {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
}

func TestMarshalTextPreviewCapped(t *testing.T) {
	long := strings.Repeat("x", 2000)
	ev := MessageEvent{
		Base: Base{Timestamp: time.Now(), SessionID: "s"},
		Message: session.Message{
			Role:    session.RoleAssistant,
			Content: []session.ContentBlock{session.TextBlock{Text: long}},
		},
	}
	data, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got struct {
		TextPreview string `json:"text_preview"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.TextPreview) != 500 {
		t.Errorf("preview length = %d, want 500", len(got.TextPreview))
	}
}

func TestMarshalOmitsAgentOnMainThread(t *testing.T) {
	ev := SessionEndEvent{
		Base:         Base{Timestamp: time.Now(), SessionID: "s"},
		Reason:       ReasonIdleTimeout,
		MessageCount: 4,
		ToolCount:    2,
	}
	data, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["agent_id"]; ok {
		t.Error("agent_id present on main-thread event")
	}
	if got["reason"] != "idle_timeout" {
		t.Errorf("reason = %v", got["reason"])
	}
	if got["message_count"].(float64) != 4 || got["tool_count"].(float64) != 2 {
		t.Errorf("counts = %v / %v", got["message_count"], got["tool_count"])
	}
}

func TestMarshalToolEvents(t *testing.T) {
	use := ToolUseEvent{
		Base:         Base{Timestamp: time.Now(), SessionID: "s"},
		ToolUseID:    "toolu_9",
		ToolName:     "Grep",
		ToolCategory: "search",
		ToolInput:    map[string]any{"pattern": "x"},
	}
	data, err := Marshal(use)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["tool_name"] != "Grep" || got["tool_category"] != "search" || got["tool_use_id"] != "toolu_9" {
		t.Errorf("tool fields = %v", got)
	}
	// Inputs are intentionally not on the wire.
	if _, ok := got["tool_input"]; ok {
		t.Error("tool_input should not be serialized")
	}

	completed := ToolCallCompletedEvent{
		Base:     Base{Timestamp: time.Now(), SessionID: "s"},
		ToolName: "Bash",
		IsError:  true,
		Duration: 1500 * time.Millisecond,
		ToolCall: session.ToolCall{ToolUse: session.ToolUseBlock{ID: "toolu_9"}},
	}
	data, err = Marshal(completed)
	if err != nil {
		t.Fatal(err)
	}
	got = map[string]any{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["is_error"] != true {
		t.Errorf("is_error = %v", got["is_error"])
	}
	if got["duration_seconds"].(float64) != 1.5 {
		t.Errorf("duration_seconds = %v", got["duration_seconds"])
	}
}
