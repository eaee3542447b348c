package event

import (
	"encoding/json"
	"time"
)

// envelope is the wire form shared by webhook delivery and the live feed.
type envelope struct {
	EventType Type   `json:"event_type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`

	// message
	Role         string `json:"role,omitempty"`
	TextPreview  string `json:"text_preview,omitempty"`
	HasToolCalls *bool  `json:"has_tool_calls,omitempty"`

	// tool_use / tool_result / tool_call_completed
	ToolName        string   `json:"tool_name,omitempty"`
	ToolCategory    string   `json:"tool_category,omitempty"`
	ToolUseID       string   `json:"tool_use_id,omitempty"`
	IsError         *bool    `json:"is_error,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`

	// session lifecycle
	ProjectSlug         string   `json:"project_slug,omitempty"`
	FilePath            string   `json:"file_path,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	MessageCount        *int     `json:"message_count,omitempty"`
	ToolCount           *int     `json:"tool_count,omitempty"`
	IdleDurationSeconds *float64 `json:"idle_duration_seconds,omitempty"`

	// error
	ErrorMessage    string `json:"error_message,omitempty"`
	SourceEventType Type   `json:"source_event_type,omitempty"`
}

const textPreviewLimit = 500

// Marshal serializes an event to its compact wire JSON. Bulky payloads
// (tool inputs, result bodies) are deliberately excluded; consumers that
// need them subscribe to the in-process emitter instead.
func Marshal(ev Event) ([]byte, error) {
	env := envelope{
		EventType: ev.EventType(),
		Timestamp: ev.Time().UTC().Format(time.RFC3339Nano),
		SessionID: ev.Session(),
		AgentID:   ev.Agent(),
	}

	switch e := ev.(type) {
	case MessageEvent:
		env.Role = string(e.Message.Role)
		text := e.Message.TextContent()
		if len(text) > textPreviewLimit {
			text = text[:textPreviewLimit]
		}
		env.TextPreview = text
		env.HasToolCalls = boolPtr(e.Message.HasToolCalls())
	case ToolUseEvent:
		env.ToolName = e.ToolName
		env.ToolCategory = e.ToolCategory
		env.ToolUseID = e.ToolUseID
	case ToolResultEvent:
		env.ToolUseID = e.ToolUseID
		env.IsError = boolPtr(e.IsError)
	case ToolCallCompletedEvent:
		env.ToolName = e.ToolName
		env.ToolCategory = e.ToolCategory
		env.ToolUseID = e.ToolCall.ToolUse.ID
		env.IsError = boolPtr(e.IsError)
		if e.Duration > 0 {
			env.DurationSeconds = floatPtr(e.Duration.Seconds())
		}
	case SessionStartEvent:
		env.ProjectSlug = e.ProjectSlug
		env.FilePath = e.FilePath
	case SessionEndEvent:
		env.Reason = e.Reason
		env.MessageCount = intPtr(e.MessageCount)
		env.ToolCount = intPtr(e.ToolCount)
	case SessionResumeEvent:
		env.IdleDurationSeconds = floatPtr(e.IdleDuration.Seconds())
	case ErrorEvent:
		env.ErrorMessage = e.ErrorMessage
		if e.Source != nil {
			env.SourceEventType = e.Source.EventType()
		}
	}

	return json.Marshal(env)
}

func boolPtr(b bool) *bool        { return &b }
func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
