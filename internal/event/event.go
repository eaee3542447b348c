// Package event defines the records flowing out of the realtime pipeline
// and their wire serialization.
package event

import (
	"time"

	"github.com/claudewatch/claudewatch/internal/session"
)

// Type tags an event record.
type Type string

const (
	TypeMessage           Type = "message"
	TypeToolUse           Type = "tool_use"
	TypeToolResult        Type = "tool_result"
	TypeToolCallCompleted Type = "tool_call_completed"
	TypeError             Type = "error"
	TypeSessionStart      Type = "session_start"
	TypeSessionIdle       Type = "session_idle"
	TypeSessionResume     Type = "session_resume"
	TypeSessionEnd        Type = "session_end"
)

// Session end reasons.
const (
	ReasonIdleTimeout = "idle_timeout"
	ReasonFileGone    = "file_gone"
	ReasonShutdown    = "shutdown"
)

// Event is the common surface of all pipeline records.
type Event interface {
	EventType() Type
	Time() time.Time
	Session() string
	// Agent returns the sidechain agent id, empty on the main thread.
	Agent() string
}

// Base carries the fields shared by every event.
type Base struct {
	Timestamp time.Time
	SessionID string
	AgentID   string
}

func (b Base) Time() time.Time { return b.Timestamp }
func (b Base) Session() string { return b.SessionID }
func (b Base) Agent() string   { return b.AgentID }

// MessageEvent is emitted for every parsed conversation message.
type MessageEvent struct {
	Base
	Message session.Message
}

func (MessageEvent) EventType() Type { return TypeMessage }

// ToolUseEvent is emitted per tool_use block, after the enclosing
// message's MessageEvent.
type ToolUseEvent struct {
	Base
	ToolUseID    string
	ToolName     string
	ToolCategory string
	ToolInput    map[string]any
}

func (ToolUseEvent) EventType() Type { return TypeToolUse }

// ToolResultEvent is emitted per tool_result block.
type ToolResultEvent struct {
	Base
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultEvent) EventType() Type { return TypeToolResult }

// ToolCallCompletedEvent is emitted when a live session pairs a result
// with its pending tool_use. Always delivered after the ToolResultEvent
// that completed the pair.
type ToolCallCompletedEvent struct {
	Base
	ToolCall     session.ToolCall
	ToolName     string
	ToolCategory string
	IsError      bool
	Duration     time.Duration
}

func (ToolCallCompletedEvent) EventType() Type { return TypeToolCallCompleted }

// ErrorEvent reports a recoverable pipeline problem: malformed entries,
// schema violations, handler failures.
type ErrorEvent struct {
	Base
	ErrorMessage string
	// RawEntry holds the offending line when the error came from parsing.
	RawEntry string
	// Source is the event a handler failed on, nil for parse errors.
	Source Event
}

func (ErrorEvent) EventType() Type { return TypeError }

// SessionStartEvent precedes the first message of a newly observed session.
type SessionStartEvent struct {
	Base
	ProjectSlug string
	FilePath    string
	CWD         string
}

func (SessionStartEvent) EventType() Type { return TypeSessionStart }

// SessionIdleEvent marks the active -> idle transition.
type SessionIdleEvent struct {
	Base
	IdleSince time.Time
}

func (SessionIdleEvent) EventType() Type { return TypeSessionIdle }

// SessionResumeEvent marks fresh activity on an idle session.
type SessionResumeEvent struct {
	Base
	IdleDuration time.Duration
}

func (SessionResumeEvent) EventType() Type { return TypeSessionResume }

// SessionEndEvent is the final event of a session.
type SessionEndEvent struct {
	Base
	Reason       string
	IdleDuration time.Duration
	MessageCount int
	ToolCount    int
}

func (SessionEndEvent) EventType() Type { return TypeSessionEnd }
