package session

import (
	"sort"
	"strings"
	"time"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// toolCategories maps tool names (case-sensitive) to coarse categories.
var toolCategories = map[string]string{
	"Read":            "file_read",
	"Write":           "file_write",
	"Edit":            "file_write",
	"NotebookEdit":    "file_write",
	"Bash":            "bash",
	"KillShell":       "bash",
	"Glob":            "search",
	"Grep":            "search",
	"Task":            "agent",
	"TaskOutput":      "agent",
	"TodoWrite":       "planning",
	"EnterPlanMode":   "planning",
	"ExitPlanMode":    "planning",
	"WebFetch":        "web",
	"WebSearch":       "web",
	"AskUserQuestion": "interaction",
}

// ToolCategory returns the category for a tool name, "other" if unknown.
func ToolCategory(name string) string {
	if c, ok := toolCategories[name]; ok {
		return c
	}
	return "other"
}

// ContentBlock is one element of a message's content array. The concrete
// types are TextBlock, ToolUseBlock, and ToolResultBlock; blocks with an
// unrecognized tag are dropped at parse time rather than represented here.
type ContentBlock interface {
	BlockType() string
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return "text" }

type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) BlockType() string { return "tool_use" }

// Category returns the tool's category per ToolCategory.
func (b ToolUseBlock) Category() string { return ToolCategory(b.Name) }

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// Message is a single entry in a conversation. ParentUUID is empty for
// thread roots; AgentID is empty on the main thread.
type Message struct {
	UUID       string
	ParentUUID string
	Timestamp  time.Time
	Role       Role
	Content    []ContentBlock

	SessionID   string
	AgentID     string
	IsSidechain bool

	CWD       string
	GitBranch string
	Version   string
	Model     string
}

// TextContent concatenates all text blocks, newline-separated.
func (m *Message) TextContent() string {
	var parts []string
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks in content order.
func (m *Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, b := range m.Content {
		if u, ok := b.(ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks in content order.
func (m *Message) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, b := range m.Content {
		if r, ok := b.(ToolResultBlock); ok {
			results = append(results, r)
		}
	}
	return results
}

// HasToolCalls reports whether the message contains any tool_use block.
func (m *Message) HasToolCalls() bool {
	for _, b := range m.Content {
		if _, ok := b.(ToolUseBlock); ok {
			return true
		}
	}
	return false
}

// ToolCall pairs an assistant tool_use with the user tool_result that
// answered it. Result fields are nil while the call is still in flight.
type ToolCall struct {
	ToolUse         ToolUseBlock
	ToolResult      *ToolResultBlock
	RequestMessage  *Message
	ResponseMessage *Message
}

func (c *ToolCall) ToolName() string { return c.ToolUse.Name }

func (c *ToolCall) Category() string { return c.ToolUse.Category() }

func (c *ToolCall) IsError() bool {
	return c.ToolResult != nil && c.ToolResult.IsError
}

func (c *ToolCall) Timestamp() time.Time { return c.RequestMessage.Timestamp }

func (c *ToolCall) SessionID() string { return c.RequestMessage.SessionID }

// Duration is the wall time between request and response messages,
// zero while the result is pending.
func (c *ToolCall) Duration() time.Duration {
	if c.ResponseMessage == nil {
		return 0
	}
	return c.ResponseMessage.Timestamp.Sub(c.RequestMessage.Timestamp)
}

// Thread is a linear message sequence linked by ParentUUID.
type Thread struct {
	Messages []Message
}

// Root returns the first message without a parent, or the first message
// if none qualifies. Nil on an empty thread.
func (t *Thread) Root() *Message {
	for i := range t.Messages {
		if t.Messages[i].ParentUUID == "" {
			return &t.Messages[i]
		}
	}
	if len(t.Messages) > 0 {
		return &t.Messages[0]
	}
	return nil
}

// ToolCalls pairs tool_use blocks with subsequent tool_result blocks.
// Duplicate tool_use IDs keep the first occurrence; unmatched uses are
// returned with a nil result. Sorted by request timestamp.
func (t *Thread) ToolCalls() []ToolCall {
	var calls []ToolCall
	seen := make(map[string]bool)
	pending := make(map[string]int) // tool_use id -> index in calls

	for i := range t.Messages {
		msg := &t.Messages[i]
		switch msg.Role {
		case RoleAssistant:
			for _, use := range msg.ToolUses() {
				if seen[use.ID] {
					continue
				}
				seen[use.ID] = true
				pending[use.ID] = len(calls)
				calls = append(calls, ToolCall{ToolUse: use, RequestMessage: msg})
			}
		case RoleUser:
			for _, res := range msg.ToolResults() {
				idx, ok := pending[res.ToolUseID]
				if !ok {
					continue
				}
				delete(pending, res.ToolUseID)
				r := res
				calls[idx].ToolResult = &r
				calls[idx].ResponseMessage = msg
			}
		}
	}

	sort.SliceStable(calls, func(i, j int) bool {
		return calls[i].Timestamp().Before(calls[j].Timestamp())
	})
	return calls
}

// MessagesByRole filters messages by role.
func (t *Thread) MessagesByRole(role Role) []Message {
	var out []Message
	for _, m := range t.Messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// Agent is a sidechain conversation spawned by the Task tool. It shares
// the session but runs its own thread.
type Agent struct {
	AgentID   string
	SessionID string
	Thread    Thread
}

func (a *Agent) StartTime() time.Time {
	if root := a.Thread.Root(); root != nil {
		return root.Timestamp
	}
	return time.Time{}
}

// Session is a complete conversation: the main thread plus sidechain agents.
type Session struct {
	SessionID   string
	ProjectSlug string
	MainThread  Thread
	Agents      map[string]*Agent

	CWD       string
	GitBranch string
	Version   string
}

func (s *Session) StartTime() time.Time {
	if root := s.MainThread.Root(); root != nil {
		return root.Timestamp
	}
	return time.Time{}
}

func (s *Session) EndTime() time.Time {
	var latest time.Time
	for _, m := range s.AllMessages() {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest
}

// AllMessages returns main-thread and sidechain messages sorted by timestamp.
func (s *Session) AllMessages() []Message {
	msgs := make([]Message, 0, len(s.MainThread.Messages))
	msgs = append(msgs, s.MainThread.Messages...)
	for _, a := range s.Agents {
		msgs = append(msgs, a.Thread.Messages...)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}

// AllToolCalls returns tool calls from all threads sorted by timestamp.
func (s *Session) AllToolCalls() []ToolCall {
	calls := s.MainThread.ToolCalls()
	for _, a := range s.Agents {
		calls = append(calls, a.Thread.ToolCalls()...)
	}
	sort.SliceStable(calls, func(i, j int) bool {
		return calls[i].Timestamp().Before(calls[j].Timestamp())
	})
	return calls
}

func (s *Session) MessageCount() int { return len(s.AllMessages()) }

func (s *Session) ToolCallCount() int { return len(s.AllToolCalls()) }

func (s *Session) Duration() time.Duration {
	start, end := s.StartTime(), s.EndTime()
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// Project groups the sessions found under one ~/.claude/projects directory.
type Project struct {
	Slug     string
	Path     string
	Sessions map[string]*Session
}

// DecodeSlug best-effort decodes a project slug back to a filesystem path.
// The encoding is lossy (dashes in path components collide with separators),
// so the result is a guess, not an identity.
func DecodeSlug(slug string) string {
	if !strings.HasPrefix(slug, "-") {
		return ""
	}
	return strings.ReplaceAll(slug, "-", "/")
}
