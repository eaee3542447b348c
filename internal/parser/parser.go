// Package parser turns raw JSONL transcript lines into pipeline events.
// It is incremental: each line is parsed on its own, without the rest of
// the session, so events can be emitted as soon as the line lands.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/session"
)

const rawEntryLimit = 1024

// Parser converts transcript entries into events. One entry yields a
// MessageEvent followed by a ToolUseEvent or ToolResultEvent per tool
// block, or a single ErrorEvent when the entry is malformed.
type Parser struct {
	// TruncateInputs bounds tool inputs and result bodies carried on
	// events to MaxInputLength bytes.
	TruncateInputs bool
	MaxInputLength int
}

func New() *Parser {
	return &Parser{
		TruncateInputs: true,
		MaxInputLength: 1024,
	}
}

// rawEntry is the wire shape of one transcript line.
type rawEntry struct {
	UUID        string          `json:"uuid"`
	ParentUUID  *string         `json:"parentUuid"`
	Timestamp   string          `json:"timestamp"`
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	AgentID     string          `json:"agentId"`
	IsSidechain bool            `json:"isSidechain"`
	CWD         string          `json:"cwd"`
	GitBranch   string          `json:"gitBranch"`
	Version     string          `json:"version"`
	Message     json.RawMessage `json:"message"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ParseLine parses one raw transcript line. knownAgentID is the agent id
// already established for the source file, used when a sidechain entry
// omits its own; pass empty for main-thread files.
//
// Malformed lines never return an error: they become ErrorEvents so the
// pipeline keeps flowing.
func (p *Parser) ParseLine(line []byte, knownAgentID string) []event.Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return []event.Event{p.errorEvent("", "", fmt.Sprintf("invalid JSON: %v", err), line)}
	}
	return p.parseEntry(&entry, knownAgentID, line)
}

func (p *Parser) parseEntry(entry *rawEntry, knownAgentID string, line []byte) []event.Event {
	// Non-message entries (summary, queue-operation, file-history
	// snapshots) are not part of the conversation.
	if entry.Type != "user" && entry.Type != "assistant" {
		return nil
	}

	if entry.UUID == "" {
		return []event.Event{p.errorEvent(entry.SessionID, entry.AgentID, "entry missing uuid", line)}
	}
	if entry.SessionID == "" {
		return []event.Event{p.errorEvent("", entry.AgentID, "entry missing sessionId", line)}
	}
	if entry.Timestamp == "" {
		return []event.Event{p.errorEvent(entry.SessionID, entry.AgentID, "entry missing timestamp", line)}
	}
	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return []event.Event{p.errorEvent(entry.SessionID, entry.AgentID,
			fmt.Sprintf("bad timestamp %q: %v", entry.Timestamp, err), line)}
	}

	agentID := entry.AgentID
	if entry.IsSidechain && agentID == "" {
		if knownAgentID == "" {
			return []event.Event{p.errorEvent(entry.SessionID, "",
				"sidechain entry missing agentId", line)}
		}
		agentID = knownAgentID
	}

	var raw rawMessage
	if len(entry.Message) > 0 {
		if err := json.Unmarshal(entry.Message, &raw); err != nil {
			return []event.Event{p.errorEvent(entry.SessionID, agentID,
				fmt.Sprintf("bad message object: %v", err), line)}
		}
	}
	role := session.Role(raw.Role)
	if role == "" {
		role = session.Role(entry.Type)
	}

	msg := session.Message{
		UUID:        entry.UUID,
		Timestamp:   ts,
		Role:        role,
		Content:     p.parseContent(raw.Content),
		SessionID:   entry.SessionID,
		AgentID:     agentID,
		IsSidechain: entry.IsSidechain,
		CWD:         entry.CWD,
		GitBranch:   entry.GitBranch,
		Version:     entry.Version,
		Model:       raw.Model,
	}
	if entry.ParentUUID != nil {
		msg.ParentUUID = *entry.ParentUUID
	}

	base := event.Base{Timestamp: ts, SessionID: msg.SessionID, AgentID: agentID}
	events := []event.Event{event.MessageEvent{Base: base, Message: msg}}

	for _, block := range msg.Content {
		switch b := block.(type) {
		case session.ToolUseBlock:
			input := b.Input
			if p.TruncateInputs {
				input = TruncateInput(input, p.MaxInputLength)
			}
			events = append(events, event.ToolUseEvent{
				Base:         base,
				ToolUseID:    b.ID,
				ToolName:     b.Name,
				ToolCategory: b.Category(),
				ToolInput:    input,
			})
		case session.ToolResultBlock:
			content := b.Content
			if p.TruncateInputs {
				content = TruncateString(content, p.MaxInputLength)
			}
			events = append(events, event.ToolResultEvent{
				Base:      base,
				ToolUseID: b.ToolUseID,
				Content:   content,
				IsError:   b.IsError,
			})
		}
	}
	return events
}

// parseContent decodes a message content field, which is either a plain
// string or an array of tagged blocks. Blocks with an unknown tag are
// dropped.
func (p *Parser) parseContent(raw json.RawMessage) []session.ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []session.ContentBlock{session.TextBlock{Text: text}}
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	var content []session.ContentBlock
	for _, b := range blocks {
		switch b.Type {
		case "text":
			content = append(content, session.TextBlock{Text: b.Text})
		case "tool_use":
			content = append(content, session.ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			content = append(content, session.ToolResultBlock{
				ToolUseID: b.ToolUseID,
				Content:   resultContent(b.Content),
				IsError:   b.IsError,
			})
		}
	}
	return content
}

// resultContent flattens a tool_result content field, which is either a
// string or a nested block array whose text segments are joined.
func resultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return joinLines(parts)
}

func joinLines(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p)
	}
	return buf.String()
}

func (p *Parser) errorEvent(sessionID, agentID, msg string, line []byte) event.ErrorEvent {
	raw := string(line)
	if len(raw) > rawEntryLimit {
		raw = raw[:rawEntryLimit]
	}
	return event.ErrorEvent{
		Base:         event.Base{Timestamp: time.Now().UTC(), SessionID: sessionID, AgentID: agentID},
		ErrorMessage: msg,
		RawEntry:     raw,
	}
}
