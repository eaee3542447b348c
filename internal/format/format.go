// Package format renders events as terminal lines for the CLI.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
)

// Formatter renders one event as a single output line.
type Formatter interface {
	Format(ev event.Event) (string, error)
}

// JSON renders the wire envelope, one JSON object per line.
type JSON struct{}

func (JSON) Format(ev event.Event) (string, error) {
	data, err := event.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Text renders a compact human-readable line:
//
//	15:04:05 [abcd1234] message    user: fix the race in the tailer
//	15:04:05 [abcd1234] tool_use   Bash (bash)
type Text struct {
	// Preview bounds the message text shown; 0 means 80.
	Preview int
}

func (t Text) Format(ev event.Event) (string, error) {
	preview := t.Preview
	if preview <= 0 {
		preview = 80
	}

	var detail string
	switch e := ev.(type) {
	case event.MessageEvent:
		detail = fmt.Sprintf("%s: %s", e.Message.Role, clip(e.Message.TextContent(), preview))
	case event.ToolUseEvent:
		detail = fmt.Sprintf("%s (%s)", e.ToolName, e.ToolCategory)
	case event.ToolResultEvent:
		if e.IsError {
			detail = fmt.Sprintf("%s error: %s", e.ToolUseID, clip(e.Content, preview))
		} else {
			detail = fmt.Sprintf("%s ok", e.ToolUseID)
		}
	case event.ToolCallCompletedEvent:
		status := "ok"
		if e.IsError {
			status = "error"
		}
		detail = fmt.Sprintf("%s %s in %.2fs", e.ToolName, status, e.Duration.Seconds())
	case event.ErrorEvent:
		detail = e.ErrorMessage
	case event.SessionStartEvent:
		detail = e.ProjectSlug
	case event.SessionIdleEvent:
		detail = fmt.Sprintf("idle since %s", e.IdleSince.Format(time.TimeOnly))
	case event.SessionResumeEvent:
		detail = fmt.Sprintf("after %.0fs idle", e.IdleDuration.Seconds())
	case event.SessionEndEvent:
		detail = fmt.Sprintf("%s (%d messages, %d tools)", e.Reason, e.MessageCount, e.ToolCount)
	}

	line := fmt.Sprintf("%s [%s] %-19s %s",
		ev.Time().Format(time.TimeOnly), shortSession(ev), ev.EventType(), detail)
	return strings.TrimRight(line, " "), nil
}

func shortSession(ev event.Event) string {
	id := ev.Session()
	if len(id) > 8 {
		id = id[:8]
	}
	if agent := ev.Agent(); agent != "" {
		short := agent
		if len(short) > 8 {
			short = short[:8]
		}
		return id + "/" + short
	}
	return id
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
