// Package filter provides composable event predicates and a filtering
// dispatch pipeline.
package filter

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/session"
)

// Predicate decides whether an event passes a filter.
type Predicate func(event.Event) bool

// Project matches a project's events. Only session_start events carry
// the slug, so the predicate remembers which session ids started under
// it and matches their later events too. Events from a session whose
// start was never observed do not match.
func Project(slug string) Predicate {
	var mu sync.Mutex
	members := make(map[string]bool)
	return func(ev event.Event) bool {
		if e, ok := ev.(event.SessionStartEvent); ok {
			if e.ProjectSlug != slug {
				return false
			}
			mu.Lock()
			members[e.Session()] = true
			mu.Unlock()
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		return members[ev.Session()]
	}
}

// Session matches events belonging to one session.
func Session(sessionID string) Predicate {
	return func(ev event.Event) bool {
		return ev.Session() == sessionID
	}
}

// SessionPrefix matches sessions whose id starts with prefix, which is
// handy with shortened ids.
func SessionPrefix(prefix string) Predicate {
	return func(ev event.Event) bool {
		return strings.HasPrefix(ev.Session(), prefix)
	}
}

// EventType matches any of the given event types.
func EventType(types ...event.Type) Predicate {
	set := make(map[event.Type]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(ev event.Event) bool {
		return set[ev.EventType()]
	}
}

// ToolName matches tool_use and tool_call_completed events for the
// given tool names.
func ToolName(names ...string) Predicate {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(ev event.Event) bool {
		switch e := ev.(type) {
		case event.ToolUseEvent:
			return set[e.ToolName]
		case event.ToolCallCompletedEvent:
			return set[e.ToolName]
		}
		return false
	}
}

// ToolCategory matches tool_use and tool_call_completed events by
// category (bash, file_read, file_write, search, agent, planning, web,
// interaction, other).
func ToolCategory(categories ...string) Predicate {
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}
	return func(ev event.Event) bool {
		switch e := ev.(type) {
		case event.ToolUseEvent:
			return set[e.ToolCategory]
		case event.ToolCallCompletedEvent:
			return set[e.ToolCategory]
		}
		return false
	}
}

// AnyAgent matches events from any sidechain agent.
func AnyAgent() Predicate {
	return func(ev event.Event) bool {
		return ev.Agent() != ""
	}
}

// Agent matches events from one specific sidechain agent.
func Agent(agentID string) Predicate {
	return func(ev event.Event) bool {
		return ev.Agent() == agentID
	}
}

// MainThread matches events outside any sidechain.
func MainThread() Predicate {
	return func(ev event.Event) bool {
		return ev.Agent() == ""
	}
}

// HasError matches error events and tool results or completions that
// carry an error flag.
func HasError() Predicate {
	return func(ev event.Event) bool {
		switch e := ev.(type) {
		case event.ErrorEvent:
			return true
		case event.ToolResultEvent:
			return e.IsError
		case event.ToolCallCompletedEvent:
			return e.IsError
		}
		return false
	}
}

// Role matches message events by sender role.
func Role(role session.Role) Predicate {
	return func(ev event.Event) bool {
		if e, ok := ev.(event.MessageEvent); ok {
			return e.Message.Role == role
		}
		return false
	}
}

// CWD matches message events whose working directory, or any parent of
// it, matches one of the glob patterns. A pattern like "/home/u/work/*"
// therefore also matches sessions running in nested subdirectories.
// Messages without a working directory never match.
func CWD(patterns ...string) Predicate {
	return func(ev event.Event) bool {
		e, ok := ev.(event.MessageEvent)
		if !ok || e.Message.CWD == "" {
			return false
		}
		for _, pattern := range patterns {
			if matchPathOrParent(pattern, e.Message.CWD) {
				return true
			}
		}
		return false
	}
}

func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// And passes when every predicate passes. With no predicates it always
// passes.
func And(preds ...Predicate) Predicate {
	return func(ev event.Event) bool {
		for _, p := range preds {
			if !p(ev) {
				return false
			}
		}
		return true
	}
}

// Or passes when any predicate passes. With no predicates it never
// passes.
func Or(preds ...Predicate) Predicate {
	return func(ev event.Event) bool {
		for _, p := range preds {
			if p(ev) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(ev event.Event) bool {
		return !p(ev)
	}
}

// Always passes everything.
func Always() Predicate {
	return func(event.Event) bool { return true }
}

// Never passes nothing.
func Never() Predicate {
	return func(event.Event) bool { return false }
}
