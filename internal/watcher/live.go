package watcher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/session"
)

// RetentionPolicy controls how much message history a live session keeps.
type RetentionPolicy string

const (
	// RetentionFull keeps every message.
	RetentionFull RetentionPolicy = "full"
	// RetentionSliding keeps the newest MaxMessages per thread.
	RetentionSliding RetentionPolicy = "sliding"
	// RetentionNone keeps counters only.
	RetentionNone RetentionPolicy = "none"
)

// orphanResultLimit bounds buffered tool results whose tool_use has not
// been seen yet (typically from before the watcher attached). Oldest
// entries are dropped first.
const orphanResultLimit = 1024

// LiveConfig tunes live session accumulation.
type LiveConfig struct {
	Retention   RetentionPolicy
	MaxMessages int
}

func DefaultLiveConfig() LiveConfig {
	return LiveConfig{Retention: RetentionFull, MaxMessages: 1000}
}

type pendingCall struct {
	use     session.ToolUseBlock
	request session.Message
}

type orphanResult struct {
	id      string
	result  session.ToolResultBlock
	message session.Message
}

// LiveSession accumulates one in-progress session's state from events.
// Safe for concurrent reads while the poll loop writes.
type LiveSession struct {
	mu  sync.RWMutex
	cfg LiveConfig

	SessionID   string
	ProjectSlug string

	mainMessages  []session.Message
	agentMessages map[string][]session.Message

	pending   map[string]pendingCall
	seenUses  map[string]bool
	orphans   []orphanResult
	completed []session.ToolCall

	startTime    time.Time
	lastActivity time.Time

	cwd       string
	gitBranch string
	version   string
	pid       int32

	messageCount  int
	toolCallCount int
}

func NewLiveSession(sessionID, projectSlug string, cfg LiveConfig, now time.Time) *LiveSession {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 1000
	}
	if cfg.Retention == "" {
		cfg.Retention = RetentionFull
	}
	return &LiveSession{
		cfg:           cfg,
		SessionID:     sessionID,
		ProjectSlug:   projectSlug,
		agentMessages: make(map[string][]session.Message),
		pending:       make(map[string]pendingCall),
		seenUses:      make(map[string]bool),
		startTime:     now,
		lastActivity:  now,
	}
}

// HandleEvent folds one event into the session. When a tool result
// completes a pending pair, the ToolCall is returned. A duplicate
// tool_use id is rejected: the error event to emit is returned and the
// original pending call is left untouched.
func (s *LiveSession) HandleEvent(ev event.Event, now time.Time) (*session.ToolCall, *event.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now

	switch e := ev.(type) {
	case event.MessageEvent:
		s.addMessage(e.Message)
	case event.ToolUseEvent:
		return s.addToolUse(e)
	case event.ToolResultEvent:
		return s.addToolResult(e), nil
	}
	return nil, nil
}

func (s *LiveSession) addMessage(msg session.Message) {
	s.messageCount++
	if s.messageCount == 1 {
		s.cwd = msg.CWD
		s.gitBranch = msg.GitBranch
		s.version = msg.Version
	}
	if s.cfg.Retention == RetentionNone {
		return
	}

	if msg.AgentID != "" && msg.IsSidechain {
		s.agentMessages[msg.AgentID] = append(s.agentMessages[msg.AgentID], msg)
	} else {
		s.mainMessages = append(s.mainMessages, msg)
	}

	if s.cfg.Retention == RetentionSliding {
		s.enforceWindow()
	}
}

func (s *LiveSession) enforceWindow() {
	max := s.cfg.MaxMessages
	if n := len(s.mainMessages); n > max {
		s.mainMessages = append([]session.Message(nil), s.mainMessages[n-max:]...)
	}
	for id, msgs := range s.agentMessages {
		if n := len(msgs); n > max {
			s.agentMessages[id] = append([]session.Message(nil), msgs[n-max:]...)
		}
	}
}

func (s *LiveSession) addToolUse(e event.ToolUseEvent) (*session.ToolCall, *event.ErrorEvent) {
	if s.seenUses[e.ToolUseID] {
		return nil, &event.ErrorEvent{
			Base:         event.Base{Timestamp: e.Timestamp, SessionID: s.SessionID, AgentID: e.AgentID},
			ErrorMessage: fmt.Sprintf("duplicate tool_use_id %s for tool %s", e.ToolUseID, e.ToolName),
		}
	}
	s.seenUses[e.ToolUseID] = true
	s.toolCallCount++

	use := session.ToolUseBlock{ID: e.ToolUseID, Name: e.ToolName, Input: e.ToolInput}
	request := session.Message{
		Timestamp: e.Timestamp,
		Role:      session.RoleAssistant,
		SessionID: e.SessionID,
		AgentID:   e.AgentID,
	}

	// A buffered orphan result may already answer this call.
	for i, o := range s.orphans {
		if o.id == e.ToolUseID {
			s.orphans = append(s.orphans[:i:i], s.orphans[i+1:]...)
			return s.complete(use, request, o.result, o.message), nil
		}
	}

	s.pending[e.ToolUseID] = pendingCall{use: use, request: request}
	return nil, nil
}

func (s *LiveSession) addToolResult(e event.ToolResultEvent) *session.ToolCall {
	result := session.ToolResultBlock{ToolUseID: e.ToolUseID, Content: e.Content, IsError: e.IsError}
	response := session.Message{
		Timestamp: e.Timestamp,
		Role:      session.RoleUser,
		SessionID: e.SessionID,
		AgentID:   e.AgentID,
	}

	pc, ok := s.pending[e.ToolUseID]
	if !ok {
		s.orphans = append(s.orphans, orphanResult{id: e.ToolUseID, result: result, message: response})
		if len(s.orphans) > orphanResultLimit {
			s.orphans = s.orphans[len(s.orphans)-orphanResultLimit:]
		}
		return nil
	}
	delete(s.pending, e.ToolUseID)
	return s.complete(pc.use, pc.request, result, response)
}

func (s *LiveSession) complete(use session.ToolUseBlock, request session.Message,
	result session.ToolResultBlock, response session.Message) *session.ToolCall {
	call := session.ToolCall{
		ToolUse:         use,
		ToolResult:      &result,
		RequestMessage:  &request,
		ResponseMessage: &response,
	}
	s.completed = append(s.completed, call)
	return &call
}

func (s *LiveSession) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messageCount
}

func (s *LiveSession) ToolCallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toolCallCount
}

func (s *LiveSession) PendingToolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

func (s *LiveSession) CompletedToolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completed)
}

func (s *LiveSession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *LiveSession) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTime
}

func (s *LiveSession) CWD() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

// ErrNoHistory is returned by ToSession when retention is none.
var ErrNoHistory = errors.New("live session retains no message history")

// ToSession snapshots the accumulated state into an immutable Session.
func (s *LiveSession) ToSession() (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg.Retention == RetentionNone {
		return nil, ErrNoHistory
	}

	agents := make(map[string]*session.Agent, len(s.agentMessages))
	for id, msgs := range s.agentMessages {
		agents[id] = &session.Agent{
			AgentID:   id,
			SessionID: s.SessionID,
			Thread:    session.Thread{Messages: append([]session.Message(nil), msgs...)},
		}
	}

	return &session.Session{
		SessionID:   s.SessionID,
		ProjectSlug: s.ProjectSlug,
		MainThread:  session.Thread{Messages: append([]session.Message(nil), s.mainMessages...)},
		Agents:      agents,
		CWD:         s.cwd,
		GitBranch:   s.gitBranch,
		Version:     s.version,
	}, nil
}

// Summary is the JSON shape served by the sessions API.
type Summary struct {
	SessionID       string    `json:"session_id"`
	ProjectSlug     string    `json:"project_slug"`
	MessageCount    int       `json:"message_count"`
	ToolCallCount   int       `json:"tool_call_count"`
	PendingTools    int       `json:"pending_tool_calls"`
	CompletedTools  int       `json:"completed_tool_calls"`
	AgentCount      int       `json:"agent_count"`
	StartTime       time.Time `json:"start_time"`
	LastActivity    time.Time `json:"last_activity"`
	DurationSeconds float64   `json:"duration_seconds"`
	CWD             string    `json:"cwd,omitempty"`
	PID             int32     `json:"pid,omitempty"`
}

func (s *LiveSession) Summarize(now time.Time) Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		SessionID:       s.SessionID,
		ProjectSlug:     s.ProjectSlug,
		MessageCount:    s.messageCount,
		ToolCallCount:   s.toolCallCount,
		PendingTools:    len(s.pending),
		CompletedTools:  len(s.completed),
		AgentCount:      len(s.agentMessages),
		StartTime:       s.startTime,
		LastActivity:    s.lastActivity,
		DurationSeconds: now.Sub(s.startTime).Seconds(),
		CWD:             s.cwd,
		PID:             s.pid,
	}
}

// SetPID records the host process driving this session, found by the
// watcher's process sampling.
func (s *LiveSession) SetPID(pid int32) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

// LiveManager tracks the live sessions for a watcher. Ended sessions
// stay readable until ClearEnded.
type LiveManager struct {
	mu     sync.RWMutex
	cfg    LiveConfig
	active map[string]*LiveSession
	ended  map[string]*LiveSession
}

func NewLiveManager(cfg LiveConfig) *LiveManager {
	return &LiveManager{
		cfg:    cfg,
		active: make(map[string]*LiveSession),
		ended:  make(map[string]*LiveSession),
	}
}

func (m *LiveManager) GetOrCreate(sessionID, projectSlug string, now time.Time) *LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[sessionID]; ok {
		return s
	}
	s := NewLiveSession(sessionID, projectSlug, m.cfg, now)
	m.active[sessionID] = s
	return s
}

func (m *LiveManager) Get(sessionID string) *LiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

func (m *LiveManager) GetEnded(sessionID string) *LiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ended[sessionID]
}

// HandleEvent routes an event to its session, creating it on demand.
// Returns like LiveSession.HandleEvent.
func (m *LiveManager) HandleEvent(ev event.Event, now time.Time) (*session.ToolCall, *event.ErrorEvent) {
	sessionID := ev.Session()
	if sessionID == "" {
		return nil, nil
	}

	switch e := ev.(type) {
	case event.SessionStartEvent:
		m.GetOrCreate(sessionID, e.ProjectSlug, now)
		return nil, nil
	case event.SessionEndEvent:
		m.EndSession(sessionID)
		return nil, nil
	case event.SessionIdleEvent, event.SessionResumeEvent:
		return nil, nil
	}

	return m.GetOrCreate(sessionID, "", now).HandleEvent(ev, now)
}

// EndSession archives a session; it becomes reachable via GetEnded.
func (m *LiveManager) EndSession(sessionID string) *LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[sessionID]
	if !ok {
		return nil
	}
	delete(m.active, sessionID)
	m.ended[sessionID] = s
	return s
}

func (m *LiveManager) ActiveSessions() []*LiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LiveSession, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s)
	}
	return out
}

func (m *LiveManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *LiveManager) ClearEnded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.ended)
	m.ended = make(map[string]*LiveSession)
	return n
}
