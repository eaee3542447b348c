// Package watcher ties the pipeline together: it discovers session
// transcript files under the projects directory, tails them, parses new
// lines into events, drives the session lifecycle state machine, and
// fans events out to handlers and streams.
package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claudewatch/claudewatch/internal/emitter"
	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/parser"
	"github.com/claudewatch/claudewatch/internal/proc"
	"github.com/claudewatch/claudewatch/internal/tailer"
)

// Config controls watcher behavior. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	// BasePath is the assistant's data directory; sessions live under
	// BasePath/projects/<slug>/*.jsonl.
	BasePath string

	PollInterval time.Duration
	IdleTimeout  time.Duration
	EndTimeout   time.Duration

	// ProcessExisting reads pre-existing file content on startup; when
	// false, existing files are tailed from their current end.
	ProcessExisting   bool
	EmitSessionEvents bool

	TruncateInputs bool
	MaxInputLength int

	// StateFile enables resumable positions when non-empty.
	StateFile    string
	SaveInterval time.Duration

	// LiveSessions enables in-memory session accumulation and tool
	// call pairing.
	LiveSessions bool
	Live         LiveConfig

	// StreamCapacity bounds channels handed out by Events().
	StreamCapacity int

	// Notify enables fsnotify-assisted discovery. The poll loop works
	// without it, just with up to one poll interval of extra latency.
	Notify bool

	// TrackProcesses samples host assistant processes and attaches
	// them to sessions by working directory.
	TrackProcesses bool
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		BasePath:          filepath.Join(home, ".claude"),
		PollInterval:      500 * time.Millisecond,
		IdleTimeout:       2 * time.Minute,
		EndTimeout:        5 * time.Minute,
		ProcessExisting:   true,
		EmitSessionEvents: true,
		TruncateInputs:    true,
		MaxInputLength:    1024,
		SaveInterval:      30 * time.Second,
		Live:              DefaultLiveConfig(),
		StreamCapacity:    defaultStreamCapacity,
		Notify:            true,
	}
}

// ProjectsPath is where project transcript directories live.
func (c Config) ProjectsPath() string {
	return filepath.Join(c.BasePath, "projects")
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = d.EndTimeout
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = d.MaxInputLength
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = d.SaveInterval
	}
	if c.StreamCapacity <= 0 {
		c.StreamCapacity = d.StreamCapacity
	}
	if c.Live.MaxMessages <= 0 {
		c.Live = DefaultLiveConfig()
	}
}

// Stats is a read-only view of one tracked session.
type Stats struct {
	SessionID    string    `json:"session_id"`
	ProjectSlug  string    `json:"project_slug"`
	FilePath     string    `json:"file_path"`
	MessageCount int       `json:"message_count"`
	ToolCount    int       `json:"tool_count"`
	IsIdle       bool      `json:"is_idle"`
	IsEnded      bool      `json:"is_ended"`
	LastActivity time.Time `json:"last_activity"`
	CWD          string    `json:"cwd,omitempty"`
	PID          int32     `json:"pid,omitempty"`
}

type trackedSession struct {
	sessionID   string
	projectSlug string
	filePath    string

	// agentFiles maps a sidechain transcript path to the agent id
	// learned from its entries, empty until the first one names it.
	agentFiles map[string]string

	lastActivity time.Time
	isIdle       bool
	idleSince    time.Time
	isEnded      bool

	messageCount int
	toolCount    int
	cwd          string
	pid          int32
}

// Watcher is the realtime pipeline driver. One poll goroutine owns all
// parsing and dispatch, so handlers observe events in file-byte order
// per session.
type Watcher struct {
	cfg     Config
	emitter *emitter.Emitter
	parser  *parser.Parser
	live    *LiveManager
	state   *StateStore

	mu            sync.RWMutex
	sessions      map[string]*trackedSession
	fileToSession map[string]string
	multi         *tailer.Multi

	notify *notifier

	streamMu sync.Mutex
	streams  []*Stream
	dropped  atomic.Uint64

	hostProcs    atomic.Int64
	lastProcScan time.Time

	lastSave time.Time
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

func New(cfg Config) (*Watcher, error) {
	cfg.applyDefaults()

	w := &Watcher{
		cfg:           cfg,
		emitter:       emitter.New(),
		sessions:      make(map[string]*trackedSession),
		fileToSession: make(map[string]string),
		multi:         tailer.NewMulti(cfg.PollInterval),
		stop:          make(chan struct{}),
	}
	w.parser = &parser.Parser{
		TruncateInputs: cfg.TruncateInputs,
		MaxInputLength: cfg.MaxInputLength,
	}
	if cfg.LiveSessions {
		w.live = NewLiveManager(cfg.Live)
	}
	if cfg.StateFile != "" {
		state, err := LoadState(cfg.StateFile)
		if err != nil {
			return nil, err
		}
		w.state = state
	}
	return w, nil
}

// On registers a handler for one event type.
func (w *Watcher) On(t event.Type, h emitter.Handler) func() {
	return w.emitter.On(t, h)
}

// OnAny registers a handler for every event.
func (w *Watcher) OnAny(h emitter.Handler) func() {
	return w.emitter.OnAny(h)
}

// Events returns a bounded channel of all events. Slow consumers lose
// the oldest buffered events rather than stalling the pipeline.
func (w *Watcher) Events() *Stream {
	s := newStream(w.cfg.StreamCapacity)
	w.streamMu.Lock()
	w.streams = append(w.streams, s)
	w.streamMu.Unlock()
	return s
}

// Live returns the live session manager, nil unless enabled.
func (w *Watcher) Live() *LiveManager { return w.live }

// DroppedEvents counts events dropped from overflowing streams.
func (w *Watcher) DroppedEvents() uint64 { return w.dropped.Load() }

// HostProcessCount is the latest assistant process sample size.
func (w *Watcher) HostProcessCount() int { return int(w.hostProcs.Load()) }

// Config returns the effective configuration.
func (w *Watcher) Config() Config { return w.cfg }

// Start runs the poll loop until ctx is canceled or Stop is called. On
// the way out every active session ends with reason "shutdown" and
// state is saved.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}
	defer w.running.Store(false)

	if w.cfg.Notify {
		n, err := newNotifier(w.cfg.ProjectsPath())
		if err != nil {
			log.Printf("[watcher] fsnotify unavailable, polling only: %v", err)
		} else {
			w.notify = n
		}
	}

	log.Printf("[watcher] watching %s (poll %s, idle %s, end %s)",
		w.cfg.ProjectsPath(), w.cfg.PollInterval, w.cfg.IdleTimeout, w.cfg.EndTimeout)

	now := time.Now()
	w.lastSave = now
	w.scanProjects(now, true)
	w.poll(now)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown(time.Now())
			return nil
		case <-w.stop:
			w.shutdown(time.Now())
			return nil
		case now := <-ticker.C:
			w.poll(now)
		}
	}
}

// Stop asks a running Start to shut down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// RunFor watches for a fixed duration, then shuts down.
func (w *Watcher) RunFor(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return w.Start(ctx)
}

// poll is one cycle: discover files, read new lines, dispatch events,
// advance the lifecycle state machine, persist positions.
func (w *Watcher) poll(now time.Time) {
	if w.notify != nil {
		for _, path := range w.notify.drain() {
			w.handleFile(path, now, false)
		}
	}
	w.scanProjects(now, false)
	w.readSessions(now)
	w.checkTimeouts(now)
	if w.cfg.TrackProcesses && now.Sub(w.lastProcScan) >= 5*time.Second {
		w.lastProcScan = now
		w.sampleProcesses()
	}
	w.persistPositions(now)
}

// scanProjects walks the projects tree. It is the authoritative
// discovery path: new files are tracked, and tracked sessions whose
// file vanished end with reason "file_gone".
func (w *Watcher) scanProjects(now time.Time, initial bool) {
	projectsPath := w.cfg.ProjectsPath()
	entries, err := os.ReadDir(projectsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[watcher] scan %s: %v", projectsPath, err)
		}
		return
	}

	seen := make(map[string]bool)
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(projectsPath, dir.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(projectsPath, dir.Name(), f.Name())
			seen[path] = true
			w.handleFile(path, now, initial)
		}
	}

	// Main files that disappeared end their session; vanished agent
	// files are just dropped.
	w.mu.Lock()
	var gone []*trackedSession
	for path, sessionID := range w.fileToSession {
		if seen[path] {
			continue
		}
		ts := w.sessions[sessionID]
		if ts == nil {
			delete(w.fileToSession, path)
			continue
		}
		if path == ts.filePath {
			if !ts.isEnded {
				gone = append(gone, ts)
			}
		} else {
			delete(ts.agentFiles, path)
			delete(w.fileToSession, path)
			w.multi.Remove(path)
			if w.state != nil {
				w.state.Forget(path)
			}
		}
	}
	w.mu.Unlock()

	for _, ts := range gone {
		w.endSession(ts, event.ReasonFileGone, now)
	}
}

// handleFile routes one discovered .jsonl path. Main session files are
// named <session-id>.jsonl; sidechain files are agent-*.jsonl and
// attach to their session via the sessionId of their first entry.
func (w *Watcher) handleFile(path string, now time.Time, initial bool) {
	w.mu.RLock()
	_, known := w.fileToSession[path]
	w.mu.RUnlock()
	if known {
		return
	}

	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if strings.HasPrefix(stem, "agent-") {
		w.attachAgentFile(path, now, initial)
		return
	}
	w.trackSession(stem, filepath.Base(filepath.Dir(path)), path, now, initial)
}

func (w *Watcher) trackSession(sessionID, projectSlug, path string, now time.Time, initial bool) {
	w.mu.Lock()
	if _, exists := w.sessions[sessionID]; exists {
		w.mu.Unlock()
		return
	}
	ts := &trackedSession{
		sessionID:    sessionID,
		projectSlug:  projectSlug,
		filePath:     path,
		agentFiles:   make(map[string]string),
		lastActivity: now,
	}
	w.sessions[sessionID] = ts
	w.fileToSession[path] = sessionID
	w.addTailer(path, initial)
	w.mu.Unlock()

	log.Printf("[watcher] tracking session %s (%s)", shortID(sessionID), projectSlug)

	if w.cfg.EmitSessionEvents {
		w.emit(event.SessionStartEvent{
			Base:        event.Base{Timestamp: now, SessionID: sessionID},
			ProjectSlug: projectSlug,
			FilePath:    path,
		})
	}
}

// addTailer registers path with the multi-tailer, resuming a persisted
// position when it still matches the file. Callers hold w.mu.
func (w *Watcher) addTailer(path string, initial bool) {
	t := w.multi.Add(path)
	if w.state != nil {
		if pos, ok := w.state.Lookup(path); ok && t.Resume(pos) {
			return
		}
	}
	if initial && !w.cfg.ProcessExisting {
		if err := t.SkipToEnd(); err != nil {
			log.Printf("[watcher] skip to end %s: %v", path, err)
		}
	}
}

// attachAgentFile associates a sidechain transcript with its session.
// The owning session is read from the file's first entry; until that
// session is tracked the file stays unclaimed and is retried on the
// next scan.
func (w *Watcher) attachAgentFile(path string, now time.Time, initial bool) {
	sessionID := sessionIDFromFile(path)
	if sessionID == "" {
		return
	}

	w.mu.Lock()
	ts, ok := w.sessions[sessionID]
	if !ok {
		w.mu.Unlock()
		return
	}
	if _, dup := ts.agentFiles[path]; dup {
		w.mu.Unlock()
		return
	}
	ts.agentFiles[path] = ""
	w.fileToSession[path] = sessionID
	w.addTailer(path, initial)
	w.mu.Unlock()

	log.Printf("[watcher] agent file %s -> session %s",
		filepath.Base(path), shortID(sessionID))
}

// sessionIDFromFile peeks at the first line's sessionId field.
func sessionIDFromFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	var probe struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

// readSessions drains new lines for every live session, in sorted
// session order for determinism within a cycle.
func (w *Watcher) readSessions(now time.Time) {
	w.mu.RLock()
	ids := make([]string, 0, len(w.sessions))
	for id, ts := range w.sessions {
		if !ts.isEnded {
			ids = append(ids, id)
		}
	}
	w.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		w.mu.RLock()
		ts := w.sessions[id]
		w.mu.RUnlock()
		if ts == nil {
			continue
		}
		w.readSession(ts, now)
	}
}

func (w *Watcher) readSession(ts *trackedSession, now time.Time) {
	hadActivity := false

	paths := []string{ts.filePath}
	w.mu.RLock()
	for p := range ts.agentFiles {
		paths = append(paths, p)
	}
	w.mu.RUnlock()
	sort.Strings(paths[1:])

	for _, path := range paths {
		t, ok := w.multi.Get(path)
		if !ok {
			continue
		}
		lines, err := t.ReadLines(now)
		if err != nil {
			log.Printf("[watcher] read %s: %v", path, err)
			continue
		}
		for _, line := range lines {
			w.processLine(ts, path, line, now)
			hadActivity = true
		}
	}

	if hadActivity {
		w.markActive(ts, now)
	}
}

func (w *Watcher) markActive(ts *trackedSession, now time.Time) {
	w.mu.Lock()
	wasIdle := ts.isIdle
	idleSince := ts.idleSince
	ts.lastActivity = now
	ts.isIdle = false
	ts.idleSince = time.Time{}
	w.mu.Unlock()

	if wasIdle && w.cfg.EmitSessionEvents {
		w.emit(event.SessionResumeEvent{
			Base:         event.Base{Timestamp: now, SessionID: ts.sessionID},
			IdleDuration: now.Sub(idleSince),
		})
	}
}

// processLine parses one transcript line and dispatches its events. A
// tool result that completes a pending pair additionally yields a
// tool_call_completed event, after the result itself.
func (w *Watcher) processLine(ts *trackedSession, path string, line []byte, now time.Time) {
	w.mu.RLock()
	knownAgent := ts.agentFiles[path]
	w.mu.RUnlock()

	for _, ev := range w.parser.ParseLine(line, knownAgent) {
		w.mu.Lock()
		switch e := ev.(type) {
		case event.MessageEvent:
			ts.messageCount++
			if ts.cwd == "" {
				ts.cwd = e.Message.CWD
			}
			if knownAgent == "" && e.AgentID != "" {
				if _, isAgentFile := ts.agentFiles[path]; isAgentFile {
					ts.agentFiles[path] = e.AgentID
					knownAgent = e.AgentID
				}
			}
		case event.ToolUseEvent:
			ts.toolCount++
		}
		w.mu.Unlock()

		w.emit(ev)

		if w.live != nil {
			completed, dupErr := w.live.HandleEvent(ev, now)
			if dupErr != nil {
				w.emit(*dupErr)
			}
			if completed != nil {
				w.emit(event.ToolCallCompletedEvent{
					Base: event.Base{
						Timestamp: now,
						SessionID: ts.sessionID,
						AgentID:   ev.Agent(),
					},
					ToolCall:     *completed,
					ToolName:     completed.ToolName(),
					ToolCategory: completed.Category(),
					IsError:      completed.IsError(),
					Duration:     completed.Duration(),
				})
			}
		}
	}
}

// checkTimeouts advances the lifecycle state machine. Timeouts are pure
// functions of lastActivity, evaluated each tick; there are no timers
// to leak or reset.
func (w *Watcher) checkTimeouts(now time.Time) {
	w.mu.Lock()
	var newlyIdle []*trackedSession
	var toEnd []*trackedSession
	for _, ts := range w.sessions {
		if ts.isEnded {
			continue
		}
		if !ts.isIdle {
			if now.Sub(ts.lastActivity) > w.cfg.IdleTimeout {
				ts.isIdle = true
				ts.idleSince = ts.lastActivity
				newlyIdle = append(newlyIdle, ts)
			}
			continue
		}
		if now.Sub(ts.idleSince) > w.cfg.EndTimeout {
			toEnd = append(toEnd, ts)
		}
	}
	w.mu.Unlock()

	if w.cfg.EmitSessionEvents {
		for _, ts := range newlyIdle {
			w.emit(event.SessionIdleEvent{
				Base:      event.Base{Timestamp: now, SessionID: ts.sessionID},
				IdleSince: ts.idleSince,
			})
		}
	}
	for _, ts := range toEnd {
		w.endSession(ts, event.ReasonIdleTimeout, now)
	}
}

// endSession finalizes a session. The session_end event is the last
// event emitted for it; afterwards the session's files are no longer
// read.
func (w *Watcher) endSession(ts *trackedSession, reason string, now time.Time) {
	w.mu.Lock()
	if ts.isEnded {
		w.mu.Unlock()
		return
	}
	ts.isEnded = true
	var idleDuration time.Duration
	if !ts.idleSince.IsZero() {
		idleDuration = now.Sub(ts.idleSince)
	}
	messageCount, toolCount := ts.messageCount, ts.toolCount

	paths := []string{ts.filePath}
	for p := range ts.agentFiles {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if pos, ok := w.multi.Remove(p); ok && w.state != nil && reason != event.ReasonFileGone {
			w.state.Update(pos)
		}
		delete(w.fileToSession, p)
		if w.state != nil && reason == event.ReasonFileGone {
			w.state.Forget(p)
		}
	}
	w.mu.Unlock()

	log.Printf("[watcher] session %s ended (%s, %d messages, %d tools)",
		shortID(ts.sessionID), reason, messageCount, toolCount)

	if w.live != nil {
		w.live.EndSession(ts.sessionID)
	}
	if w.cfg.EmitSessionEvents {
		w.emit(event.SessionEndEvent{
			Base:         event.Base{Timestamp: now, SessionID: ts.sessionID},
			Reason:       reason,
			IdleDuration: idleDuration,
			MessageCount: messageCount,
			ToolCount:    toolCount,
		})
	}
}

func (w *Watcher) sampleProcesses() {
	activities, err := proc.Snapshot()
	if err != nil {
		log.Printf("[watcher] process scan: %v", err)
		return
	}
	w.hostProcs.Store(int64(len(activities)))

	byDir := proc.ByWorkingDir(activities)
	w.mu.Lock()
	for _, ts := range w.sessions {
		if ts.cwd == "" {
			continue
		}
		if a, ok := byDir[ts.cwd]; ok {
			ts.pid = a.PID
			if w.live != nil {
				if ls := w.live.Get(ts.sessionID); ls != nil {
					ls.SetPID(a.PID)
				}
			}
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) persistPositions(now time.Time) {
	if w.state == nil {
		return
	}
	for _, pos := range w.multi.Positions() {
		w.state.Update(pos)
	}
	if now.Sub(w.lastSave) >= w.cfg.SaveInterval {
		w.lastSave = now
		if err := w.state.SaveIfDirty(); err != nil {
			log.Printf("[watcher] save state: %v", err)
		}
	}
}

func (w *Watcher) shutdown(now time.Time) {
	w.mu.RLock()
	var active []*trackedSession
	for _, ts := range w.sessions {
		if !ts.isEnded {
			active = append(active, ts)
		}
	}
	w.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i].sessionID < active[j].sessionID })
	for _, ts := range active {
		w.endSession(ts, event.ReasonShutdown, now)
	}

	if w.state != nil {
		if err := w.state.Save(); err != nil {
			log.Printf("[watcher] final state save: %v", err)
		}
	}
	if w.notify != nil {
		w.notify.close()
		w.notify = nil
	}

	w.streamMu.Lock()
	for _, s := range w.streams {
		s.close()
	}
	w.streams = nil
	w.streamMu.Unlock()
}

// emit dispatches through the emitter and mirrors the event onto every
// open stream.
func (w *Watcher) emit(ev event.Event) {
	w.emitter.Emit(ev)

	w.streamMu.Lock()
	streams := w.streams
	w.streamMu.Unlock()
	for _, s := range streams {
		if s.send(ev) {
			w.dropped.Add(1)
		}
	}
}

// ActiveSessions lists tracked, non-ended session ids, sorted.
func (w *Watcher) ActiveSessions() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var ids []string
	for id, ts := range w.sessions {
		if !ts.isEnded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SessionStats returns a snapshot for one session.
func (w *Watcher) SessionStats(sessionID string) (Stats, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ts, ok := w.sessions[sessionID]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		SessionID:    ts.sessionID,
		ProjectSlug:  ts.projectSlug,
		FilePath:     ts.filePath,
		MessageCount: ts.messageCount,
		ToolCount:    ts.toolCount,
		IsIdle:       ts.isIdle,
		IsEnded:      ts.isEnded,
		LastActivity: ts.lastActivity,
		CWD:          ts.cwd,
		PID:          ts.pid,
	}, true
}

// AllStats snapshots every tracked session, sorted by id.
func (w *Watcher) AllStats() []Stats {
	w.mu.RLock()
	ids := make([]string, 0, len(w.sessions))
	for id := range w.sessions {
		ids = append(ids, id)
	}
	w.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Stats, 0, len(ids))
	for _, id := range ids {
		if s, ok := w.SessionStats(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
