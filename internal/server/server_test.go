package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/metrics"
	"github.com/claudewatch/claudewatch/internal/session"
	"github.com/claudewatch/claudewatch/internal/watcher"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	w, err := watcher.New(watcher.Config{
		BasePath:     t.TempDir(),
		Notify:       false,
		LiveSessions: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	s := New(w, m, "")
	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	s.metrics.HandleEvent(event.MessageEvent{Message: session.Message{Role: session.RoleUser}})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "messages_total") {
		t.Errorf("exposition missing messages_total:\n%s", body)
	}
}

func TestSessionsEndpointServesLiveSummaries(t *testing.T) {
	s, ts := newTestServer(t)
	now := time.Now()
	s.watcher.Live().HandleEvent(event.SessionStartEvent{
		Base:        event.Base{Timestamp: now, SessionID: "sess-1"},
		ProjectSlug: "-home-u-proj",
	}, now)

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var summaries []watcher.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d", len(summaries))
	}
	if summaries[0].SessionID != "sess-1" || summaries[0].ProjectSlug != "-home-u-proj" {
		t.Errorf("summary = %+v", summaries[0])
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats struct {
		Sessions      []watcher.Stats `json:"sessions"`
		DroppedEvents uint64          `json:"dropped_events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Sessions == nil {
		t.Error("sessions should be an empty array, not null")
	}
}

func TestWebsocketReceivesEvents(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the hub to register the client.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.hub.ClientCount() != 1 {
		t.Fatal("client never registered")
	}

	if err := s.hub.HandleEvent(event.SessionStartEvent{
		Base:        event.Base{Timestamp: time.Now().UTC(), SessionID: "sess-1"},
		ProjectSlug: "proj",
	}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["event_type"] != "session_start" || payload["session_id"] != "sess-1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestHubDisconnectsSlowClients(t *testing.T) {
	h := NewHub()

	// A client whose writePump never runs: its send buffer fills and
	// the hub must cut it loose instead of blocking.
	c := &client{send: make(chan []byte, 2)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	for i := 0; i < 3; i++ {
		h.broadcast([]byte(`{"n":1}`))
	}
	if h.ClientCount() != 0 {
		t.Error("slow client not disconnected")
	}
	// Drain the buffered messages; removal closed the channel.
	<-c.send
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("send channel not closed")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com:9090", true},
		{"http://localhost:3000", "example.com:9090", true},
		{"http://127.0.0.1:8080", "example.com:9090", true},
		{"http://example.com:9090", "example.com:9090", true},
		{"http://evil.example", "example.com:9090", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(origin=%q, host=%q) = %v, want %v", tt.origin, tt.host, got, tt.want)
		}
	}
}
