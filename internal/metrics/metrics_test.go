package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/session"
)

func TestMessageAndToolCounters(t *testing.T) {
	m := New()

	m.HandleEvent(event.MessageEvent{Message: session.Message{Role: session.RoleUser}})
	m.HandleEvent(event.MessageEvent{Message: session.Message{Role: session.RoleAssistant}})
	m.HandleEvent(event.MessageEvent{Message: session.Message{Role: session.RoleAssistant}})
	m.HandleEvent(event.ToolUseEvent{ToolName: "Bash", ToolCategory: "bash"})
	m.HandleEvent(event.ToolUseEvent{ToolName: "Read", ToolCategory: "file_read"})

	expected := `
		# HELP messages_total Conversation messages observed, by role
		# TYPE messages_total counter
		messages_total{role="assistant"} 2
		messages_total{role="user"} 1
	`
	if err := testutil.CollectAndCompare(m.Messages, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}

	expected = `
		# HELP tool_calls_total Tool invocations observed, by tool name and category
		# TYPE tool_calls_total counter
		tool_calls_total{category="bash",tool="Bash"} 1
		tool_calls_total{category="file_read",tool="Read"} 1
	`
	if err := testutil.CollectAndCompare(m.ToolCalls, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestToolCompletionUpdatesHistogramAndErrors(t *testing.T) {
	m := New()

	m.HandleEvent(event.ToolUseEvent{ToolName: "Bash", ToolCategory: "bash"})
	m.HandleEvent(event.ToolUseEvent{ToolName: "Bash", ToolCategory: "bash"})
	m.HandleEvent(event.ToolCallCompletedEvent{ToolName: "Bash", Duration: 300 * time.Millisecond})
	m.HandleEvent(event.ToolCallCompletedEvent{ToolName: "Bash", IsError: true, Duration: 2 * time.Second})

	if n := testutil.CollectAndCount(m.ToolDuration); n != 1 {
		t.Errorf("histogram series = %d", n)
	}
	if got := testutil.ToFloat64(m.ToolErrors.WithLabelValues("Bash")); got != 1 {
		t.Errorf("tool_errors_total = %v", got)
	}
	if got := m.ErrorRate(); got != 0.5 {
		t.Errorf("error_rate = %v, want 0.5", got)
	}
}

func TestErrorRateZeroWithoutCalls(t *testing.T) {
	m := New()
	if got := m.ErrorRate(); got != 0 {
		t.Errorf("error_rate = %v", got)
	}
}

func TestSessionLifecycleGaugeAndCounters(t *testing.T) {
	m := New()

	m.HandleEvent(event.SessionStartEvent{
		Base:        event.Base{SessionID: "sess-1"},
		ProjectSlug: "-home-u-proj",
	})
	m.HandleEvent(event.SessionStartEvent{
		Base:        event.Base{SessionID: "sess-2"},
		ProjectSlug: "-home-u-proj",
	})
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Errorf("active_sessions = %v", got)
	}

	// The end event carries no slug; it is looked up from the start.
	m.HandleEvent(event.SessionEndEvent{
		Base:   event.Base{SessionID: "sess-1"},
		Reason: event.ReasonIdleTimeout,
	})
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active_sessions after end = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionEnds.WithLabelValues("-home-u-proj", "idle_timeout")); got != 1 {
		t.Errorf("session_ends_total = %v", got)
	}
}

func TestParseErrorsCountOnlyRawEntries(t *testing.T) {
	m := New()

	m.HandleEvent(event.ErrorEvent{ErrorMessage: "invalid JSON", RawEntry: "{oops"})
	// Handler failures carry no raw entry and are not parse errors.
	m.HandleEvent(event.ErrorEvent{ErrorMessage: "handler failed: boom"})

	if got := testutil.ToFloat64(m.ParseErrors); got != 1 {
		t.Errorf("parse_errors_total = %v", got)
	}
}

func TestEWMADecay(t *testing.T) {
	e := newEWMA(60 * time.Second)
	now := time.Now()

	// 60 events over one minute, one per second.
	for i := 0; i < 60; i++ {
		e.add(now.Add(time.Duration(i) * time.Second))
	}
	r := e.rate(now.Add(60 * time.Second))
	// Converges toward 60/min; with only one tau elapsed it sits lower.
	if r < 20 || r > 60 {
		t.Errorf("rate = %v, want within (20, 60)", r)
	}

	// Ten minutes of silence decays close to zero.
	later := e.rate(now.Add(11 * time.Minute))
	if later > r*math.Exp(-9) {
		t.Errorf("decayed rate = %v, want < %v", later, r*math.Exp(-9))
	}
}

func TestTrackDroppedEventsAndWebhookDrops(t *testing.T) {
	m := New()
	var drops uint64 = 7
	m.TrackDroppedEvents(func() uint64 { return drops })
	m.RecordWebhookDrop("4xx")
	m.RecordWebhookDrop("4xx")
	m.RecordWebhookDrop("retries_exhausted")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "events_dropped_total" {
			found = true
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 7 {
				t.Errorf("events_dropped_total = %v", v)
			}
		}
	}
	if !found {
		t.Error("events_dropped_total not registered")
	}
	if got := testutil.ToFloat64(m.WebhookDrops.WithLabelValues("4xx")); got != 2 {
		t.Errorf("webhook_drop_total{kind=4xx} = %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.HandleEvent(event.MessageEvent{Message: session.Message{Role: session.RoleUser}})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "# TYPE messages_total counter") {
		t.Errorf("exposition missing TYPE line:\n%s", body)
	}
	if !strings.Contains(body, `messages_total{role="user"} 1`) {
		t.Errorf("exposition missing sample:\n%s", body)
	}
}
