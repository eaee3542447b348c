// Package metrics aggregates pipeline events into Prometheus metrics.
// Everything registers on a private registry so multiple watchers (or
// tests) never collide on the default one.
package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/claudewatch/claudewatch/internal/event"
)

// toolDurationBuckets cover sub-100ms file reads up to minute-long
// agent tasks.
var toolDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// ewmaTau is the time constant for the derived per-minute rates.
const ewmaTau = 60 * time.Second

// Metrics collects pipeline counters, gauges, and histograms. Feed it
// with HandleEvent, scrape it through Handler.
type Metrics struct {
	registry *prometheus.Registry

	Messages      *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	ToolErrors    *prometheus.CounterVec
	SessionStarts *prometheus.CounterVec
	SessionEnds   *prometheus.CounterVec
	ParseErrors   prometheus.Counter
	WebhookDrops  *prometheus.CounterVec

	ActiveSessions prometheus.Gauge
	ToolDuration   prometheus.Histogram

	mu              sync.Mutex
	sessionProjects map[string]string
	messageRate     *ewma
	toolRate        *ewma
	toolCallCount   float64
	toolErrorCount  float64
}

func New() *Metrics {
	m := &Metrics{
		registry:        prometheus.NewRegistry(),
		sessionProjects: make(map[string]string),
		messageRate:     newEWMA(ewmaTau),
		toolRate:        newEWMA(ewmaTau),

		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Conversation messages observed, by role",
		}, []string{"role"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Tool invocations observed, by tool name and category",
		}, []string{"tool", "category"}),
		ToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_errors_total",
			Help: "Tool invocations whose result reported an error",
		}, []string{"tool"}),
		SessionStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_starts_total",
			Help: "Sessions that started tracking, by project slug",
		}, []string{"project"}),
		SessionEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_ends_total",
			Help: "Sessions that ended, by project slug and reason",
		}, []string{"project", "reason"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parse_errors_total",
			Help: "Transcript lines that failed to parse",
		}),
		WebhookDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_drop_total",
			Help: "Webhook batches dropped, by kind (4xx, retries_exhausted, queue_full, shutdown)",
		}, []string{"kind"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Sessions currently active or idle",
		}),
		ToolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tool_duration_seconds",
			Help:    "Wall time from tool_use to its paired tool_result",
			Buckets: toolDurationBuckets,
		}),
	}

	m.registry.MustRegister(
		m.Messages, m.ToolCalls, m.ToolErrors,
		m.SessionStarts, m.SessionEnds, m.ParseErrors,
		m.WebhookDrops, m.ActiveSessions, m.ToolDuration,
	)
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "messages_per_minute",
		Help: "Exponentially weighted message rate (60s time constant)",
	}, m.MessagesPerMinute))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tools_per_minute",
		Help: "Exponentially weighted tool call rate (60s time constant)",
	}, m.ToolsPerMinute))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "error_rate",
		Help: "tool_errors_total / tool_calls_total",
	}, m.ErrorRate))
	return m
}

// Registry exposes the private registry, mainly for Gather in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TrackDroppedEvents registers events_dropped_total backed by source,
// typically Watcher.DroppedEvents.
func (m *Metrics) TrackDroppedEvents(source func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Events dropped from overflowing stream buffers",
	}, func() float64 { return float64(source()) }))
}

// TrackHostProcesses registers host_processes backed by source,
// typically Watcher.HostProcessCount.
func (m *Metrics) TrackHostProcesses(source func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "host_processes",
		Help: "Assistant processes seen in the latest host scan",
	}, func() float64 { return float64(source()) }))
}

// HandleEvent updates metrics from one pipeline event. It satisfies
// emitter.Handler and never fails.
func (m *Metrics) HandleEvent(ev event.Event) error {
	now := time.Now()
	switch e := ev.(type) {
	case event.MessageEvent:
		m.Messages.WithLabelValues(string(e.Message.Role)).Inc()
		m.mu.Lock()
		m.messageRate.add(now)
		m.mu.Unlock()
	case event.ToolUseEvent:
		m.ToolCalls.WithLabelValues(e.ToolName, e.ToolCategory).Inc()
		m.mu.Lock()
		m.toolRate.add(now)
		m.toolCallCount++
		m.mu.Unlock()
	case event.ToolCallCompletedEvent:
		m.ToolDuration.Observe(e.Duration.Seconds())
		if e.IsError {
			m.ToolErrors.WithLabelValues(e.ToolName).Inc()
			m.mu.Lock()
			m.toolErrorCount++
			m.mu.Unlock()
		}
	case event.ErrorEvent:
		if e.RawEntry != "" {
			m.ParseErrors.Inc()
		}
	case event.SessionStartEvent:
		m.SessionStarts.WithLabelValues(e.ProjectSlug).Inc()
		m.ActiveSessions.Inc()
		m.mu.Lock()
		m.sessionProjects[e.SessionID] = e.ProjectSlug
		m.mu.Unlock()
	case event.SessionEndEvent:
		m.mu.Lock()
		project := m.sessionProjects[e.SessionID]
		delete(m.sessionProjects, e.SessionID)
		m.mu.Unlock()
		m.SessionEnds.WithLabelValues(project, e.Reason).Inc()
		m.ActiveSessions.Dec()
	}
	return nil
}

// RecordWebhookDrop counts one dropped webhook batch. Wire it into
// webhook.Config.OnDrop.
func (m *Metrics) RecordWebhookDrop(kind string) {
	m.WebhookDrops.WithLabelValues(kind).Inc()
}

// MessagesPerMinute is the decayed message rate as of now.
func (m *Metrics) MessagesPerMinute() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageRate.rate(time.Now())
}

// ToolsPerMinute is the decayed tool call rate as of now.
func (m *Metrics) ToolsPerMinute() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolRate.rate(time.Now())
}

// ErrorRate is the fraction of tool calls whose result was an error,
// 0 when no tool call has completed yet.
func (m *Metrics) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.toolCallCount == 0 {
		return 0
	}
	return m.toolErrorCount / m.toolCallCount
}

// ewma estimates an event rate with exponential decay: each event adds
// 1/tau to the intensity and old contributions fade as exp(-age/tau).
// The rate is computed on read, so an idle stream decays to zero
// without a background ticker.
type ewma struct {
	tau       time.Duration
	intensity float64
	last      time.Time
}

func newEWMA(tau time.Duration) *ewma {
	return &ewma{tau: tau}
}

func (e *ewma) add(now time.Time) {
	e.decay(now)
	e.intensity += 1 / e.tau.Seconds()
}

// rate returns events per minute as of now.
func (e *ewma) rate(now time.Time) float64 {
	e.decay(now)
	return e.intensity * 60
}

func (e *ewma) decay(now time.Time) {
	if !e.last.IsZero() && now.After(e.last) {
		e.intensity *= math.Exp(-now.Sub(e.last).Seconds() / e.tau.Seconds())
	}
	e.last = now
}
