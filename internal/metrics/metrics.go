// Package metrics exposes Prometheus instrumentation for the session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// Metrics groups the session lifecycle collectors. A nil *Metrics is a no-op.
type Metrics struct {
	sessionStarts   *prometheus.CounterVec
	teardowns       *prometheus.CounterVec
	channelEvents   *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	leakedReleases  prometheus.Counter
}

var states = []domain.ConnectionState{
	domain.ConnectionStateIdle,
	domain.ConnectionStateConnecting,
	domain.ConnectionStateConnected,
	domain.ConnectionStateDisconnected,
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionStarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_session_starts_total",
			Help: "Session start attempts by outcome",
		}, []string{"outcome"}), // outcome=success|start_failed|media_failed|channel_failed
		teardowns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_session_teardowns_total",
			Help: "Session teardowns by trigger",
		}, []string{"trigger"}), // trigger=end_call|auto_end|shutdown|start_failed
		channelEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_channel_events_total",
			Help: "Event channel messages received by type",
		}, []string{"type"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_tool_calls_total",
			Help: "Tool call events received by tool name",
		}, []string{"name"}),
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voice_agent_connection_state",
			Help: "Current connection state (1 for the active state)",
		}, []string{"state"}),
		leakedReleases: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_late_resource_releases_total",
			Help: "Media handles or channels released because their session ended before they resolved",
		}),
	}
}

// SessionStart records a start attempt outcome.
func (m *Metrics) SessionStart(outcome string) {
	if m == nil {
		return
	}
	m.sessionStarts.WithLabelValues(outcome).Inc()
}

// Teardown records a teardown by trigger.
func (m *Metrics) Teardown(trigger string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(trigger).Inc()
}

// ChannelEvent records one decoded channel message.
func (m *Metrics) ChannelEvent(t domain.EventType) {
	if m == nil {
		return
	}
	m.channelEvents.WithLabelValues(string(t)).Inc()
}

// ToolCall records one tool call event.
func (m *Metrics) ToolCall(name string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name).Inc()
}

// LateRelease records a resource released after its session was gone.
func (m *Metrics) LateRelease() {
	if m == nil {
		return
	}
	m.leakedReleases.Inc()
}

// SetState marks state as the current connection state.
func (m *Metrics) SetState(state domain.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(string(s)).Set(v)
	}
}
