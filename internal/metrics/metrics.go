// Package metrics exposes Prometheus instrumentation for the assistant core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for tool orchestration.
type Metrics struct {
	ToolCalls       *prometheus.CounterVec
	ToolErrors      *prometheus.CounterVec
	Turns           *prometheus.CounterVec
	PendingActions  *prometheus.CounterVec
	TurnIterations  prometheus.Histogram
	ProviderLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_tool_calls_total",
			Help: "Tool calls dispatched, by tool name and budget pool.",
		}, []string{"tool", "pool"}),
		ToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_tool_errors_total",
			Help: "Tool-local errors, by tool name.",
		}, []string{"tool"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_turns_total",
			Help: "Conversation turns, by outcome.",
		}, []string{"outcome"}),
		PendingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_pending_actions_total",
			Help: "Pending action lifecycle events, by status.",
		}, []string{"status"}),
		TurnIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbor_turn_iterations",
			Help:    "Loop iterations per conversation turn.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbor_provider_stream_seconds",
			Help:    "Wall time of one provider streaming call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ToolCalls,
			m.ToolErrors,
			m.Turns,
			m.PendingActions,
			m.TurnIterations,
			m.ProviderLatency,
		)
	}
	return m
}
