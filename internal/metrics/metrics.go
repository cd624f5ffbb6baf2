// Package metrics centralizes the gateway's Prometheus instrumentation.
// Grounded on the teacher's internal/observability.Metrics (same
// promauto-registered CounterVec/HistogramVec/GaugeVec shape), trimmed to
// the gateway's own domain: no database-query metrics (no SQL layer in
// scope) and no webhook-specific counters (inbound channel adapters are
// framing-only, see internal/channels).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric the gateway exports at /metrics.
type Metrics struct {
	// MessagesTotal counts inbound messages by channel.
	MessagesTotal *prometheus.CounterVec

	// LLMRequestDuration measures provider completion latency.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestsTotal counts provider completions by outcome.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMTokensTotal tracks token consumption by provider/model/kind.
	LLMTokensTotal *prometheus.CounterVec

	// ToolExecutionsTotal counts tool invocations by outcome.
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolExecutionDuration measures tool invocation latency.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorsTotal tracks gatewayerr.Kind occurrences by component.
	ErrorsTotal *prometheus.CounterVec

	// ActiveSessions gauges live sessions by channel.
	ActiveSessions *prometheus.GaugeVec

	// DedupeHitsTotal counts deduped (replayed) requests.
	DedupeHitsTotal *prometheus.CounterVec

	// SessionLockWaitDuration measures time spent waiting for the
	// per-session write lock.
	SessionLockWaitDuration *prometheus.HistogramVec

	// HeartbeatExpiriesTotal counts watchdog expiries by channel.
	HeartbeatExpiriesTotal *prometheus.CounterVec

	// ConnectedPrincipals gauges live WebSocket connections by role.
	ConnectedPrincipals *prometheus.GaugeVec
}

// New creates and registers every metric against the default registry.
// Call once at startup.
func New() *Metrics {
	return &Metrics{
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_messages_total",
				Help: "Total inbound messages processed, by channel.",
			},
			[]string{"channel"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_llm_request_duration_seconds",
				Help:    "Duration of provider completion requests.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_llm_requests_total",
				Help: "Total provider completion requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and kind.",
			},
			[]string{"provider", "model", "kind"},
		),
		ToolExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tool_executions_total",
				Help: "Total tool invocations by tool name and outcome.",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_tool_execution_duration_seconds",
				Help:    "Duration of tool invocations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_errors_total",
				Help: "Total errors by component and error kind.",
			},
			[]string{"component", "kind"},
		),
		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_active_sessions",
				Help: "Current live sessions by channel.",
			},
			[]string{"channel"},
		),
		DedupeHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_dedupe_hits_total",
				Help: "Total requests served from the dedupe cache.",
			},
			[]string{"channel"},
		),
		SessionLockWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_session_lock_wait_seconds",
				Help:    "Time spent waiting to acquire a session write lock.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"channel"},
		),
		HeartbeatExpiriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_heartbeat_expiries_total",
				Help: "Total watchdog expiries by channel.",
			},
			[]string{"channel"},
		),
		ConnectedPrincipals: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_connected_principals",
				Help: "Current WebSocket connections by role.",
			},
			[]string{"role"},
		),
	}
}
