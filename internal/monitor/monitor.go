package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Agent connection metrics
var (
	AgentConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "agent",
		Name:      "connect_attempts_total",
		Help:      "Total number of dial attempts against the agent service",
	})

	AgentConnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "agent",
		Name:      "connect_failures_total",
		Help:      "Total number of failed dial attempts against the agent service",
	})

	AgentPendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "classbridge",
		Subsystem: "agent",
		Name:      "pending_requests",
		Help:      "Number of requests currently awaiting a correlated reply",
	})

	AgentRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "agent",
		Name:      "requests_total",
		Help:      "Total number of requests sent to the agent service",
	})

	AgentRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "agent",
		Name:      "request_errors_total",
		Help:      "Total number of agent requests that failed or timed out",
	})

	AgentRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "classbridge",
		Subsystem: "agent",
		Name:      "request_latency_seconds",
		Help:      "Latency from request write to correlated reply",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)

// Ownership verification metrics
var (
	VerifyChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "verify",
		Name:      "checks_total",
		Help:      "Total number of session ownership checks",
	})

	VerifyDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "verify",
		Name:      "denied_total",
		Help:      "Total number of ownership checks the agent denied",
	})

	VerifyUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "verify",
		Name:      "unavailable_total",
		Help:      "Total number of ownership checks that could not reach the agent",
	})

	VerifyRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "verify",
		Name:      "recovered_total",
		Help:      "Total number of approvals where the agent had to reload the session from durable storage",
	})
)

// Event stream metrics
var (
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "classbridge",
		Subsystem: "stream",
		Name:      "subscribers",
		Help:      "Number of live event stream subscribers across all sessions",
	})

	StreamPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "stream",
		Name:      "published_total",
		Help:      "Total number of events published to session streams",
	})

	StreamSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "classbridge",
		Subsystem: "stream",
		Name:      "sessions_active",
		Help:      "Number of session streams currently held in memory",
	})
)

// SSE bridge metrics
var (
	SSEActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "classbridge",
		Subsystem: "sse",
		Name:      "active_streams",
		Help:      "Number of currently open SSE connections",
	})

	SSEEventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "sse",
		Name:      "events_sent_total",
		Help:      "Total number of SSE events written to browsers",
	})
)

// Session record metrics
var (
	RecordsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classbridge",
		Subsystem: "records",
		Name:      "purged_total",
		Help:      "Total number of durable session records purged after teardown",
	})
)
