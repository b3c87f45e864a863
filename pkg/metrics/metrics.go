// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMRequestDuration tracks language model round-trip duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Language model request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "mode", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// AgentRunsTotal counts answered questions by terminal outcome.
	AgentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_runs_total",
			Help: "Agent runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// AgentIterations tracks how many model rounds a question needed.
	AgentIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_iterations",
			Help:    "Model rounds per question",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	// ToolCallsTotal counts execute_sql invocations by outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tool_calls_total",
			Help: "Tool invocations by outcome",
		},
		[]string{"outcome"},
	)

	// QueryDuration tracks replica query latency.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replica_query_duration_seconds",
			Help:    "Read-only replica query duration",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)

	// QueryRows tracks rows materialized per query.
	QueryRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replica_query_rows",
			Help:    "Rows returned per replica query",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
	)

	// SchemaCacheTotal counts schema cache lookups.
	SchemaCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_cache_lookups_total",
			Help: "Schema description cache lookups",
		},
		[]string{"result"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total turns written.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total turns written",
		},
		[]string{"role", "status"},
	)

	// MirrorPublishFailures counts mirror publish errors by record kind (audit, turn).
	MirrorPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_publish_failures_total",
			Help: "Audit records and turns that could not be mirrored to JetStream",
		},
		[]string{"kind"},
	)

	// MirrorConnectionEvents counts NATS connection state changes.
	MirrorConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_connection_events_total",
			Help: "NATS connection events by type",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for a model round-trip.
func RecordLLMRequest(model, mode, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, mode, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordAgentRun records the terminal outcome of one question.
func RecordAgentRun(mode, outcome string, iterations int) {
	AgentRunsTotal.WithLabelValues(mode, outcome).Inc()
	AgentIterations.Observe(float64(iterations))
}

// RecordToolCall records one execute_sql invocation.
func RecordToolCall(outcome string) {
	ToolCallsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuery records one replica query.
func RecordQuery(status string, duration float64, rows int) {
	QueryDuration.WithLabelValues(status).Observe(duration)
	if status == "success" {
		QueryRows.Observe(float64(rows))
	}
}

// RecordSchemaCache records a schema cache hit or miss.
func RecordSchemaCache(hit bool) {
	if hit {
		SchemaCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	SchemaCacheTotal.WithLabelValues("miss").Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordMirrorEvent records a NATS connection event.
func RecordMirrorEvent(event string) {
	MirrorConnectionEvents.WithLabelValues(event).Inc()
}

// RecordMirrorPublishFailure counts one record the mirror did not accept.
func RecordMirrorPublishFailure(kind string) {
	MirrorPublishFailures.WithLabelValues(kind).Inc()
}
