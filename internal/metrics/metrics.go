// Package metrics registers the Prometheus metrics for the query
// pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for QueryForge
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionOutcomes  *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	StateTransitions *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge

	// SQL cycle metrics
	SQLAttempts   *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	RowsReturned  prometheus.Histogram

	// Retry metrics
	RetryAttempts  *prometheus.CounterVec
	RetryExhausted *prometheus.CounterVec

	// Memory metrics
	LessonsApplied *prometheus.CounterVec
	LessonsLearned *prometheus.CounterVec

	// Reasoning metrics
	ReasoningRequests *prometheus.CounterVec
	ReasoningLatency  *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			SessionsStarted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "queryforge_sessions_started_total",
					Help: "Total number of query sessions started",
				},
			),
			SessionOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_session_outcomes_total",
					Help: "Session outcomes by kind",
				},
				[]string{"outcome"},
			),
			SessionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queryforge_session_duration_seconds",
					Help:    "End to end session duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to 256s
				},
				[]string{"outcome"},
			),
			StateTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_state_transitions_total",
					Help: "State machine transitions by edge",
				},
				[]string{"from", "to"},
			),
			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "queryforge_active_sessions",
					Help: "Sessions currently in flight",
				},
			),
			SQLAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_sql_attempts_total",
					Help: "SQL generation and execution attempts",
				},
				[]string{"phase", "success"},
			),
			QueryDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "queryforge_query_duration_seconds",
					Help:    "Warehouse query execution time in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to 163s
				},
			),
			RowsReturned: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "queryforge_rows_returned",
					Help:    "Rows returned per executed query",
					Buckets: prometheus.ExponentialBuckets(1, 10, 7), // 1 to 1M
				},
			),
			RetryAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_retry_attempts_total",
					Help: "Retry attempts by operation",
				},
				[]string{"operation"},
			),
			RetryExhausted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_retry_exhausted_total",
					Help: "Operations that exhausted their retry budget",
				},
				[]string{"operation"},
			),
			LessonsApplied: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_lessons_applied_total",
					Help: "Lessons applied to sessions by kind",
				},
				[]string{"kind"},
			),
			LessonsLearned: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_lessons_learned_total",
					Help: "New lessons extracted from sessions by source",
				},
				[]string{"source"},
			),
			ReasoningRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_reasoning_requests_total",
					Help: "Reasoning service calls by operation and result",
				},
				[]string{"operation", "success"},
			),
			ReasoningLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queryforge_reasoning_latency_seconds",
					Help:    "Reasoning service latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"operation"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queryforge_http_requests_total",
					Help: "HTTP requests by path, method and status",
				},
				[]string{"path", "method", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queryforge_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"path", "method"},
			),
		}
	})
	return sharedMetrics
}
