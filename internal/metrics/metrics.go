// Package metrics declares the prometheus collectors of the service.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fupingyezi/mini-DeepResearch/internal/circuitbreaker"
	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
)

var (
	NodeExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_node_executions_total",
			Help: "Graph node executions by node and outcome",
		},
		[]string{"node", "status"},
	)

	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_node_duration_seconds",
			Help:    "Graph node execution latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"node"},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_total",
			Help: "Deep research runs by outcome",
		},
		[]string{"outcome"},
	)

	DeltaMultiTaskChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_delta_multi_task_changes_total",
			Help: "Transitions where more than one task changed status at once",
		},
	)

	DecomposerParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_decomposer_parse_failures_total",
			Help: "Task decomposer replies that could not be parsed",
		},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_requests_total",
			Help: "Web search requests by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	SSEEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_sse_events_total",
			Help: "SSE frames written by event type",
		},
		[]string{"type"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deepresearch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// GraphMetrics adapts the collectors to the engine callbacks.
func GraphMetrics() graph.Metrics {
	return graph.Metrics{
		NodeDuration: func(ctx context.Context, node string, d time.Duration) {
			NodeDuration.WithLabelValues(node).Observe(d.Seconds())
			NodeExecutions.WithLabelValues(node, "ok").Inc()
		},
		NodeError: func(ctx context.Context, node string, err error) {
			NodeExecutions.WithLabelValues(node, "error").Inc()
		},
	}
}

// BreakerStateChange records circuit breaker transitions.
func BreakerStateChange(name string, from, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}
