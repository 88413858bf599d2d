// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the engine emits.
type Metrics struct {
	// TasksTotal counts delegated tasks by terminal state.
	TasksTotal *prometheus.CounterVec

	// TaskDuration observes dispatch durations by role.
	TaskDuration *prometheus.HistogramVec

	// TaskEnrichmentRecords observes memory records merged per dispatch.
	TaskEnrichmentRecords prometheus.Histogram

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions *prometheus.CounterVec

	// BreakerRejections counts dispatches rejected by an open breaker.
	BreakerRejections prometheus.Counter

	// WorkflowsTotal counts workflow runs by mode and status.
	WorkflowsTotal *prometheus.CounterVec

	// WorkflowDuration observes workflow run durations by mode.
	WorkflowDuration *prometheus.HistogramVec

	// WorkflowNodesTotal counts workflow node outcomes by state.
	WorkflowNodesTotal *prometheus.CounterVec

	// MemoryOps counts memory store operations by op and outcome.
	MemoryOps *prometheus.CounterVec

	// AgentsRegistered tracks the current registry size.
	AgentsRegistered prometheus.Gauge
}

// New registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "tasks_total",
			Help:      "Delegated tasks by terminal state.",
		}, []string{"state"}),

		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskmesh",
			Name:      "task_duration_seconds",
			Help:      "Task dispatch duration by role.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"role"}),

		TaskEnrichmentRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskmesh",
			Name:      "task_enrichment_records",
			Help:      "Memory records merged into task context per dispatch.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),

		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"to"}),

		BreakerRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "breaker_rejections_total",
			Help:      "Dispatches rejected by an open circuit breaker.",
		}),

		WorkflowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "workflows_total",
			Help:      "Workflow runs by mode and status.",
		}, []string{"mode", "status"}),

		WorkflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskmesh",
			Name:      "workflow_duration_seconds",
			Help:      "Workflow run duration by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"mode"}),

		WorkflowNodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "workflow_nodes_total",
			Help:      "Workflow node outcomes by terminal state.",
		}, []string{"state"}),

		MemoryOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "memory_ops_total",
			Help:      "Memory store operations by op and outcome.",
		}, []string{"op", "outcome"}),

		AgentsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskmesh",
			Name:      "agents_registered",
			Help:      "Currently registered agents.",
		}),
	}
}

// NewNop returns metrics registered on a throwaway registry, for tests and
// callers that opt out of scraping.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
