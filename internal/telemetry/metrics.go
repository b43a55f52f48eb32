// Package telemetry carries the ambient observability stack this
// runtime keeps regardless of spec.md's functional non-goals: Prometheus
// counters over turns/tools/workflow steps, and an OpenTelemetry tracer
// wired to a no-op exporter by default so the dependency is exercised
// without requiring a live collector.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized set of counters and histograms this
// runtime exposes on its /metrics endpoint, grounded on
// internal/observability/metrics.go's CounterVec/HistogramVec layout
// narrowed to the turn loop, tool executor, and workflow engine.
type Metrics struct {
	// TurnsTotal counts completed turns by terminal finish reason.
	// Labels: finish_reason (stop|length|tool_calls|max_tokens|tool_limit|internal_error)
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures turn wall-clock time in seconds.
	TurnDuration prometheus.Histogram

	// ToolCallsTotal counts tool invocations by name and outcome.
	// Labels: tool, status (success|error)
	ToolCallsTotal *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool
	ToolCallDuration *prometheus.HistogramVec

	// WorkflowStepsTotal counts workflow step completions by type and outcome.
	// Labels: step_type, status (success|failed|skipped)
	WorkflowStepsTotal *prometheus.CounterVec

	// WorkflowRunsTotal counts run terminal states.
	// Labels: state (completed|failed|cancelled)
	WorkflowRunsTotal *prometheus.CounterVec

	// BusQueueDepth tracks the event bus's pending queue length.
	BusQueueDepth prometheus.Gauge
}

// New registers and returns a Metrics set against reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexuscore_turns_total",
			Help: "Completed turns by terminal finish reason.",
		}, []string{"finish_reason"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexuscore_turn_duration_seconds",
			Help:    "Turn wall-clock duration in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexuscore_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "status"}),
		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexuscore_tool_call_duration_seconds",
			Help:    "Tool execution duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),
		WorkflowStepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexuscore_workflow_steps_total",
			Help: "Workflow step completions by type and outcome.",
		}, []string{"step_type", "status"}),
		WorkflowRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexuscore_workflow_runs_total",
			Help: "Workflow run terminal states.",
		}, []string{"state"}),
		BusQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nexuscore_bus_queue_depth",
			Help: "Current pending event count on the bus.",
		}),
	}
}
