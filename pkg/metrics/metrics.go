// Package metrics exposes Prometheus instruments for tool execution,
// safety decisions and recovery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instruments registered on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// ToolExecutions counts executed requests by tool and outcome (success | failure)
	ToolExecutions *prometheus.CounterVec
	// ToolDuration observes handler wall-clock time in seconds
	ToolDuration *prometheus.HistogramVec
	// SafetyDenials counts requests rejected by the safety analyzer
	SafetyDenials *prometheus.CounterVec
	// RecoveryAttempts counts executed recovery actions by action and result
	RecoveryAttempts *prometheus.CounterVec
	// RecoveryOutcomes counts finished recoveries by error kind and outcome
	RecoveryOutcomes *prometheus.CounterVec
}

// New creates the instruments and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ToolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macpilot_tool_executions_total",
				Help: "Tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "macpilot_tool_duration_seconds",
				Help:    "Tool handler duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		SafetyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macpilot_safety_denials_total",
				Help: "Requests denied by the safety analyzer",
			},
			[]string{"tool"},
		),
		RecoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macpilot_recovery_attempts_total",
				Help: "Recovery actions executed by action and result",
			},
			[]string{"action", "result"},
		),
		RecoveryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macpilot_recovery_outcomes_total",
				Help: "Finished recoveries by error kind and outcome",
			},
			[]string{"error_kind", "outcome"}, // succeeded | exhausted | unclassified | canceled
		),
	}

	m.Registry.MustRegister(
		m.ToolExecutions, m.ToolDuration, m.SafetyDenials,
		m.RecoveryAttempts, m.RecoveryOutcomes,
	)
	return m
}

// ObserveTool records one executed request.
func (m *Metrics) ObserveTool(tool string, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, outcome(success)).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// ObserveDenial records a safety denial.
func (m *Metrics) ObserveDenial(tool string) {
	if m == nil {
		return
	}
	m.SafetyDenials.WithLabelValues(tool).Inc()
}

// ObserveRecoveryAttempt records one executed recovery action.
func (m *Metrics) ObserveRecoveryAttempt(action string, success bool) {
	if m == nil {
		return
	}
	m.RecoveryAttempts.WithLabelValues(action, outcome(success)).Inc()
}

// ObserveRecoveryOutcome records how a recovery run ended.
func (m *Metrics) ObserveRecoveryOutcome(errorKind, result string) {
	if m == nil {
		return
	}
	m.RecoveryOutcomes.WithLabelValues(errorKind, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
