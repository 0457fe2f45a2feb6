package app

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters for the credit core. A nil *Metrics is a no-op.
type Metrics struct {
	operations   *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	sweepRuns    *prometheus.CounterVec
	sweepEntity  *prometheus.CounterVec
	sweepLatency *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// CreditMetrics returns the process-wide metrics, registering them on first use.
func CreditMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = &Metrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cronia_operations_total",
				Help: "Synchronous credit operations by operation and outcome kind.",
			}, []string{"operation", "outcome"}),
			conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cronia_occ_conflicts_total",
				Help: "Optimistic concurrency conflicts that triggered a retry.",
			}, []string{"operation"}),
			sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cronia_sweep_runs_total",
				Help: "Sweep executions by job and result.",
			}, []string{"job", "result"}),
			sweepEntity: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cronia_sweep_entities_total",
				Help: "Entities processed by sweeps by job and result.",
			}, []string{"job", "result"}),
			sweepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "cronia_sweep_duration_seconds",
				Help:    "Wall-clock duration of sweeps.",
				Buckets: prometheus.DefBuckets,
			}, []string{"job"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cronia_account_transitions_total",
				Help: "Account status transitions applied by sweeps.",
			}, []string{"from", "to"}),
		}
		prometheus.MustRegister(
			metricsRegistry.operations,
			metricsRegistry.conflicts,
			metricsRegistry.sweepRuns,
			metricsRegistry.sweepEntity,
			metricsRegistry.sweepLatency,
			metricsRegistry.transitions,
		)
	})
	return metricsRegistry
}

func (m *Metrics) observeOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) observeSweep(job string, ok bool, processed, failed int, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sweepRuns.WithLabelValues(job, result).Inc()
	m.sweepEntity.WithLabelValues(job, "ok").Add(float64(processed))
	m.sweepEntity.WithLabelValues(job, "failed").Add(float64(failed))
	m.sweepLatency.WithLabelValues(job).Observe(seconds)
}

func (m *Metrics) observeTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
