// Package metrics exposes Prometheus instrumentation for the reactive store
// and the pipeline registry.
//
// All methods are safe to call on a nil *Metrics, so library code can report
// unconditionally and callers opt in by passing a constructed value.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parley"

// Metrics groups the collectors reported by parley components.
type Metrics struct {
	hookCalls           *prometheus.CounterVec
	hookFailures        *prometheus.CounterVec
	materializeFailures *prometheus.CounterVec
	storageErrors       *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageFailures       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered, which is useful in tests
// that only inspect them directly.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hookCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_calls_total",
			Help:      "Hook callbacks invoked, by source kind.",
		}, []string{"kind"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Hook callbacks that panicked, by source kind.",
		}, []string{"kind"}),
		materializeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialize_failures_total",
			Help:      "Materializer calls that returned an error, by collection namespace.",
		}, []string{"namespace"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Backing store operations that failed, by operation.",
		}, []string{"op"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Time spent in a single pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Pipeline stages that rejected or panicked.",
		}, []string{"pipeline"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.hookCalls,
			m.hookFailures,
			m.materializeFailures,
			m.storageErrors,
			m.stageDuration,
			m.stageFailures,
		)
	}

	return m
}

// HookCalled records a completed hook invocation.
func (m *Metrics) HookCalled(kind string) {
	if m == nil {
		return
	}
	m.hookCalls.WithLabelValues(kind).Inc()
}

// HookFailed records a hook that panicked.
func (m *Metrics) HookFailed(kind string) {
	if m == nil {
		return
	}
	m.hookFailures.WithLabelValues(kind).Inc()
}

// MaterializeFailed records a materializer error for a collection namespace.
func (m *Metrics) MaterializeFailed(ns string) {
	if m == nil {
		return
	}
	m.materializeFailures.WithLabelValues(ns).Inc()
}

// StorageFailed records a failed backing store operation.
func (m *Metrics) StorageFailed(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

// StageObserved records how long a pipeline stage took and whether it failed.
func (m *Metrics) StageObserved(pipeline string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(pipeline).Observe(elapsed.Seconds())
	if failed {
		m.stageFailures.WithLabelValues(pipeline).Inc()
	}
}
