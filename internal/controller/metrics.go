package controller

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proccontrol/internal/registry"
)

const metricsNamespace = "proccontrol"

// Metrics tracks the controller's activity. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          prometheus.Counter
	cycleErrors     prometheus.Counter
	conflicts       prometheus.Counter
	cycleDuration   prometheus.Histogram
	launches        prometheus.Counter
	failures        prometheus.Counter
	releases        prometheus.Counter
	deletions       prometheus.Counter
	refreshes       *prometheus.CounterVec
	registryEntries *prometheus.GaugeVec
	loopState       *prometheus.GaugeVec
}

// NewMetrics creates the controller metrics on a fresh registry that also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_cycles_total",
			Help:      "Reconciliation cycles committed.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_errors_total",
			Help:      "Reconciliation cycles that failed with an error other than a conflict.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transaction_conflicts_total",
			Help:      "Reconciliation attempts discarded because the snapshot became stale.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time from opening the first snapshot to a successful commit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workflow_launches_total",
			Help:      "Workflow deployments created.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workflow_failures_total",
			Help:      "Processing blocks set to FAILED because their workflow could not be resolved.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "releases_total",
			Help:      "Processing blocks released after their dependencies finished.",
		}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deployment_deletions_total",
			Help:      "Deployments deleted because their processing block is gone.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "registry_refreshes_total",
			Help:      "Workflow definition refresh attempts by outcome.",
		}, []string{"outcome"}),
		registryEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registry_entries",
			Help:      "Workflow versions currently known, by category.",
		}, []string{"category"}),
		loopState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "loop_state",
			Help:      "1 for the state the control loop is in.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleErrors, m.conflicts, m.cycleDuration,
		m.launches, m.failures, m.releases, m.deletions,
		m.refreshes, m.registryEntries, m.loopState,
	)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordConflict counts a discarded attempt.
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// RecordCycle records a committed cycle.
func (m *Metrics) RecordCycle(res *CycleResult) {
	if m == nil || res == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(res.Duration.Seconds())
	m.launches.Add(float64(len(res.Launched)))
	m.failures.Add(float64(len(res.Failed)))
	m.releases.Add(float64(len(res.Released)))
	m.deletions.Add(float64(len(res.Deleted)))
}

// RecordCycleError counts a cycle that failed without committing.
func (m *Metrics) RecordCycleError() {
	if m == nil {
		return
	}
	m.cycleErrors.Inc()
}

// RecordRefresh records a registry refresh and the size of the snapshot in
// use afterwards.
func (m *Metrics) RecordRefresh(outcome registry.Outcome, snap *registry.Snapshot) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(string(outcome)).Inc()
	if snap == nil {
		return
	}
	m.registryEntries.Reset()
	for category, n := range snap.Counts() {
		m.registryEntries.WithLabelValues(category).Set(float64(n))
	}
}

// RecordState marks state as the current loop state.
func (m *Metrics) RecordState(state LoopState) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.loopState.WithLabelValues(string(s)).Set(v)
	}
}
