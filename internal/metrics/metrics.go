// Package metrics exposes run counters to Prometheus.
//
// Registers:
//
//	hotpotato_runs_total{outcome}
//	hotpotato_faults_total{kind}
//	hotpotato_rows_merged_total{table}
//	hotpotato_notifications_total{kind,result}
//	hotpotato_fetch_duration_seconds{mode}
//	hotpotato_last_success_timestamp_seconds
//	go_* and process_* system metrics
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hotpotato"

// Metrics holds the collectors updated by the orchestrator. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	runs          *prometheus.CounterVec
	faults        *prometheus.CounterVec
	rowsMerged    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome (notified, unchanged, failed).",
		}, []string{"outcome"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults raised by kind.",
		}, []string{"kind"}),
		rowsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_merged_total",
			Help:      "Rows newly written to durable tables.",
		}, []string{"table"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch attempts by kind and result.",
		}, []string{"kind", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of the concurrent fetch stage.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"mode"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without a fault.",
		}),
	}

	m.Registry.MustRegister(
		m.runs,
		m.faults,
		m.rowsMerged,
		m.notifications,
		m.fetchDuration,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RunFinished records a run outcome.
func (m *Metrics) RunFinished(outcome string, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome != "failed" {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// Fault counts a fault of the named kind.
func (m *Metrics) Fault(kind string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(kind).Inc()
}

// RowsMerged adds newly written rows.
func (m *Metrics) RowsMerged(prices, dividends int64) {
	if m == nil {
		return
	}
	m.rowsMerged.WithLabelValues("price_bars").Add(float64(prices))
	m.rowsMerged.WithLabelValues("dividends").Add(float64(dividends))
}

// Notification counts a dispatch attempt.
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// ObserveFetch records how long the fetch stage took.
func (m *Metrics) ObserveFetch(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}
