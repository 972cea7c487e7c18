// Package metrics exposes Prometheus instrumentation for scrape runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors a run updates. A nil *Metrics is a no-op.
type Metrics struct {
	jobs        *prometheus.CounterVec
	fetch       *prometheus.HistogramVec
	rows        prometheus.Counter
	discovered  prometheus.Counter
	retriedDays *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpscrape",
			Name:      "jobs_total",
			Help:      "Race pages processed, by outcome.",
		}, []string{"outcome"}),
		fetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpscrape",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of race page fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpscrape",
			Name:      "rows_written_total",
			Help:      "Runner rows written to output files.",
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpscrape",
			Name:      "urls_discovered_total",
			Help:      "Distinct race URLs returned by discovery.",
		}),
		retriedDays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpscrape",
			Name:      "retry_dates_total",
			Help:      "Dates re-run from a failure log, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.jobs, m.fetch, m.rows, m.discovered, m.retriedDays)
	return m
}

// ObserveJob counts one finished job.
func (m *Metrics) ObserveJob(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one fetch latency.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetch.WithLabelValues(result).Observe(d.Seconds())
}

// AddRows counts rows written.
func (m *Metrics) AddRows(n int) {
	if m == nil {
		return
	}
	m.rows.Add(float64(n))
}

// AddDiscovered counts URLs returned by discovery.
func (m *Metrics) AddDiscovered(n int) {
	if m == nil {
		return
	}
	m.discovered.Add(float64(n))
}

// ObserveRetryDate counts one re-run date.
func (m *Metrics) ObserveRetryDate(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.retriedDays.WithLabelValues(result).Inc()
}
