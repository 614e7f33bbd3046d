// Package metrics exposes job run counters and latencies in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cadence/pkg/schedule"
)

const namespace = "cadence"

// Metrics owns a private registry; nothing is registered globally.
type Metrics struct {
	reg *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lateness *prometheus.HistogramVec
	removed  *prometheus.CounterVec
}

// Gauges are read at scrape time. Nil funcs are skipped.
type Gauges struct {
	Jobs          func() float64
	Polls         func() float64
	EventsDropped func() float64
}

func New(g Gauges) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job executions by result (ok or error).",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one job execution.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"job"}),
		lateness: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_lateness_seconds",
			Help:      "Delay between the scheduled and the actual start.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
		}, []string{"job"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_removed_total",
			Help:      "Jobs dropped because no next run could be computed.",
		}, []string{"job"}),
	}
	m.reg.MustRegister(
		m.runs, m.duration, m.lateness, m.removed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if g.Jobs != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_registered",
			Help:      "Jobs currently on the schedule.",
		}, g.Jobs))
	}
	if g.Polls != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_polls_total",
			Help:      "Poll loop iterations.",
		}, g.Polls))
	}
	if g.EventsDropped != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lifecycle events lost to full subscriber buffers.",
		}, g.EventsDropped))
	}
	return m
}

// ObserveRun records one outcome.
func (m *Metrics) ObserveRun(o schedule.Outcome) {
	result := "ok"
	if !o.OK() {
		result = "error"
	}
	m.runs.WithLabelValues(o.Job, result).Inc()
	m.duration.WithLabelValues(o.Job).Observe(o.Duration.Seconds())
	if !o.Due.IsZero() && !o.Started.IsZero() {
		m.lateness.WithLabelValues(o.Job).Observe(max(o.Started.Sub(o.Due), 0).Seconds())
	}
	if o.RescheduleErr != nil {
		m.removed.WithLabelValues(o.Job).Inc()
	}
}

// Forget drops the series of a job that left the config.
func (m *Metrics) Forget(job string) {
	for _, result := range []string{"ok", "error"} {
		m.runs.DeleteLabelValues(job, result)
	}
	m.duration.DeleteLabelValues(job)
	m.lateness.DeleteLabelValues(job)
	m.removed.DeleteLabelValues(job)
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg, Timeout: 10 * time.Second})
}
