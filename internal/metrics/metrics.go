// Package metrics provides Prometheus metrics for selection runs
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Component outcomes recorded by ObserveComponent.
const (
	OutcomeWatermark = "watermark"
	OutcomeFresh     = "fresh"
	OutcomeFiltered  = "filtered"
	OutcomeFailed    = "failed"
	OutcomeSelected  = "selected"
)

// Metrics holds all Prometheus metrics for the deployer. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	PagesFetched  *prometheus.CounterVec
	Components    *prometheus.CounterVec
	CheckFailures *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Watermark     *prometheus.GaugeVec
	SinkPublishes *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployer_pages_fetched_total",
				Help: "Total number of component pages fetched from the store",
			},
			[]string{"task"},
		),
		Components: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployer_components_total",
				Help: "Components seen by the browser, by outcome",
			},
			[]string{"task", "outcome"},
		),
		CheckFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployer_check_failures_total",
				Help: "Failed checks recorded, by check",
			},
			[]string{"task", "check"},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployer_runs_total",
				Help: "Selection runs, by status",
			},
			[]string{"task", "status"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deployer_run_duration_seconds",
				Help:    "Duration of selection runs in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"task"},
		),
		Watermark: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deployer_watermark_seconds",
				Help: "Current watermark per task, epoch seconds",
			},
			[]string{"task"},
		),
		SinkPublishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployer_sink_publishes_total",
				Help: "Run summary publishes, by sink and status",
			},
			[]string{"sink", "status"},
		),
	}
}

// ObservePage records one fetched page.
func (m *Metrics) ObservePage(task string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(task).Inc()
}

// ObserveComponent records the outcome for one component.
func (m *Metrics) ObserveComponent(task, outcome string) {
	if m == nil {
		return
	}
	m.Components.WithLabelValues(task, outcome).Inc()
}

// ObserveCheckFailure records one failed check.
func (m *Metrics) ObserveCheckFailure(task, check string) {
	if m == nil {
		return
	}
	m.CheckFailures.WithLabelValues(task, check).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(task, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(task, status).Inc()
	m.RunDuration.WithLabelValues(task).Observe(d.Seconds())
}

// SetWatermark exports the task's watermark.
func (m *Metrics) SetWatermark(task string, epochSeconds int64) {
	if m == nil {
		return
	}
	m.Watermark.WithLabelValues(task).Set(float64(epochSeconds))
}

// ObserveSinkPublish records a summary publish attempt.
func (m *Metrics) ObserveSinkPublish(sink, status string) {
	if m == nil {
		return
	}
	m.SinkPublishes.WithLabelValues(sink, status).Inc()
}
