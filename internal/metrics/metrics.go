// Package metrics provides the Prometheus metrics for scan runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all metrics.
	Namespace = "cloudwatcher"

	// Subsystem is the subsystem for scan metrics.
	Subsystem = "scan"
)

// Scan outcomes.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Per-article results.
const (
	ResultAdded     = "added"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// Metrics holds the scan metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ScansTotal    *prometheus.CounterVec
	ArticlesTotal *prometheus.CounterVec
	ScanDuration  prometheus.Histogram
	Scanning      prometheus.Gauge
}

// New creates and registers the scan metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "runs_total",
				Help:      "Total number of scan runs by outcome",
			},
			[]string{"outcome"},
		),
		ArticlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "articles_total",
				Help:      "Total number of collected articles by processing result",
			},
			[]string{"result"},
		),
		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "duration_seconds",
				Help:      "Duration of scan runs in seconds",
				Buckets:   []float64{1, 10, 30, 60, 120, 300, 600},
			},
		),
		Scanning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "in_progress",
				Help:      "1 while a scan run is in progress",
			},
		),
	}
}

// ScanStarted marks a run as in progress.
func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.Scanning.Set(1)
}

// ScanFinished records the outcome and duration of a run.
func (m *Metrics) ScanFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(d.Seconds())
}

// ScanEnded clears the in-progress gauge once the run releases its lock.
func (m *Metrics) ScanEnded() {
	if m == nil {
		return
	}
	m.Scanning.Set(0)
}

// Article records the processing result of one article.
func (m *Metrics) Article(result string) {
	if m == nil {
		return
	}
	m.ArticlesTotal.WithLabelValues(result).Inc()
}
