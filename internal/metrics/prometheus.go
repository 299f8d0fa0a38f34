package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exports pipeline metrics to a registry.
type Prometheus struct {
	rowsTotal     *prometheus.CounterVec
	rowLatency    *prometheus.HistogramVec
	taxonomyTotal *prometheus.CounterVec
	batchesTotal  *prometheus.CounterVec
	batchLatency  *prometheus.HistogramVec
}

// NewPrometheus registers the import collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		rowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbstudio",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of staging rows attempted, by outcome.",
		}, []string{"outcome"}),
		rowLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbstudio",
			Subsystem: "import",
			Name:      "row_duration_seconds",
			Help:      "Latency distribution for processing one staging row.",
			Buckets: []float64{
				0.001, 0.005,
				0.01, 0.05,
				0.1, 0.5,
				1, 5,
			},
		}, []string{"outcome"}),
		taxonomyTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbstudio",
			Subsystem: "import",
			Name:      "taxonomy_upserts_total",
			Help:      "Total number of taxonomy upserts, by kind and whether a row was created.",
		}, []string{"kind", "created"}),
		batchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbstudio",
			Subsystem: "import",
			Name:      "batches_total",
			Help:      "Total number of finished import batches, by final job status.",
		}, []string{"status"}),
		batchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbstudio",
			Subsystem: "import",
			Name:      "batch_duration_seconds",
			Help:      "Latency distribution for whole import batches.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),
	}
}

func (p *Prometheus) RecordRow(outcome string, d time.Duration) {
	p.rowsTotal.WithLabelValues(outcome).Inc()
	p.rowLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) RecordTaxonomy(kind string, created bool, _ time.Duration) {
	p.taxonomyTotal.WithLabelValues(kind, strconv.FormatBool(created)).Inc()
}

func (p *Prometheus) RecordBatch(status string, d time.Duration) {
	p.batchesTotal.WithLabelValues(status).Inc()
	p.batchLatency.WithLabelValues(status).Observe(d.Seconds())
}

// Recorder is the metric sink the import pipeline writes to.
type Recorder interface {
	RecordRow(outcome string, d time.Duration)
	RecordTaxonomy(kind string, created bool, d time.Duration)
	RecordBatch(status string, d time.Duration)
}

// Multi fans every call out to each recorder.
type Multi []Recorder

func (m Multi) RecordRow(outcome string, d time.Duration) {
	for _, r := range m {
		r.RecordRow(outcome, d)
	}
}

func (m Multi) RecordTaxonomy(kind string, created bool, d time.Duration) {
	for _, r := range m {
		r.RecordTaxonomy(kind, created, d)
	}
}

func (m Multi) RecordBatch(status string, d time.Duration) {
	for _, r := range m {
		r.RecordBatch(status, d)
	}
}
