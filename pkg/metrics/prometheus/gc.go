package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rugalib/ruga-filepond/pkg/metrics"
)

// gcMetrics is the Prometheus implementation of metrics.GCMetrics.
type gcMetrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	transfersRemoved prometheus.Counter
	spoolsRemoved    prometheus.Counter
	bytesReleased    prometheus.Counter
}

// NewGCMetrics creates a new Prometheus-backed GCMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewGCMetrics() metrics.GCMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopGCMetrics()
	}
	return newGCMetrics(metrics.GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepond_gc_runs_total",
				Help: "Total number of staging garbage collection passes by status",
			},
			[]string{"status"},
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filepond_gc_run_duration_seconds",
				Help:    "Duration of staging garbage collection passes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		transfersRemoved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filepond_gc_transfers_removed_total",
				Help: "Total number of stale staging directories removed",
			},
		),
		spoolsRemoved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filepond_gc_spools_removed_total",
				Help: "Total number of stale multipart spool files removed",
			},
		),
		bytesReleased: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filepond_gc_bytes_released_total",
				Help: "Total bytes released by garbage collection",
			},
		),
	}
}

func (m *gcMetrics) RecordRun(transfers, spools int, bytes int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.transfersRemoved.Add(float64(transfers))
	m.spoolsRemoved.Add(float64(spools))
	if bytes > 0 {
		m.bytesReleased.Add(float64(bytes))
	}
}
