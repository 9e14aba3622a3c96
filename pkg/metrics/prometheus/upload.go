// Package prometheus implements the metrics interfaces on top of the global
// Prometheus registry.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rugalib/ruga-filepond/pkg/metrics"
)

// uploadMetrics is the Prometheus implementation of metrics.UploadMetrics.
type uploadMetrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInFlight   *prometheus.GaugeVec
	bytesReceived      *prometheus.CounterVec
	transfersCompleted *prometheus.CounterVec
	rejections         *prometheus.CounterVec
}

// NewUploadMetrics creates a new Prometheus-backed UploadMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() metrics.UploadMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopUploadMetrics()
	}
	return newUploadMetrics(metrics.GetRegistry())
}

func newUploadMetrics(reg prometheus.Registerer) *uploadMetrics {
	return &uploadMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepond_requests_total",
				Help: "Total number of protocol requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "filepond_request_duration_seconds",
				Help: "Duration of protocol requests in seconds",
				Buckets: []float64{
					0.005, // 5ms
					0.025, // 25ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
					120.0, // 2m
				},
			},
			[]string{"operation"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filepond_requests_in_flight",
				Help: "Current number of protocol requests being processed",
			},
			[]string{"operation"},
		),
		bytesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepond_bytes_received_total",
				Help: "Total bytes written to the staging area by source",
			},
			[]string{"source"},
		),
		transfersCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepond_transfers_completed_total",
				Help: "Total number of transfers that reached the complete state",
			},
			[]string{"source"},
		),
		rejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepond_rejections_total",
				Help: "Total number of requests refused by an admission check",
			},
			[]string{"reason"},
		),
	}
}

func (m *uploadMetrics) RecordRequest(operation string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *uploadMetrics) RecordRequestStart(operation string) {
	m.requestsInFlight.WithLabelValues(operation).Inc()
}

func (m *uploadMetrics) RecordRequestEnd(operation string) {
	m.requestsInFlight.WithLabelValues(operation).Dec()
}

func (m *uploadMetrics) RecordBytesReceived(source string, bytes int64) {
	if bytes <= 0 {
		return
	}
	m.bytesReceived.WithLabelValues(source).Add(float64(bytes))
}

func (m *uploadMetrics) RecordTransferComplete(source string) {
	m.transfersCompleted.WithLabelValues(source).Inc()
}

func (m *uploadMetrics) RecordRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}
