package config

import (
	"net/http"

	"github.com/rugalib/ruga-filepond/pkg/metrics"
	promMetrics "github.com/rugalib/ruga-filepond/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the standalone metrics listener. It is nil when metrics are
	// disabled or share the upload server's port.
	Server *metrics.Server

	// Handler serves /metrics on the upload server when metrics.port equals
	// server.port (nil otherwise)
	Handler http.Handler

	// Upload records protocol requests (never nil, uses noop if disabled)
	Upload metrics.UploadMetrics

	// GC records collector runs (never nil, uses noop if disabled)
	GC metrics.GCMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, or a handler for the upload server
//     when both use the same port
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns no server and no handler
//   - Returns no-op metrics implementations
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Upload: metrics.NewNoopUploadMetrics(),
			GC:     metrics.NewNoopGCMetrics(),
		}
	}

	metrics.InitRegistry()

	result := &MetricsResult{
		Upload: promMetrics.NewUploadMetrics(),
		GC:     promMetrics.NewGCMetrics(),
	}
	if cfg.Metrics.Port == cfg.Server.Port {
		result.Handler = metrics.Handler()
	} else {
		result.Server = metrics.NewServer(metrics.ServerConfig{
			Port:            cfg.Metrics.Port,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		})
	}
	return result
}
