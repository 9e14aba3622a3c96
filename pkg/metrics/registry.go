// Package metrics provides Prometheus metrics collection for the upload server.
//
// All metrics are optional. Until InitRegistry is called every constructor in
// pkg/metrics/prometheus returns a no-op implementation, and the engine and
// collector behave the same with or without collection.
//
// Usage:
//
//	metrics.InitRegistry()
//
//	uploadMetrics := prometheus.NewUploadMetrics()
//	eng := engine.New(cfg, store, plugins, fetcher, uploadMetrics)
//
//	// nil records nothing
//	eng = engine.New(cfg, store, plugins, fetcher, nil)
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Handler serves the global registry in the Prometheus exposition format.
// With metrics disabled it answers 503.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}
