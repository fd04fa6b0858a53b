// Package metrics exposes the process's Prometheus metrics.
//
// Components register their collectors with promauto on the default registerer, so
// the default Registry serves them without further wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry pairs the registerer components add collectors to with the gatherer the
// handler reads from.
type Registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// NewRegistry returns a registry over the default Prometheus registry, which already
// carries the Go runtime and process collectors and every promauto metric.
func NewRegistry() *Registry {
	return &Registry{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
}

// NewIsolatedRegistry returns a registry that only holds the Go runtime and process
// collectors plus whatever is registered on it. Tests use it to avoid global state.
func NewIsolatedRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Registry{registerer: reg, gatherer: reg}
}

// Register registers a collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registerer.Register(collector)
}

// MustRegister registers collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registerer.MustRegister(collectors...)
}

// Unregister removes a collector from the registry.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registerer.Unregister(collector)
}

// Handler serves the gathered metrics in the Prometheus exposition format and counts
// its own scrapes.
func (r *Registry) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(r.registerer, promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}
