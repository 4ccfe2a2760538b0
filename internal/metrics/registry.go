package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
)

// Registry holds the Prometheus metrics registry and its HTTP handler.
type Registry struct {
	registry *prometheus.Registry
	handler  http.Handler
	logger   *logrus.Logger
}

// NewRegistry creates a registry pre-populated with Go runtime and process
// collectors.
func NewRegistry(logger *logrus.Logger) *Registry {
	registry := prometheus.NewRegistry()
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})

	r := &Registry{
		registry: registry,
		handler:  handler,
		logger:   logger.WithField("component", "metrics").Logger,
	}
	r.registerIfNotExists(collectors.NewGoCollector(), "go_collector")
	r.registerIfNotExists(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), "process_collector")
	return r
}

// MustRegister adds collectors to the registry and panics on error.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

func (r *Registry) registerIfNotExists(collector prometheus.Collector, name string) {
	if err := r.registry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if !errors.As(err, &alreadyRegErr) {
			r.logger.Errorf("Failed to register %s: %v", name, err)
		}
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return r.handler
}

// Gather returns the current metric families from the underlying registry.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}
