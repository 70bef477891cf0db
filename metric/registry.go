// Package metric manages Prometheus metric registration and the ops HTTP endpoint.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/parrot/errors"
)

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core platform metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerCoreMetrics()

	// Add Go runtime metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core platform metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register registers a component-specific collector under component.name.
// Registering the same key twice is an error, as is a Prometheus-level
// descriptor conflict.
func (r *MetricsRegistry) Register(component, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"MetricsRegistry", "Register", "register collector")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("register conflicting metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register collector")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a metric from the registry
func (r *MetricsRegistry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}

	return success
}

// registerCoreMetrics registers all bridge-wide metrics
func (r *MetricsRegistry) registerCoreMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.FramesPublished,
		r.Metrics.PublishQueueLen,
		r.Metrics.ErrorsTotal,
		r.Metrics.NATSConnected,
		r.Metrics.NATSRTT,
		r.Metrics.NATSReconnects,
		r.Metrics.NATSCircuitBreaker,
	)
}
