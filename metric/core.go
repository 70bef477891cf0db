package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bridge-wide metrics. Per-component series (the TCP
// input's connection and frame counters) are registered by the components
// themselves; this set covers the shared publish path and the broker link.
type Metrics struct {
	// Publish path
	FramesPublished prometheus.Counter
	PublishQueueLen prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all bridge-wide metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FramesPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "parrot",
				Subsystem: "publish",
				Name:      "frames_published_total",
				Help:      "Total number of frames published to the broker",
			},
		),

		PublishQueueLen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "parrot",
				Subsystem: "publish",
				Name:      "queue_length",
				Help:      "Current depth of the publish queue",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parrot",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "parrot",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "parrot",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "parrot",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "parrot",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// RecordFramePublished increments the published frame counter
func (c *Metrics) RecordFramePublished() {
	c.FramesPublished.Inc()
}

// RecordPublishQueueLen updates the publish queue depth gauge
func (c *Metrics) RecordPublishQueueLen(n int) {
	c.PublishQueueLen.Set(float64(n))
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	c.NATSCircuitBreaker.Set(value)
}
