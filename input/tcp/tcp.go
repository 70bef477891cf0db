// Package tcp provides the TCP input component that feeds the bridge
package tcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/parrot/component"
	"github.com/c360/parrot/errors"
	"github.com/c360/parrot/framing"
	"github.com/c360/parrot/metric"
	"github.com/c360/parrot/pkg/retry"
	"github.com/c360/parrot/publish"
	"github.com/c360/parrot/validate"
)

const (
	readBufferSize = 64 * 1024
	pollInterval   = 100 * time.Millisecond

	// previewLimit caps how much of a rejected frame reaches the log.
	previewLimit = 64
)

// Metrics holds Prometheus metrics for the TCP input component
type Metrics struct {
	connectionsTotal prometheus.Counter
	connectionsOpen  prometheus.Gauge
	bytesReceived    prometheus.Counter
	framesEmitted    prometheus.Counter
	framesOversize   prometheus.Counter
	framesInvalid    prometheus.Counter
	tailBytesDropped prometheus.Counter
	readErrors       prometheus.Counter
	lastActivity     prometheus.Gauge
}

// newMetrics creates and registers TCP input metrics
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "connections_total",
			Help:      "Total TCP connections accepted",
		}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "connections_open",
			Help:      "Currently open TCP connections",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from TCP connections",
		}),
		framesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "frames_emitted_total",
			Help:      "Frames extracted from the byte stream",
		}),
		framesOversize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "frames_oversize_total",
			Help:      "Frames dropped for exceeding the length cap",
		}),
		framesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "frames_invalid_total",
			Help:      "Frames rejected by validation",
		}),
		tailBytesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "tail_bytes_dropped_total",
			Help:      "Unterminated bytes discarded at connection close",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "read_errors_total",
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parrot",
			Subsystem: "tcp_input",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of last received data",
		}),
	}

	serviceName := fmt.Sprintf("tcp_input_%d", port)
	_ = registry.Register(serviceName, "connections_total", metrics.connectionsTotal)
	_ = registry.Register(serviceName, "connections_open", metrics.connectionsOpen)
	_ = registry.Register(serviceName, "bytes_received", metrics.bytesReceived)
	_ = registry.Register(serviceName, "frames_emitted", metrics.framesEmitted)
	_ = registry.Register(serviceName, "frames_oversize", metrics.framesOversize)
	_ = registry.Register(serviceName, "frames_invalid", metrics.framesInvalid)
	_ = registry.Register(serviceName, "tail_bytes_dropped", metrics.tailBytesDropped)
	_ = registry.Register(serviceName, "read_errors", metrics.readErrors)
	_ = registry.Register(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// InputConfig holds configuration for the TCP input component
type InputConfig struct {
	// Endpoint is the host:port to listen on
	Endpoint string `json:"endpoint"`
	// Delimiter is the sentinel byte separating frames on the wire
	Delimiter byte `json:"delimiter"`
	// MaxFrameBytes caps frame length; 0 disables the cap
	MaxFrameBytes int `json:"max_frame_bytes"`
}

// DefaultConfig returns sensible defaults for the TCP input
func DefaultConfig() InputConfig {
	return InputConfig{
		Endpoint:  "127.0.0.1:1974",
		Delimiter: 0x07,
	}
}

// Validate checks the configuration
func (c *InputConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tcp-input", "Validate", "read endpoint")
	}
	if _, _, err := net.SplitHostPort(c.Endpoint); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: bad endpoint %q: %v", errors.ErrInvalidConfig, c.Endpoint, err),
			"tcp-input", "Validate", "parse endpoint")
	}
	if c.MaxFrameBytes < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: negative max_frame_bytes", errors.ErrInvalidConfig),
			"tcp-input", "Validate", "check frame cap")
	}
	return nil
}

// InputDeps holds runtime dependencies for the TCP input component
type InputDeps struct {
	Name            string
	Config          InputConfig
	Publisher       publish.Publisher
	Validator       validate.Validator
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input implements a TCP listener that splits each connection's byte stream
// into frames and hands them to the publisher
type Input struct {
	name          string
	endpoint      string
	delimiter     byte
	maxFrameBytes int

	publisher publish.Publisher
	validator validate.Validator
	logger    *slog.Logger

	retryConfig retry.Config

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	listener  net.Listener

	// Metrics (atomic for thread safety)
	connections    atomic.Int64
	framesReceived atomic.Int64
	bytesReceived  atomic.Int64
	errorCount     atomic.Int64
	lastError      atomic.Value // stores string
	lastActivity   atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *Metrics
}

// Ensure Input implements all required interfaces
var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates a new TCP input component
func NewInput(deps InputDeps) *Input {
	cfg := deps.Config
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultConfig().Endpoint
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tcp-input", "endpoint", cfg.Endpoint)

	validator := deps.Validator
	if validator == nil {
		validator = validate.AcceptAll{}
	}

	var metrics *Metrics
	if deps.MetricsRegistry != nil {
		port := 0
		if _, portStr, err := net.SplitHostPort(cfg.Endpoint); err == nil {
			fmt.Sscanf(portStr, "%d", &port)
		}
		metrics = newMetrics(deps.MetricsRegistry, port)
	}

	i := &Input{
		name:          deps.Name,
		endpoint:      cfg.Endpoint,
		delimiter:     cfg.Delimiter,
		maxFrameBytes: cfg.MaxFrameBytes,
		publisher:     deps.Publisher,
		validator:     validator,
		logger:        logger,
		retryConfig:   retry.Quick(),
		startTime:     time.Now(),
		metrics:       metrics,
	}
	i.lastError.Store("")
	i.lastActivity.Store(time.Time{})
	return i
}

// Meta returns the component metadata
func (i *Input) Meta() component.Metadata {
	name := i.name
	if name == "" {
		name = "tcp-input"
	}

	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("TCP listener on %s splitting frames on byte 0x%02X", i.endpoint, i.delimiter),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (i *Input) Health() component.HealthStatus {
	i.mu.RLock()
	listening := i.listener != nil
	i.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    i.running.Load() && listening,
		LastCheck:  time.Now(),
		ErrorCount: int(i.errorCount.Load()),
		LastError:  i.lastError.Load().(string),
		Uptime:     time.Since(i.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (i *Input) DataFlow() component.FlowMetrics {
	frames := i.framesReceived.Load()
	bytes := i.bytesReceived.Load()
	errorCount := i.errorCount.Load()
	lastActivity, _ := i.lastActivity.Load().(time.Time)

	var framesPerSecond float64
	var bytesPerSecond float64
	var errorRate float64

	if uptime := time.Since(i.startTime).Seconds(); uptime > 0 {
		framesPerSecond = float64(frames) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}

	if frames > 0 {
		errorRate = float64(errorCount) / float64(frames)
	}

	return component.FlowMetrics{
		MessagesPerSecond: framesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the component before starting
func (i *Input) Initialize() error {
	cfg := InputConfig{Endpoint: i.endpoint, Delimiter: i.delimiter, MaxFrameBytes: i.maxFrameBytes}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if i.publisher == nil {
		return errors.WrapInvalid(fmt.Errorf("nil publisher"),
			"tcp-input", "Initialize", "check publisher")
	}

	return nil
}

// Start binds the listener and begins accepting connections
func (i *Input) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running.Load() {
		return nil // Already running, idempotent
	}

	i.shutdown = make(chan struct{})
	i.done = make(chan struct{})

	if err := retry.Do(ctx, i.retryConfig, i.bindListener); err != nil {
		i.cleanupUnlocked()
		return errors.WrapFatal(err, "tcp-input", "Start", "bind listener")
	}

	i.running.Store(true)
	i.startTime = time.Now()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.acceptLoop(ctx)
	}()

	// Close done once the accept loop and every connection handler exit.
	go func() {
		i.wg.Wait()
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.done != nil {
			select {
			case <-i.done:
			default:
				close(i.done)
			}
		}
	}()

	i.logger.Info("tcp input listening", "delimiter", fmt.Sprintf("0x%02X", i.delimiter))
	return nil
}

// bindListener creates the TCP listener
func (i *Input) bindListener() error {
	listener, err := net.Listen("tcp", i.endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", i.endpoint, err)
	}
	i.listener = listener
	return nil
}

// Addr returns the bound listener address, useful when the configured port is 0
func (i *Input) Addr() net.Addr {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.listener == nil {
		return nil
	}
	return i.listener.Addr()
}

// Stop gracefully stops the listener with the specified timeout
func (i *Input) Stop(timeout time.Duration) error {
	if !i.running.Load() {
		return nil
	}

	i.running.Store(false)

	i.mu.Lock()
	if i.shutdown != nil {
		select {
		case <-i.shutdown:
		default:
			close(i.shutdown)
		}
	}
	// Close the listener to unblock Accept
	if i.listener != nil {
		_ = i.listener.Close()
	}
	done := i.done
	i.mu.Unlock()

	if done != nil {
		select {
		case <-done:
			// All goroutines finished cleanly
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"tcp-input", "Stop", "graceful shutdown")
		}
	}

	i.cleanup()
	i.logger.Info("tcp input stopped", "connections_served", i.connections.Load())
	return nil
}

// cleanup cleans up resources
func (i *Input) cleanup() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cleanupUnlocked()
}

// cleanupUnlocked cleans up resources without acquiring the mutex
func (i *Input) cleanupUnlocked() {
	if i.shutdown != nil {
		select {
		case <-i.shutdown:
		default:
			close(i.shutdown)
		}
		i.shutdown = nil
	}
	i.done = nil
	if i.listener != nil {
		_ = i.listener.Close()
		i.listener = nil
	}
}

// acceptLoop accepts connections until shutdown
func (i *Input) acceptLoop(ctx context.Context) {
	for i.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-i.shutdown:
			return
		default:
		}

		i.mu.RLock()
		listener := i.listener
		i.mu.RUnlock()
		if listener == nil {
			return
		}

		// Deadline lets the loop notice shutdown without a blocked Accept
		if dl, ok := listener.(interface{ SetDeadline(time.Time) error }); ok {
			_ = dl.SetDeadline(time.Now().Add(pollInterval))
		}

		conn, err := listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-i.shutdown:
				return
			default:
			}

			// A failed accept only loses that one connection attempt; the
			// listener keeps serving. Errors like fd exhaustion arrive in
			// bursts, so pause briefly before the next accept.
			i.recordError(err)
			if i.metrics != nil {
				i.metrics.readErrors.Inc()
			}
			i.logger.Warn("accept failed", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-i.shutdown:
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		i.connections.Add(1)
		if i.metrics != nil {
			i.metrics.connectionsTotal.Inc()
			i.metrics.connectionsOpen.Inc()
		}

		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection owns one TCP connection: it reads chunks, splits them
// into frames, and forwards each frame through validation to the publisher.
// The splitter's unresolved tail is discarded when the connection ends.
func (i *Input) handleConnection(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()[:8]
	logger := i.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	logger.Info("connection opened")

	splitter := framing.NewSplitter(i.delimiter, framing.WithMaxFrameBytes(i.maxFrameBytes))
	readBuffer := make([]byte, readBufferSize)
	droppedSeen := 0

	defer func() {
		_ = conn.Close()
		if i.metrics != nil {
			i.metrics.connectionsOpen.Dec()
		}
		if tail := splitter.TailLen(); tail > 0 {
			// Unterminated bytes are dropped, never forwarded. Only the
			// count is logged; payload bytes stay out of the logs.
			logger.Info("discarding unterminated tail", "tail_bytes", tail)
			i.metrics.recordTailDropped(tail)
		}
		logger.Info("connection closed")
	}()

	for i.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-i.shutdown:
			return
		default:
		}

		// Deadline lets the handler notice shutdown while idle
		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))

		n, err := conn.Read(readBuffer)
		if n > 0 {
			i.bytesReceived.Add(int64(n))
			now := time.Now()
			i.lastActivity.Store(now)
			if i.metrics != nil {
				i.metrics.bytesReceived.Add(float64(n))
				i.metrics.lastActivity.Set(float64(now.Unix()))
			}

			frames, ferr := splitter.Feed(readBuffer[:n])
			// One chunk can drop several oversize frames under one error,
			// so count from the splitter's tally rather than per error.
			if dropped := splitter.Dropped(); dropped > droppedSeen {
				delta := dropped - droppedSeen
				droppedSeen = dropped
				if i.metrics != nil {
					i.metrics.framesOversize.Add(float64(delta))
				}
			}
			if ferr != nil {
				// Oversized frame dropped; the connection stays up.
				i.recordError(ferr)
				logger.Warn("frame dropped", "reason", "oversize",
					"max_frame_bytes", i.maxFrameBytes, "dropped_total", splitter.Dropped())
			}

			for _, frame := range frames {
				i.dispatchFrame(ctx, logger, frame)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if err == io.EOF {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-i.shutdown:
				return
			default:
				i.recordError(err)
				if i.metrics != nil {
					i.metrics.readErrors.Inc()
				}
				logger.Warn("read failed", "error", err)
				return
			}
		}
	}
}

// dispatchFrame validates one frame and submits it to the publisher
func (i *Input) dispatchFrame(ctx context.Context, logger *slog.Logger, frame []byte) {
	i.framesReceived.Add(1)
	if i.metrics != nil {
		i.metrics.framesEmitted.Inc()
	}

	if err := i.validator.Validate(frame); err != nil {
		if i.metrics != nil {
			i.metrics.framesInvalid.Inc()
		}
		logger.Debug("frame rejected",
			"validator", i.validator.Name(),
			"frame_bytes", len(frame),
			"preview", framePreview(frame),
		)
		return
	}

	if err := i.publisher.Publish(ctx, frame); err != nil {
		i.recordError(err)
		logger.Warn("frame not published", "error", err, "frame_bytes", len(frame))
	}
}

func (i *Input) recordError(err error) {
	i.errorCount.Add(1)
	i.lastError.Store(err.Error())
}

// recordTailDropped is nil-safe so the defer in handleConnection stays flat
func (m *Metrics) recordTailDropped(n int) {
	if m == nil {
		return
	}
	m.tailBytesDropped.Add(float64(n))
}

// framePreview renders a truncated, quoted view of a frame for debug logs
func framePreview(frame []byte) string {
	if len(frame) <= previewLimit {
		return fmt.Sprintf("%q", frame)
	}
	return fmt.Sprintf("%q...", frame[:previewLimit])
}
