// Package natsclient provides a client for managing NATS connections with circuit breaker pattern.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/parrot/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrCircuitOpen       = stderrors.New("circuit breaker is open")
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client manages a NATS connection with circuit breaker pattern
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	conn *nats.Conn

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication - sensitive fields cleared on close
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	// Callbacks
	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	// Metrics export, nil when not configured
	metrics MetricsRecorder

	// Health monitoring
	healthTicker   *time.Ticker
	healthInterval time.Duration
	healthDone     chan struct{}

	// Synchronization
	mu      sync.RWMutex
	closeMu sync.Mutex  // Ensures Close() is called only once
	closed  atomic.Bool // Track if client is closed
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: &defaultLogger{},
		// Sensible defaults
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// SetConnection sets the NATS connection (for testing)
func (m *Client) SetConnection(conn *nats.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	if conn != nil && conn.IsConnected() {
		m.setStatus(StatusConnected)
	}
}

// setStatus updates the connection status and exports it
func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.metrics != nil {
		m.metrics.RecordNATSStatus(status == StatusConnected)
		m.metrics.RecordCircuitBreakerState(status == StatusCircuitOpen)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debugf("Recorded failure %d (circuit failures: %d)", totalFailures, circuitFailures)

	if circuitFailures >= m.circuitThreshold {
		currentStatus := m.Status()

		if currentStatus != StatusCircuitOpen {
			// Only one goroutine wins the transition to open
			if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
				if m.metrics != nil {
					m.metrics.RecordNATSStatus(false)
					m.metrics.RecordCircuitBreakerState(true)
				}
				currentBackoff := m.backoff.Load().(time.Duration)
				newBackoff := currentBackoff * 2
				if newBackoff > m.maxBackoff {
					newBackoff = m.maxBackoff
				}
				m.backoff.Store(newBackoff)

				m.logger.Printf(
					"Circuit breaker opened after %d failures, backing off for %v",
					circuitFailures,
					currentBackoff,
				)

				m.circuitFailures.Store(0)

				// Schedule circuit test after backoff
				time.AfterFunc(currentBackoff, m.testCircuit)
			}
		} else {
			// Failures continue while circuit is open; keep increasing backoff
			currentBackoff := m.backoff.Load().(time.Duration)
			newBackoff := currentBackoff * 2
			if newBackoff > m.maxBackoff {
				newBackoff = m.maxBackoff
			}
			m.backoff.Store(newBackoff)

			m.logger.Printf("Circuit breaker still open, increased backoff to %v", newBackoff)

			m.circuitFailures.Store(0)
		}
	}
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	// Don't change status if we're connected
	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit attempts to close the circuit breaker
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker test: moving from open to disconnected")
		m.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	return m.buildConnectionOptions()
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}

	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	lastFailure := m.lastFailure.Load().(time.Time)

	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: lastFailure,
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	opts := m.buildConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			m.recordFailure()

			if m.Status() != StatusCircuitOpen {
				m.setStatus(StatusDisconnected)
			}

			if m.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}

			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != StatusCircuitOpen {
			m.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()

	m.logger.Printf("Successfully connected to NATS at %s", m.url)

	if m.healthInterval > 0 {
		m.logger.Debugf("Starting health monitoring with interval %v", m.healthInterval)
		m.startHealthMonitoring()
	}

	if m.onHealthChange != nil {
		m.onHealthChange(true)
	}

	return nil
}

// Close drains and closes the NATS connection
func (m *Client) Close(ctx context.Context) error {
	// Ensure Close() is only called once
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	// Stop health monitoring first (before acquiring main mutex to avoid deadlock)
	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	var drainErr error
	if m.conn != nil {
		// Use context deadline for drain timeout if available
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- m.conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
				m.logger.Errorf("Drain error: %v", err)
			}
		case <-time.After(drainTimeout):
			drainErr = errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client",
				"Close",
				"drain connection",
			)
			m.logger.Errorf("Drain timeout after %v, force closing", drainTimeout)
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
			m.logger.Errorf("Context cancelled during drain, force closing")
		}

		m.conn.Close()
		m.conn = nil
	}

	// Clear sensitive credentials from memory
	m.username = ""
	m.password = ""
	m.token = ""

	m.setStatus(StatusDisconnected)

	return drainErr
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}

	return conn.RTT()
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	if err := conn.Publish(subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}

	return nil
}

// Flush waits for all buffered publishes to reach the server
func (m *Client) Flush(timeout time.Duration) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.FlushTimeout(timeout)
}

// OnHealthChange sets a callback for health status changes
func (m *Client) OnHealthChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = fn
}

// Event handlers for NATS connection
func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)

	m.mu.RLock()
	onDisconnect := m.onDisconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	if m.metrics != nil {
		m.metrics.RecordNATSReconnect()
	}

	m.mu.RLock()
	onReconnect := m.onReconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Errorf("NATS error: %v", err)
}

// startHealthMonitoring starts periodic health checks
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	m.healthTicker = time.NewTicker(m.healthInterval)
	m.healthDone = make(chan struct{})
	ticker := m.healthTicker
	done := m.healthDone
	m.mu.Unlock()

	go func() {
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.RLock()
				conn := m.conn
				m.mu.RUnlock()

				if conn == nil {
					continue
				}

				healthy := conn.IsConnected()
				rtt, err := conn.RTT()
				if err != nil {
					healthy = false
				} else if m.metrics != nil {
					m.metrics.RecordNATSRTT(rtt)
				}

				if healthy && m.Status() != StatusConnected {
					m.setStatus(StatusConnected)
				} else if !healthy && m.Status() == StatusConnected {
					m.setStatus(StatusReconnecting)
				}

				if healthy != lastHealthy && m.onHealthChange != nil {
					m.onHealthChange(healthy)
				}

				lastHealthy = healthy
			}
		}
	}()
}

// stopHealthMonitoring stops health monitoring goroutine
func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthTicker != nil {
		m.healthTicker.Stop()
		m.healthTicker = nil
	}
	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}
