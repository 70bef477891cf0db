package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/parrot/metric"
	"github.com/c360/parrot/validate"
)

// capturePublisher records published frames for assertions
type capturePublisher struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}

func (p *capturePublisher) got() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.frames))
	for i, f := range p.frames {
		out[i] = string(f)
	}
	return out
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// startInput starts an input on an ephemeral port and returns it with its address
func startInput(t *testing.T, cfg InputConfig, pub *capturePublisher, v validate.Validator) (*Input, string) {
	t.Helper()

	if cfg.Endpoint == "" {
		cfg.Endpoint = "127.0.0.1:0"
	}

	in := NewInput(InputDeps{
		Name:      "tcp-input-test",
		Config:    cfg,
		Publisher: pub,
		Validator: v,
	})
	require.NotNil(t, in)
	require.NoError(t, in.Initialize())
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(5 * time.Second) })

	addr := in.Addr()
	require.NotNil(t, addr)
	return in, addr.String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForFrames(t *testing.T, pub *capturePublisher, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return pub.count() >= n
	}, 5*time.Second, 10*time.Millisecond, "expected %d frames, got %d", n, pub.count())
}

func TestInput_SingleConnectionFrames(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	conn := dial(t, addr)
	_, err := conn.Write([]byte("alpha\nbeta\ngamma\n"))
	require.NoError(t, err)

	waitForFrames(t, pub, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, pub.got())
}

func TestInput_FrameAcrossWrites(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: 0x07}, pub, nil)

	conn := dial(t, addr)
	for _, chunk := range []string{"hel", "lo"} {
		_, err := conn.Write([]byte(chunk))
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}
	_, err := conn.Write([]byte{0x07})
	require.NoError(t, err)

	waitForFrames(t, pub, 1)
	assert.Equal(t, []string{"hello"}, pub.got())
}

func TestInput_EmptyFramesForwarded(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	conn := dial(t, addr)
	_, err := conn.Write([]byte("\n\n"))
	require.NoError(t, err)

	waitForFrames(t, pub, 2)
	assert.Equal(t, []string{"", ""}, pub.got())
}

func TestInput_UnterminatedTailDiscarded(t *testing.T) {
	pub := &capturePublisher{}
	in, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	conn := dial(t, addr)
	_, err := conn.Write([]byte("complete\norphan"))
	require.NoError(t, err)

	waitForFrames(t, pub, 1)
	require.NoError(t, conn.Close())

	// The tail must never surface as a frame, even after close.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{"complete"}, pub.got())
	assert.Equal(t, int64(1), in.framesReceived.Load())
}

func TestInput_MultipleConnectionsIsolated(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: '|'}, pub, nil)

	connA := dial(t, addr)
	connB := dial(t, addr)

	// Interleave partial writes: neither connection's tail may complete
	// the other's frame.
	_, err := connA.Write([]byte("aaa"))
	require.NoError(t, err)
	_, err = connB.Write([]byte("bbb"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = connA.Write([]byte("a|"))
	require.NoError(t, err)
	_, err = connB.Write([]byte("b|"))
	require.NoError(t, err)

	waitForFrames(t, pub, 2)
	assert.ElementsMatch(t, []string{"aaaa", "bbbb"}, pub.got())
}

func TestInput_InvalidFramesFiltered(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, validate.JSON{})

	conn := dial(t, addr)
	_, err := conn.Write([]byte("{\"ok\":true}\nnot json\n[1,2]\n"))
	require.NoError(t, err)

	waitForFrames(t, pub, 2)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"{\"ok\":true}", "[1,2]"}, pub.got())
}

func TestInput_OversizeFrameDropsButConnectionSurvives(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: '\n', MaxFrameBytes: 16}, pub, nil)

	conn := dial(t, addr)

	big := make([]byte, 64)
	for i := range big {
		big[i] = 'x'
	}
	_, err := conn.Write(append(big, '\n'))
	require.NoError(t, err)
	_, err = conn.Write([]byte("small\n"))
	require.NoError(t, err)

	waitForFrames(t, pub, 1)
	assert.Equal(t, []string{"small"}, pub.got())
}

// flakyListener fails a fixed number of accepts before delegating
type flakyListener struct {
	net.Listener
	mu       sync.Mutex
	failures int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, fmt.Errorf("accept4: too many open files")
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func (l *flakyListener) SetDeadline(deadline time.Time) error {
	return l.Listener.(*net.TCPListener).SetDeadline(deadline)
}

func TestInput_AcceptErrorsDoNotStopListener(t *testing.T) {
	pub := &capturePublisher{}
	in, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	// Burst of accept failures, as fd exhaustion produces. The loop must
	// ride them out and keep serving.
	in.mu.Lock()
	in.listener = &flakyListener{Listener: in.listener, failures: 3}
	in.mu.Unlock()

	conn := dial(t, addr)
	_, err := conn.Write([]byte("survived\n"))
	require.NoError(t, err)

	waitForFrames(t, pub, 1)
	assert.Equal(t, []string{"survived"}, pub.got())
	require.Eventually(t, func() bool {
		return in.errorCount.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond, "every failed accept is recorded")
}

func TestInput_OversizeFramesCountedPerFrame(t *testing.T) {
	pub := &capturePublisher{}
	registry := metric.NewMetricsRegistry()

	in := NewInput(InputDeps{
		Name:            "tcp-input-test",
		Config:          InputConfig{Endpoint: "127.0.0.1:0", Delimiter: '\n', MaxFrameBytes: 8},
		Publisher:       pub,
		MetricsRegistry: registry,
	})
	require.NoError(t, in.Initialize())
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(5 * time.Second) })

	conn := dial(t, in.Addr().String())
	// Two oversize frames and one valid frame in a single write.
	_, err := conn.Write([]byte("AAAAAAAAAAAA\nBBBBBBBBBBBB\nok\n"))
	require.NoError(t, err)

	waitForFrames(t, pub, 1)
	assert.Equal(t, []string{"ok"}, pub.got())

	require.Eventually(t, func() bool {
		return gatherCounter(t, registry, "parrot_tcp_input_frames_oversize_total") == 2.0
	}, 5*time.Second, 10*time.Millisecond, "each oversize frame must count once")
}

// gatherCounter reads a counter value from the registry by metric name
func gatherCounter(t *testing.T, registry *metric.MetricsRegistry, name string) float64 {
	t.Helper()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return -1
}

func TestInput_StopUnblocksClients(t *testing.T) {
	pub := &capturePublisher{}
	in, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	conn := dial(t, addr)
	_, err := conn.Write([]byte("one\n"))
	require.NoError(t, err)
	waitForFrames(t, pub, 1)

	require.NoError(t, in.Stop(5*time.Second))

	// Listener is gone after stop
	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestInput_StopIdempotent(t *testing.T) {
	pub := &capturePublisher{}
	in, _ := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	require.NoError(t, in.Stop(time.Second))
	require.NoError(t, in.Stop(time.Second))
}

func TestInput_InitializeValidation(t *testing.T) {
	in := NewInput(InputDeps{
		Config:    InputConfig{Endpoint: "not-an-endpoint", Delimiter: '\n'},
		Publisher: &capturePublisher{},
	})
	assert.Error(t, in.Initialize())

	in = NewInput(InputDeps{Config: DefaultConfig()})
	assert.Error(t, in.Initialize(), "publisher is required")
}

func TestInput_MetaAndHealth(t *testing.T) {
	pub := &capturePublisher{}
	in, addr := startInput(t, InputConfig{Delimiter: 0x07}, pub, nil)

	meta := in.Meta()
	assert.Equal(t, "tcp-input-test", meta.Name)
	assert.Equal(t, "input", meta.Type)
	assert.Contains(t, meta.Description, "0x07")

	health := in.Health()
	assert.True(t, health.Healthy)

	conn := dial(t, addr)
	_, err := conn.Write(append([]byte("ping"), 0x07))
	require.NoError(t, err)
	waitForFrames(t, pub, 1)

	flow := in.DataFlow()
	assert.Greater(t, flow.MessagesPerSecond, 0.0)
	assert.False(t, flow.LastActivity.IsZero())
}

func TestInput_ManyFramesOrderedPerConnection(t *testing.T) {
	pub := &capturePublisher{}
	_, addr := startInput(t, InputConfig{Delimiter: '\n'}, pub, nil)

	conn := dial(t, addr)
	const n = 200
	for i := 0; i < n; i++ {
		_, err := fmt.Fprintf(conn, "frame-%03d\n", i)
		require.NoError(t, err)
	}

	waitForFrames(t, pub, n)
	got := pub.got()
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("frame-%03d", i), got[i])
	}
}
