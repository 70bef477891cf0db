package metric

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/parrot/errors"
)

// Server represents the ops HTTP server exposing metrics and health
type Server struct {
	port     int
	path     string
	server   *http.Server
	registry *MetricsRegistry
	healthFn http.HandlerFunc
	mu       sync.Mutex // protects server field
}

// NewServer creates a new ops server with the provided registry. healthFn
// serves /healthz; a nil healthFn answers with a bare 200.
func NewServer(port int, path string, registry *MetricsRegistry, healthFn http.HandlerFunc) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		healthFn: healthFn,
	}
}

// Start starts the ops HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "start server")
	}

	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "check metrics registry")
	}

	mux := http.NewServeMux()

	handler := promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
	mux.Handle(s.path, handler)

	healthFn := s.healthFn
	if healthFn == nil {
		healthFn = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}
	}
	mux.HandleFunc("/healthz", healthFn)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>Parrot Ops</title></head>
<body>
<h1>Parrot Ops Server</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>`, s.path)
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}
	srv := s.server
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve on port %d", s.port))
	}

	return nil
}

// Stop stops the ops server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		err := s.server.Close()
		s.server = nil // reset server field to allow restart
		if err != nil {
			return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
		}
	}
	return nil
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
