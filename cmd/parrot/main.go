// Package main implements the entry point for the parrot bridge.
// Parrot listens on a TCP socket, splits each connection's byte stream
// into delimiter-separated frames, and republishes the frames to NATS.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/parrot/config"
	"github.com/c360/parrot/health"
	"github.com/c360/parrot/input/tcp"
	"github.com/c360/parrot/metric"
	"github.com/c360/parrot/natsclient"
	"github.com/c360/parrot/pkg/retry"
	"github.com/c360/parrot/publish"
	"github.com/c360/parrot/validate"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "parrot"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Ops.LogLevel, cfg.Ops.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting parrot (TCP to NATS framing bridge)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	if cliCfg.WriteConfig != "" {
		if err := cfg.SaveToFile(cliCfg.WriteConfig); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		slog.Info("Wrote effective configuration", "path", cliCfg.WriteConfig)
		return nil
	}

	ctx := context.Background()

	metricsRegistry := metric.NewMetricsRegistry()

	natsClient, err := connectToNATS(ctx, cfg, metricsRegistry.CoreMetrics())
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(context.Background()) }()

	publisher, err := setupPublisher(ctx, cfg, natsClient, logger, metricsRegistry)
	if err != nil {
		return err
	}

	validator, err := buildValidator(cfg)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	input, err := setupInput(ctx, cfg, publisher, validator, logger, metricsRegistry)
	if err != nil {
		return err
	}

	opsServer := startOpsServer(cfg, metricsRegistry, input, publisher)

	return runWithSignalHandling(ctx, cliCfg.ShutdownTimeout, input, publisher, natsClient, opsServer)
}

// loadConfig builds the layered configuration from the optional file and
// PARROT_* environment variables, with CLI log flags taking precedence
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()

	var cfg *config.Config
	var err error
	if cliCfg.ConfigPath != "" {
		cfg, err = loader.LoadFile(cliCfg.ConfigPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if cliCfg.LogLevel != "" {
		cfg.Ops.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Ops.LogFormat = cliCfg.LogFormat
	}

	return cfg, nil
}

// connectToNATS creates the broker client and waits for it to be ready,
// retrying with backoff when the broker is slow to come up. A broker that
// stays unreachable past the retry budget is fatal.
func connectToNATS(ctx context.Context, cfg *config.Config, recorder natsclient.MetricsRecorder) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.PubSub.MaxReconnects),
		natsclient.WithReconnectWait(cfg.PubSub.ReconnectWait),
		natsclient.WithDrainTimeout(cfg.PubSub.DrainTimeout),
		natsclient.WithMetricsRecorder(recorder),
	}
	if cfg.PubSub.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.PubSub.Username, cfg.PubSub.Password))
	}
	if cfg.PubSub.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.PubSub.Token))
	}
	if cfg.PubSub.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.PubSub.TLS.CertFile, cfg.PubSub.TLS.KeyFile, cfg.PubSub.TLS.CAFile))
	}

	natsClient, err := natsclient.NewClient(cfg.PubSub.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.PubSub.URL)
	err = retry.Do(ctx, retry.Persistent(), func() error {
		if connErr := natsClient.Connect(ctx); connErr != nil {
			slog.Warn("NATS connect attempt failed", "error", connErr)
			return connErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		_ = natsClient.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, nil
}

// setupPublisher creates and starts the ordered frame publisher
func setupPublisher(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*publish.NATSPublisher, error) {
	publisher, err := publish.NewNATSPublisher(
		publish.Config{
			Subject:   cfg.PubSub.Subject,
			QueueSize: cfg.PubSub.QueueSize,
		},
		publish.Deps{
			Client:   natsClient,
			Logger:   logger,
			Registry: registry,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	if err := publisher.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}
	if err := publisher.Start(ctx); err != nil {
		return nil, fmt.Errorf("start publisher: %w", err)
	}

	slog.Info("Publisher started", "subject", cfg.PubSub.Subject, "queue_size", cfg.PubSub.QueueSize)
	return publisher, nil
}

// buildValidator selects the frame validator from configuration, reading
// the schema document when mode is "schema"
func buildValidator(cfg *config.Config) (validate.Validator, error) {
	var schemaJSON []byte
	if cfg.Validation.Mode == "schema" {
		data, err := os.ReadFile(cfg.Validation.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("read schema file %s: %w", cfg.Validation.SchemaFile, err)
		}
		schemaJSON = data
	}

	return validate.ForMode(cfg.Validation.Mode, schemaJSON)
}

// setupInput creates and starts the TCP listener. A port that cannot be
// bound is fatal.
func setupInput(
	ctx context.Context,
	cfg *config.Config,
	publisher publish.Publisher,
	validator validate.Validator,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*tcp.Input, error) {
	input := tcp.NewInput(tcp.InputDeps{
		Name: "tcp-input",
		Config: tcp.InputConfig{
			Endpoint:      cfg.TCP.Endpoint,
			Delimiter:     byte(cfg.TCP.Delimiter),
			MaxFrameBytes: cfg.TCP.MaxFrameBytes,
		},
		Publisher:       publisher,
		Validator:       validator,
		MetricsRegistry: registry,
		Logger:          logger,
	})

	if err := input.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize TCP input: %w", err)
	}
	if err := input.Start(ctx); err != nil {
		return nil, fmt.Errorf("start TCP input: %w", err)
	}

	slog.Info("TCP input started",
		"endpoint", cfg.TCP.Endpoint,
		"delimiter", cfg.TCP.Delimiter,
		"max_frame_bytes", cfg.TCP.MaxFrameBytes,
		"validation_mode", validator.Name())
	return input, nil
}

// startOpsServer serves /metrics and /healthz when enabled. Serve errors
// are logged rather than fatal so the data path keeps running.
func startOpsServer(
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	input *tcp.Input,
	publisher *publish.NATSPublisher,
) *metric.Server {
	if !cfg.Ops.Enabled {
		return nil
	}

	server := metric.NewServer(cfg.Ops.Port, cfg.Ops.MetricsPath, registry, healthHandler(input, publisher))

	go func() {
		slog.Info("Ops server listening", "address", server.Address(), "path", cfg.Ops.MetricsPath)
		if err := server.Start(); err != nil {
			slog.Error("Ops server failed", "error", err)
		}
	}()

	return server
}

// healthHandler aggregates component health into one HTTP response
func healthHandler(input *tcp.Input, publisher *publish.NATSPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := health.Aggregate(
			health.FromComponentHealth("tcp-input", input.Health()),
			health.FromComponentHealth("publisher", publisher.Health()),
		)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// runWithSignalHandling blocks until SIGINT or SIGTERM, then shuts the
// pipeline down in reverse data-flow order
func runWithSignalHandling(
	ctx context.Context,
	shutdownTimeout time.Duration,
	input *tcp.Input,
	publisher *publish.NATSPublisher,
	natsClient *natsclient.Client,
	opsServer *metric.Server,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Parrot started successfully (bridging TCP frames to NATS)")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	return shutdown(shutdownTimeout, input, publisher, natsClient, opsServer)
}

// shutdown stops accepting first, drains queued frames, then closes the
// broker connection and the ops endpoint
func shutdown(
	timeout time.Duration,
	input *tcp.Input,
	publisher *publish.NATSPublisher,
	natsClient *natsclient.Client,
	opsServer *metric.Server,
) error {
	deadline := time.Now().Add(timeout)

	if err := input.Stop(time.Until(deadline)); err != nil {
		slog.Error("Error stopping TCP input", "error", err)
	}

	if err := publisher.Stop(time.Until(deadline)); err != nil {
		slog.Error("Error stopping publisher", "error", err)
	}

	closeCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := natsClient.Close(closeCtx); err != nil {
		slog.Error("Error closing NATS client", "error", err)
	}

	if opsServer != nil {
		if err := opsServer.Stop(); err != nil {
			slog.Error("Error stopping ops server", "error", err)
		}
	}

	slog.Info("Parrot shutdown complete", "frames_published", publisher.Published())
	return nil
}
