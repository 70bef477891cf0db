package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	WriteConfig     string
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback. Empty log flags
	// defer to the loaded configuration.
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("PARROT_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: PARROT_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("PARROT_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: PARROT_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		"",
		"Log level: debug, info, warn, error (env: PARROT_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		"",
		"Log format: json, text (env: PARROT_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("PARROT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: PARROT_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	flag.StringVar(&cfg.WriteConfig, "write-config", "",
		"Write the effective merged configuration to the given path and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	// Validate config file exists when one was named
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	// Validate log level
	validLevels := []string{"", "debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	// Validate log format
	validFormats := []string{"", "json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - TCP to NATS framing bridge

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with defaults (listen 127.0.0.1:1974, publish to "parrot")
  %s

  # Run with custom config
  %s --config=/etc/parrot/config.json

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export PARROT_TCP_ENDPOINT=0.0.0.0:1974
  export PARROT_PUBSUB_URL=nats://broker:4222
  %s

  # Validate configuration only
  %s --config=config.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
