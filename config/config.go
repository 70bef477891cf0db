package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Config represents the complete bridge configuration
type Config struct {
	TCP        TCPConfig        `json:"tcp"`
	PubSub     PubSubConfig     `json:"pubsub"`
	Validation ValidationConfig `json:"validation"`
	Ops        OpsConfig        `json:"ops"`
}

// TCPConfig defines the listening socket and framing settings
type TCPConfig struct {
	// Endpoint is the host:port the bridge listens on
	Endpoint string `json:"endpoint"`
	// Delimiter is the sentinel byte separating frames (0-255)
	Delimiter int `json:"delimiter"`
	// MaxFrameBytes caps frame length; 0 disables the cap
	MaxFrameBytes int `json:"max_frame_bytes"`
}

// PubSubConfig defines NATS connection and publishing settings
type PubSubConfig struct {
	URL           string        `json:"url"`
	Subject       string        `json:"subject"`
	QueueSize     int           `json:"queue_size"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	DrainTimeout  time.Duration `json:"drain_timeout"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           TLSConfig     `json:"tls,omitempty"`
}

// TLSConfig for secure NATS connections
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// ValidationConfig selects how frames are checked before publishing
type ValidationConfig struct {
	// Mode is "none", "json", or "schema"
	Mode string `json:"mode"`
	// SchemaFile is the path to a JSON Schema document, required for mode "schema"
	SchemaFile string `json:"schema_file,omitempty"`
}

// OpsConfig defines the operational HTTP endpoint and logging
type OpsConfig struct {
	Enabled     bool   `json:"enabled"`
	Port        int    `json:"port"`
	MetricsPath string `json:"metrics_path"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.TCP.Endpoint == "" {
		return errors.New("tcp.endpoint is required")
	}
	if _, _, err := net.SplitHostPort(c.TCP.Endpoint); err != nil {
		return fmt.Errorf("tcp.endpoint %q is not host:port: %w", c.TCP.Endpoint, err)
	}
	if c.TCP.Delimiter < 0 || c.TCP.Delimiter > 255 {
		return fmt.Errorf("tcp.delimiter %d is not a byte value (0-255)", c.TCP.Delimiter)
	}
	if c.TCP.MaxFrameBytes < 0 {
		return errors.New("tcp.max_frame_bytes cannot be negative")
	}

	if c.PubSub.URL == "" {
		return errors.New("pubsub.url is required")
	}
	if !strings.HasPrefix(c.PubSub.URL, "nats://") && !strings.HasPrefix(c.PubSub.URL, "tls://") {
		return fmt.Errorf("pubsub.url %q must use nats:// or tls://", c.PubSub.URL)
	}
	if c.PubSub.Subject == "" {
		return errors.New("pubsub.subject is required")
	}
	if !isValidNATSSubject(c.PubSub.Subject) {
		return fmt.Errorf("pubsub.subject %q is not a valid NATS subject", c.PubSub.Subject)
	}
	if c.PubSub.QueueSize < 0 {
		return errors.New("pubsub.queue_size cannot be negative")
	}

	switch c.Validation.Mode {
	case "", "none", "json":
	case "schema":
		if c.Validation.SchemaFile == "" {
			return errors.New("validation.schema_file is required for mode \"schema\"")
		}
	default:
		return fmt.Errorf("validation.mode %q is not one of none, json, schema", c.Validation.Mode)
	}

	if c.Ops.Port < 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops.port %d out of range", c.Ops.Port)
	}
	switch c.Ops.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("ops.log_level %q is not one of debug, info, warn, error", c.Ops.LogLevel)
	}
	switch c.Ops.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("ops.log_format %q is not one of json, text", c.Ops.LogFormat)
	}

	return nil
}

// isValidNATSSubject checks a subject for NATS-safe tokens. Wildcards are
// rejected: the bridge publishes to a concrete subject.
func isValidNATSSubject(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	clone := c.Clone()
	if clone.PubSub.Password != "" {
		clone.PubSub.Password = "***"
	}
	if clone.PubSub.Token != "" {
		clone.PubSub.Token = "***"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "PARROT",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers. Later layers override
// earlier ones, and environment variables override every file.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		TCP: TCPConfig{
			Endpoint:  "127.0.0.1:1974",
			Delimiter: 0x07,
		},
		PubSub: PubSubConfig{
			URL:           "nats://127.0.0.1:4222",
			Subject:       "parrot",
			QueueSize:     1024,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			DrainTimeout:  5 * time.Second,
		},
		Validation: ValidationConfig{
			Mode: "none",
		},
		Ops: OpsConfig{
			Enabled:     true,
			Port:        9090,
			MetricsPath: "/metrics",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	// Use secure file reading with validation
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	// Validate JSON depth to prevent DoS
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	// Convert duration strings
	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) {
	if pubsub, ok := data["pubsub"].(map[string]any); ok {
		for _, field := range []string{"reconnect_wait", "drain_timeout"} {
			if raw, ok := pubsub[field].(string); ok {
				if d, err := time.ParseDuration(raw); err == nil {
					pubsub[field] = d.Nanoseconds()
				}
			}
		}
	}
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		// If both base and override have maps at this key, merge them
		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"TCP_ENDPOINT", func(v string) error {
			cfg.TCP.Endpoint = v
			return nil
		}},
		{"TCP_DELIMITER", func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid delimiter: %w", err)
			}
			cfg.TCP.Delimiter = n
			return nil
		}},
		{"TCP_MAX_FRAME_BYTES", func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid max frame bytes: %w", err)
			}
			cfg.TCP.MaxFrameBytes = n
			return nil
		}},
		{"PUBSUB_URL", func(v string) error {
			cfg.PubSub.URL = v
			return nil
		}},
		{"PUBSUB_SUBJECT", func(v string) error {
			cfg.PubSub.Subject = v
			return nil
		}},
		{"PUBSUB_USERNAME", func(v string) error {
			cfg.PubSub.Username = v
			return nil
		}},
		{"PUBSUB_PASSWORD", func(v string) error {
			cfg.PubSub.Password = v
			return nil
		}},
		{"PUBSUB_TOKEN", func(v string) error {
			cfg.PubSub.Token = v
			return nil
		}},
		{"VALIDATION_MODE", func(v string) error {
			cfg.Validation.Mode = v
			return nil
		}},
		{"VALIDATION_SCHEMA_FILE", func(v string) error {
			cfg.Validation.SchemaFile = v
			return nil
		}},
		{"OPS_PORT", func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid ops port: %w", err)
			}
			cfg.Ops.Port = n
			return nil
		}},
		{"LOG_LEVEL", func(v string) error {
			cfg.Ops.LogLevel = v
			return nil
		}},
		{"LOG_FORMAT", func(v string) error {
			cfg.Ops.LogFormat = v
			return nil
		}},
	}

	for _, o := range overrides {
		key := l.envPrefix + "_" + o.key
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if err := o.apply(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return safeWriteFile(path, data)
}
