package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a JSON layer into the working directory so the path
// validation accepts it
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(".", name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "127.0.0.1:1974", cfg.TCP.Endpoint)
	assert.Equal(t, 0x07, cfg.TCP.Delimiter)
	assert.Equal(t, 0, cfg.TCP.MaxFrameBytes)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.PubSub.URL)
	assert.Equal(t, "parrot", cfg.PubSub.Subject)
	assert.Equal(t, 2*time.Second, cfg.PubSub.ReconnectWait)
	assert.Equal(t, "none", cfg.Validation.Mode)
	assert.Equal(t, 9090, cfg.Ops.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "parrot_test_config.json", `{
		"tcp": {"endpoint": "0.0.0.0:2000", "delimiter": 10},
		"pubsub": {"subject": "telemetry.raw", "reconnect_wait": "500ms"}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:2000", cfg.TCP.Endpoint)
	assert.Equal(t, 10, cfg.TCP.Delimiter)
	assert.Equal(t, "telemetry.raw", cfg.PubSub.Subject)
	assert.Equal(t, 500*time.Millisecond, cfg.PubSub.ReconnectWait)

	// Untouched fields keep their defaults
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.PubSub.URL)
	assert.Equal(t, 1024, cfg.PubSub.QueueSize)
}

func TestLoader_LaterLayerWins(t *testing.T) {
	base := writeConfig(t, "parrot_test_base.json", `{
		"tcp": {"endpoint": "0.0.0.0:2000"},
		"pubsub": {"subject": "base"}
	}`)
	local := writeConfig(t, "parrot_test_local.json", `{
		"pubsub": {"subject": "local"}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(local)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.PubSub.Subject)
	assert.Equal(t, "0.0.0.0:2000", cfg.TCP.Endpoint, "keys absent from later layers survive")
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("PARROT_TCP_ENDPOINT", "127.0.0.1:3000")
	t.Setenv("PARROT_TCP_DELIMITER", "0")
	t.Setenv("PARROT_PUBSUB_SUBJECT", "env.subject")
	t.Setenv("PARROT_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3000", cfg.TCP.Endpoint)
	assert.Equal(t, 0, cfg.TCP.Delimiter)
	assert.Equal(t, "env.subject", cfg.PubSub.Subject)
	assert.Equal(t, "debug", cfg.Ops.LogLevel)
}

func TestLoader_EnvOverridesBeatFiles(t *testing.T) {
	path := writeConfig(t, "parrot_test_envbeat.json", `{"pubsub": {"subject": "from.file"}}`)
	t.Setenv("PARROT_PUBSUB_SUBJECT", "from.env")

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "from.env", cfg.PubSub.Subject)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("PARROT_TCP_DELIMITER", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader()
	loader.AddLayer("parrot_test_does_not_exist.json")

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoader_RejectsNonJSONPath(t *testing.T) {
	loader := NewLoader()
	loader.AddLayer("config.yaml")

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestConfig_SaveToFileRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.TCP.Endpoint = "0.0.0.0:9000"
	cfg.TCP.Delimiter = 10
	cfg.PubSub.Subject = "telemetry.frames"
	cfg.PubSub.ReconnectWait = 750 * time.Millisecond

	path := filepath.Join(".", "parrot_test_saved.json")
	require.NoError(t, cfg.SaveToFile(path))
	t.Cleanup(func() { _ = os.Remove(path) })

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", loaded.TCP.Endpoint)
	assert.Equal(t, 10, loaded.TCP.Delimiter)
	assert.Equal(t, "telemetry.frames", loaded.PubSub.Subject)
	assert.Equal(t, 750*time.Millisecond, loaded.PubSub.ReconnectWait)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.TCP.Endpoint = "" }},
		{"endpoint without port", func(c *Config) { c.TCP.Endpoint = "localhost" }},
		{"delimiter too large", func(c *Config) { c.TCP.Delimiter = 256 }},
		{"negative delimiter", func(c *Config) { c.TCP.Delimiter = -1 }},
		{"negative frame cap", func(c *Config) { c.TCP.MaxFrameBytes = -1 }},
		{"empty url", func(c *Config) { c.PubSub.URL = "" }},
		{"bad url scheme", func(c *Config) { c.PubSub.URL = "tcp://localhost:4222" }},
		{"empty subject", func(c *Config) { c.PubSub.Subject = "" }},
		{"wildcard subject", func(c *Config) { c.PubSub.Subject = "parrot.*" }},
		{"subject with spaces", func(c *Config) { c.PubSub.Subject = "has space" }},
		{"schema mode without file", func(c *Config) { c.Validation.Mode = "schema" }},
		{"unknown validation mode", func(c *Config) { c.Validation.Mode = "strict" }},
		{"bad log level", func(c *Config) { c.Ops.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.Ops.LogFormat = "xml" }},
		{"ops port out of range", func(c *Config) { c.Ops.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidSubjects(t *testing.T) {
	for _, subject := range []string{"parrot", "telemetry.raw", "a.b.c", "with-dash", "with_underscore"} {
		cfg := Defaults()
		cfg.PubSub.Subject = subject
		assert.NoError(t, cfg.Validate(), "subject %q should be valid", subject)
	}
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := Defaults()
	clone := cfg.Clone()

	clone.TCP.Endpoint = "changed:1"
	assert.Equal(t, "127.0.0.1:1974", cfg.TCP.Endpoint)
}

func TestConfig_StringMasksCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.PubSub.Password = "hunter2"
	cfg.PubSub.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "***")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": {"b": [1, 2, 3]}}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": {"b":`)), "unclosed brackets")
	assert.Error(t, validateJSONDepth([]byte(`}`)), "unbalanced brackets")

	deep := ""
	for i := 0; i < maxJSONDepth+1; i++ {
		deep += "["
	}
	for i := 0; i < maxJSONDepth+1; i++ {
		deep += "]"
	}
	assert.Error(t, validateJSONDepth([]byte(deep)))
}
