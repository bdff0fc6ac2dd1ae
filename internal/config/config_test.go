package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "changes", cfg.Realtime.SubjectPrefix)
	assert.Equal(t, "public", cfg.Realtime.Schema)
	assert.False(t, cfg.Realtime.Configured(), "realtime must be unconfigured by default")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"zero heartbeat", func(c *Config) { c.Server.HeartbeatInterval = 0 }, "heartbeat interval"},
		{"empty prefix", func(c *Config) { c.Realtime.SubjectPrefix = "" }, "subject_prefix cannot be empty"},
		{"wildcard prefix", func(c *Config) { c.Realtime.SubjectPrefix = "changes.>" }, "invalid characters"},
		{"schema with space", func(c *Config) { c.Realtime.Schema = "my schema" }, "invalid characters"},
		{"url without scheme", func(c *Config) { c.Realtime.URL = "localhost:4222" }, "must include a scheme"},
		{"bad reconnects", func(c *Config) { c.Realtime.MaxReconnects = -2 }, "max_reconnects"},
		{"empty backend", func(c *Config) { c.Backend.BaseURL = "" }, "base_url is required"},
		{"ftp backend", func(c *Config) { c.Backend.BaseURL = "ftp://x" }, "must be http(s)"},
		{"negative retries", func(c *Config) { c.Backend.MaxRetries = -1 }, "max_retries"},
		{"zero burst", func(c *Config) { c.Sync.Burst = 0 }, "sync.burst"},
		{"telemetry rate", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 2
		}, "sample_rate"},
		{"telemetry endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRealtimeConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  RealtimeConfig
		want bool
	}{
		{"nothing set", RealtimeConfig{}, false},
		{"url only", RealtimeConfig{URL: "nats://localhost:4222"}, false},
		{"key only", RealtimeConfig{Key: "k"}, false},
		{"url and key", RealtimeConfig{URL: "nats://localhost:4222", Key: "k"}, true},
		{"embedded", RealtimeConfig{Embedded: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Configured())
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 9191}
	assert.Equal(t, "0.0.0.0:9191", s.Addr())
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret-key")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret-key", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
