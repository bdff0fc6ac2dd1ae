// Package config provides configuration loading for reqstream.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then REQSTREAM_* environment variables. See LoadWithFile for details.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete reqstream configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	Backend   BackendConfig   `koanf:"backend"`
	Sync      SyncConfig      `koanf:"sync"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP gateway configuration.
type ServerConfig struct {
	Host              string   `koanf:"http_host"`
	Port              int      `koanf:"http_port"`
	ShutdownTimeout   Duration `koanf:"shutdown_timeout"`
	HeartbeatInterval Duration `koanf:"heartbeat_interval"` // SSE keep-alive comment interval
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RealtimeConfig holds the change-event source configuration.
//
// URL and Key are the two values that gate realtime delivery. When either is
// missing (and no embedded broker is requested) the subscription layer runs
// degraded: every subscribe returns a no-op disposer.
type RealtimeConfig struct {
	URL           string   `koanf:"url"`
	Key           Secret   `koanf:"key"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	Schema        string   `koanf:"schema"`
	ClientName    string   `koanf:"client_name"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`

	// Embedded starts an in-process broker for local development.
	Embedded     bool `koanf:"embedded"`
	EmbeddedPort int  `koanf:"embedded_port"` // -1 picks a random port
}

// Configured reports whether the change-event source can be reached.
func (r RealtimeConfig) Configured() bool {
	if r.Embedded {
		return true
	}
	return r.URL != "" && r.Key.IsSet()
}

// BackendConfig holds the REST backend client configuration.
type BackendConfig struct {
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// SyncConfig controls how often a live sync may re-query the backend.
type SyncConfig struct {
	RefreshInterval Duration `koanf:"refresh_interval"`
	Burst           int      `koanf:"burst"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// OTEL also ships logs through the telemetry logger provider.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "localhost",
			Port:              9191,
			ShutdownTimeout:   Duration(10 * time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
		},
		Realtime: RealtimeConfig{
			SubjectPrefix: "changes",
			Schema:        "public",
			ClientName:    "reqstream",
			MaxReconnects: 5,
			ReconnectWait: Duration(time.Second),
			EmbeddedPort:  -1,
		},
		Backend: BackendConfig{
			BaseURL:    "http://localhost:8000/api",
			Timeout:    Duration(15 * time.Second),
			MaxRetries: 3,
		},
		Sync: SyncConfig{
			RefreshInterval: Duration(500 * time.Millisecond),
			Burst:           1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
			ServiceName: "reqstream",
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout or heartbeat interval is not positive
//   - Subject prefix or schema contains characters NATS subjects cannot carry
//   - Backend base URL is empty or not http(s)
//   - Sync burst is below 1
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	if err := validateSubjectToken("realtime.subject_prefix", c.Realtime.SubjectPrefix); err != nil {
		return err
	}
	if err := validateSubjectToken("realtime.schema", c.Realtime.Schema); err != nil {
		return err
	}
	if c.Realtime.MaxReconnects < -1 {
		return fmt.Errorf("realtime.max_reconnects must be >= -1, got %d", c.Realtime.MaxReconnects)
	}
	if c.Realtime.URL != "" && !strings.Contains(c.Realtime.URL, "://") {
		return fmt.Errorf("realtime.url must include a scheme, got %q", c.Realtime.URL)
	}

	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend.base_url must be http(s), got %q", c.Backend.BaseURL)
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must be >= 0, got %d", c.Backend.MaxRetries)
	}

	if c.Sync.Burst < 1 {
		return fmt.Errorf("sync.burst must be >= 1, got %d", c.Sync.Burst)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}

// validateSubjectToken rejects empty values and characters with meaning in
// NATS subjects.
func validateSubjectToken(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if strings.ContainsAny(value, " \t\r\n*>") {
		return fmt.Errorf("%s contains invalid characters: %q", name, value)
	}
	return nil
}
