// Package config loads dcpd configuration from YAML.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/security"
	"github.com/machinefabric/dcp-go/stream"
)

// Config is the complete daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Limits   frame.Limits   `yaml:"limits"`
	Security SecurityConfig `yaml:"security"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener and connection timing settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	HandshakeTimeout time.Duration `yaml:"-"`
	ReclaimInterval  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout"`
	ReclaimIntervalRaw  string `yaml:"reclaim_interval"`
}

// SecurityConfig controls invocation verification.
type SecurityConfig struct {
	// RequireSignatures rejects unsigned invocations. When false no
	// verifier is installed.
	RequireSignatures bool   `yaml:"require_signatures"`
	AuthorizedKeys    string `yaml:"authorized_keys"`
	NonceCapacity     int    `yaml:"nonce_capacity"`

	NonceWindow    time.Duration `yaml:"-"`
	NonceWindowRaw string        `yaml:"nonce_window"`
}

// StreamConfig sizes each connection's stream ring.
type StreamConfig struct {
	Capacity int `yaml:"capacity"`
	MaxBytes int `yaml:"max_bytes"`

	IdleTimeout    time.Duration `yaml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:          "127.0.0.1:7420",
			HandshakeTimeout:    10 * time.Second,
			ReclaimInterval:     5 * time.Second,
			HandshakeTimeoutRaw: "10s",
			ReclaimIntervalRaw:  "5s",
		},
		Limits: frame.DefaultLimits(),
		Security: SecurityConfig{
			RequireSignatures: true,
			NonceCapacity:     security.DefaultNonceCapacity,
			NonceWindow:       security.DefaultNonceWindow,
			NonceWindowRaw:    security.DefaultNonceWindow.String(),
		},
		Stream: StreamConfig{
			Capacity:       stream.DefaultCapacity,
			MaxBytes:       stream.DefaultMaxBytes,
			IdleTimeout:    stream.DefaultIdleTimeout,
			IdleTimeoutRaw: stream.DefaultIdleTimeout.String(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a configuration file over Default().
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with an
// empty string when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate returns the first invalid setting found.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("server.handshake_timeout must be positive")
	}
	if c.Server.ReclaimInterval <= 0 {
		return fmt.Errorf("server.reclaim_interval must be positive")
	}

	if c.Limits.MaxFrame < 0 || c.Limits.MaxChunk < 0 || c.Limits.MaxStreamBuffer < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Limits.MaxFrame > frame.MaxFrameHardLimit {
		return fmt.Errorf("limits.max_frame %d exceeds %d", c.Limits.MaxFrame, frame.MaxFrameHardLimit)
	}
	if c.Limits.MaxChunk > 0 && c.Limits.MaxFrame > 0 && c.Limits.MaxChunk >= c.Limits.MaxFrame {
		return fmt.Errorf("limits.max_chunk must be smaller than limits.max_frame")
	}

	if c.Security.RequireSignatures && c.Security.AuthorizedKeys == "" {
		return fmt.Errorf("security.authorized_keys is required when signatures are required")
	}
	if c.Security.NonceWindow <= 0 {
		return fmt.Errorf("security.nonce_window must be positive")
	}
	if c.Security.NonceCapacity <= 0 {
		return fmt.Errorf("security.nonce_capacity must be positive")
	}

	if c.Stream.Capacity <= 0 || c.Stream.MaxBytes <= 0 {
		return fmt.Errorf("stream.capacity and stream.max_bytes must be positive")
	}
	if c.Stream.IdleTimeout <= 0 {
		return fmt.Errorf("stream.idle_timeout must be positive")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"handshake_timeout", cfg.Server.HandshakeTimeoutRaw, &cfg.Server.HandshakeTimeout},
		{"reclaim_interval", cfg.Server.ReclaimIntervalRaw, &cfg.Server.ReclaimInterval},
		{"nonce_window", cfg.Security.NonceWindowRaw, &cfg.Security.NonceWindow},
		{"idle_timeout", cfg.Stream.IdleTimeoutRaw, &cfg.Stream.IdleTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
