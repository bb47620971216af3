package multiplayer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/session"
	"gopkg.in/yaml.v3"
)

// Config holds multiplayer client settings. Values come from DefaultConfig,
// then an optional YAML file, then environment variables.
type Config struct {
	ServerURL            string        `yaml:"server_url" env:"MULTIPLAYER_SERVER_URL"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"MULTIPLAYER_MAX_RECONNECT_ATTEMPTS"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" env:"MULTIPLAYER_RECONNECT_BASE_DELAY"`
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier" env:"MULTIPLAYER_RECONNECT_MULTIPLIER"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay" env:"MULTIPLAYER_RECONNECT_MAX_DELAY"`
	AuthRefreshURL       string        `yaml:"auth_refresh_url" env:"MULTIPLAYER_AUTH_REFRESH_URL"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" env:"MULTIPLAYER_HANDSHAKE_TIMEOUT"`
	WriteTimeout         time.Duration `yaml:"write_timeout" env:"MULTIPLAYER_WRITE_TIMEOUT"`
	MaxMessageSize       int64         `yaml:"max_message_size" env:"MULTIPLAYER_MAX_MESSAGE_SIZE"`
	LogLevel             string        `yaml:"log_level" env:"LOG_LEVEL"`
	RelayNATSURL         string        `yaml:"relay_nats_url" env:"MULTIPLAYER_RELAY_NATS_URL"`
}

// DefaultConfig returns defaults for a local development server.
func DefaultConfig() Config {
	return Config{
		ServerURL:            "ws://localhost:8081",
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMultiplier:  1.5,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxMessageSize:       64 * 1024,
		LogLevel:             "info",
	}
}

// LoadConfig reads path (optional, may be empty) over the defaults and applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server_url is required")
	}
	if _, err := session.BuildTarget(c.ServerURL, "room", "token"); err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must be non-negative, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect_base_delay must be positive, got %s", c.ReconnectBaseDelay)
	}
	if c.ReconnectMultiplier < 1 {
		return fmt.Errorf("reconnect_multiplier must be at least 1, got %v", c.ReconnectMultiplier)
	}
	if c.ReconnectMaxDelay < 0 {
		return fmt.Errorf("reconnect_max_delay must be non-negative, got %s", c.ReconnectMaxDelay)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size must be non-negative, got %d", c.MaxMessageSize)
	}
	return nil
}

// TransportOptions converts the config into session options.
func (c Config) TransportOptions() session.Options {
	return session.Options{
		ServerURL:            c.ServerURL,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Backoff: session.BackoffConfig{
			BaseDelay:  c.ReconnectBaseDelay,
			Multiplier: c.ReconnectMultiplier,
			MaxDelay:   c.ReconnectMaxDelay,
		},
		WriteTimeout: c.WriteTimeout,
	}
}
