package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all host configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Host    HostConfig    `toml:"host"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Relay   RelayConfig   `toml:"relay"`
	Gateway GatewayConfig `toml:"gateway"`
	Logging LogConfig     `toml:"logging"`
}

// HostConfig parameterizes session lifecycle.
type HostConfig struct {
	BaseURL           string        `envconfig:"UPSTREAM_BASE_URL" toml:"base_url"`
	AuthRequired      bool          `envconfig:"AUTH_REQUIRED" toml:"auth_required"`
	HandshakeDeadline time.Duration `envconfig:"HANDSHAKE_DEADLINE" toml:"handshake_deadline"`
	ContainerWidth    int           `envconfig:"CONTAINER_WIDTH" toml:"container_width"`
	ContainerHeight   int           `envconfig:"CONTAINER_HEIGHT" toml:"container_height"`
}

// ServerConfig holds the shell-facing HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" toml:"port"`
	Host string `envconfig:"HOST" toml:"host"`
}

// SandboxConfig bounds the isolated execution context.
type SandboxConfig struct {
	BootTimeout    time.Duration `envconfig:"SANDBOX_BOOT_TIMEOUT" toml:"boot_timeout"`
	HandlerTimeout time.Duration `envconfig:"SANDBOX_HANDLER_TIMEOUT" toml:"handler_timeout"`
	MaxCallStack   int           `envconfig:"SANDBOX_MAX_CALL_STACK" toml:"max_call_stack"`
}

// RelayConfig bounds outstanding network tickets.
type RelayConfig struct {
	RequestTimeout time.Duration `envconfig:"RELAY_REQUEST_TIMEOUT" toml:"request_timeout"`
	MaxBodyBytes   int64         `envconfig:"RELAY_MAX_BODY_BYTES" toml:"max_body_bytes"`
}

// GatewayConfig configures the authenticated upstream client.
type GatewayConfig struct {
	Timeout           time.Duration `envconfig:"GATEWAY_TIMEOUT" toml:"timeout"`
	RetryMax          int           `envconfig:"GATEWAY_RETRY_MAX" toml:"retry_max"`
	RequestsPerSecond float64       `envconfig:"GATEWAY_RPS" toml:"requests_per_second"`
	Burst             int           `envconfig:"GATEWAY_BURST" toml:"burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" toml:"development"`
}

// Load loads configuration from environment variables on top of defaults.
// Unset variables leave the default in place.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a TOML file, then applies environment
// overrides on top. Environment always wins so deployments can pin single
// values without editing the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Host: HostConfig{
			BaseURL:           "http://localhost:8000",
			AuthRequired:      true,
			HandshakeDeadline: 15 * time.Second,
			ContainerWidth:    1024,
			ContainerHeight:   768,
		},
		Sandbox: SandboxConfig{
			BootTimeout:    10 * time.Second,
			HandlerTimeout: 5 * time.Second,
			MaxCallStack:   1024,
		},
		Relay: RelayConfig{
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   10 << 20,
		},
		Gateway: GatewayConfig{
			Timeout:           30 * time.Second,
			RetryMax:          3,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
