package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Channel   ChannelConfig
	Mounts    MountConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"AXIOM_PORT" default:"8000"`
	Host string `envconfig:"AXIOM_HOST" default:"0.0.0.0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// ChannelConfig holds RPC channel configuration.
type ChannelConfig struct {
	Codec   string        `envconfig:"AXIOM_CODEC" default:"json"`
	Timeout time.Duration `envconfig:"AXIOM_CHANNEL_TIMEOUT" default:"30s"`
}

// MountConfig lists the filesystems served at startup.
type MountConfig struct {
	Names    []string `envconfig:"AXIOM_MOUNTS" default:"home"`
	Manifest string   `envconfig:"AXIOM_MANIFEST"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values envconfig cannot check.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Channel.Codec) {
	case "json", "cbor":
	default:
		return fmt.Errorf("invalid AXIOM_CODEC %q: want json or cbor", c.Channel.Codec)
	}
	if c.Channel.Timeout < 0 {
		return fmt.Errorf("invalid AXIOM_CHANNEL_TIMEOUT %s", c.Channel.Timeout)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Channel: ChannelConfig{
			Codec:   "json",
			Timeout: 30 * time.Second,
		},
		Mounts: MountConfig{
			Names: []string{"home"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
