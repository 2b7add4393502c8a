package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	Tracker    TrackerConfig
	Sandbox    SandboxConfig
	Credential CredentialConfig
	Redis      RedisConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// TrackerConfig holds upstream tracking client configuration.
type TrackerConfig struct {
	Proxy        string        `envconfig:"TRACK_PROXY"`
	Concurrency  int           `envconfig:"TRACK_CONCURRENCY" default:"16"`
	PollInterval time.Duration `envconfig:"TRACK_POLL_INTERVAL" default:"2s"`
	MaxPolls     int           `envconfig:"TRACK_MAX_POLLS" default:"50"`
	Timeout      time.Duration `envconfig:"TRACK_TIMEOUT" default:"30s"`
	Strict       bool          `envconfig:"TRACK_STRICT_CARRIER" default:"false"`
}

// SandboxConfig holds signing sandbox configuration.
type SandboxConfig struct {
	BundlePath  string        `envconfig:"SIGN_BUNDLE_PATH"`
	EntryModule string        `envconfig:"SIGN_ENTRY_MODULE" default:"4279"`
	Timeout     time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"10s"`
	Prewarm     int           `envconfig:"SANDBOX_PREWARM" default:"1"`
}

// CredentialConfig holds credential cache configuration.
type CredentialConfig struct {
	TTL time.Duration `envconfig:"CREDENTIAL_TTL" default:"1h"`
}

// RedisConfig holds the optional shared credential store. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Prefix   string `envconfig:"REDIS_PREFIX" default:"track17:"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Tracker: TrackerConfig{
			Concurrency:  16,
			PollInterval: 2 * time.Second,
			MaxPolls:     50,
			Timeout:      30 * time.Second,
		},
		Sandbox: SandboxConfig{
			EntryModule: "4279",
			Timeout:     10 * time.Second,
			Prewarm:     1,
		},
		Credential: CredentialConfig{
			TTL: time.Hour,
		},
		Redis: RedisConfig{
			Prefix: "track17:",
		},
	}
}
