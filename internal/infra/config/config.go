package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/config.yaml"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageValkey   = "valkey"
	StoragePostgres = "postgres"
)

// Config aggregates runtime configuration used across the console.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http" envPrefix:"HTTP_"`
	Backend BackendConfig `yaml:"backend" envPrefix:"BACKEND_"`
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// HTTPConfig controls the local console API.
type HTTPConfig struct {
	Address      string          `yaml:"address" env:"ADDRESS"`
	ReadTimeout  time.Duration   `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration   `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	RateLimit    RateLimitConfig `yaml:"rateLimit" envPrefix:"RATE_LIMIT_"`
	CORSOrigins  []string        `yaml:"corsOrigins" env:"CORS_ORIGINS" envSeparator:","`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"ENABLED"`
	RequestsPerMinute int  `yaml:"requestsPerMinute" env:"RPM"`
	Burst             int  `yaml:"burst" env:"BURST"`
}

// BackendConfig points at the clinic REST API.
type BackendConfig struct {
	BaseURL string        `yaml:"baseUrl" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// SessionConfig tunes token renewal and expiry.
type SessionConfig struct {
	ExpiryBuffer         time.Duration `yaml:"expiryBuffer" env:"EXPIRY_BUFFER"`
	ExpiredFireDelay     time.Duration `yaml:"expiredFireDelay" env:"EXPIRED_FIRE_DELAY"`
	TickInterval         time.Duration `yaml:"tickInterval" env:"TICK_INTERVAL"`
	ClearOnLogoutFailure bool          `yaml:"clearOnLogoutFailure" env:"CLEAR_ON_LOGOUT_FAILURE"`
	CallTimeout          time.Duration `yaml:"callTimeout" env:"CALL_TIMEOUT"`
}

// StorageConfig selects where the session is persisted.
type StorageConfig struct {
	Driver        string         `yaml:"driver" env:"DRIVER"`
	EncryptionKey string         `yaml:"encryptionKey" env:"ENCRYPTION_KEY"`
	File          FileConfig     `yaml:"file" envPrefix:"FILE_"`
	Valkey        ValkeyConfig   `yaml:"valkey" envPrefix:"VALKEY_"`
	Postgres      PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
}

// FileConfig locates the JSON state file.
type FileConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// ValkeyConfig contains connection information for Valkey storage.
type ValkeyConfig struct {
	Addr   string `yaml:"addr" env:"ADDR"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN       string `yaml:"dsn" env:"DSN"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	MaxConns  int    `yaml:"maxConns" env:"MAX_CONNS"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(defaultConfigPath); err == nil {
		if err := hydrateFromFile(cfg, defaultConfigPath); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      "127.0.0.1:8787",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             30,
			},
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			ExpiryBuffer:     60 * time.Second,
			ExpiredFireDelay: 300 * time.Millisecond,
			TickInterval:     time.Second,
			CallTimeout:      15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageFile,
			File: FileConfig{
				Path: ".clinic-console/session.json",
			},
			Valkey: ValkeyConfig{
				Prefix: "clinic-console",
			},
			Postgres: PostgresConfig{
				Namespace: "default",
				MaxConns:  4,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	base, err := url.Parse(strings.TrimSpace(c.Backend.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return errors.New("backend.baseUrl must be an absolute URL")
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("backend.timeout must be positive")
	}
	if c.Session.ExpiryBuffer < 0 {
		return errors.New("session.expiryBuffer cannot be negative")
	}
	if c.Session.ExpiredFireDelay <= 0 {
		return errors.New("session.expiredFireDelay must be positive")
	}
	if c.Session.TickInterval <= 0 {
		return errors.New("session.tickInterval must be positive")
	}
	if c.Session.CallTimeout <= 0 {
		return errors.New("session.callTimeout must be positive")
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageFile:
		if strings.TrimSpace(c.Storage.File.Path) == "" {
			return errors.New("storage.file.path cannot be empty when the file driver is used")
		}
	case StorageValkey:
		if strings.TrimSpace(c.Storage.Valkey.Addr) == "" {
			return errors.New("storage.valkey.addr cannot be empty when the valkey driver is used")
		}
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn cannot be empty when the postgres driver is used")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, file, valkey, postgres", c.Storage.Driver)
	}
	if key := c.Storage.EncryptionKey; key != "" && len(key) < 16 {
		return errors.New("storage.encryptionKey must be at least 16 bytes")
	}
	return nil
}
