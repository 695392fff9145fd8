// Package config loads and validates service configuration from KRAPI_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all environment-based configuration for the auth service.
type Config struct {
	// HTTP server
	Addr            string        `env:"KRAPI_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"KRAPI_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"KRAPI_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"KRAPI_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"KRAPI_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"KRAPI_MAX_BODY_BYTES" envDefault:"1048576"`

	// PostgreSQL. Empty DSN runs the service on the in-memory store
	// (development only; state is lost on restart).
	PostgresDSN string `env:"KRAPI_PG_DSN"`

	// Token issuance
	AuthSecret string        `env:"KRAPI_AUTH_SECRET"`
	Issuer     string        `env:"KRAPI_ISSUER" envDefault:"krapi"`
	SessionTTL time.Duration `env:"KRAPI_SESSION_TTL" envDefault:"5m"`
	BearerTTL  time.Duration `env:"KRAPI_BEARER_TTL" envDefault:"1h"`

	// Per-IP throttle applied before authentication.
	RatePerSec int `env:"KRAPI_RATE_PER_SEC" envDefault:"25"`
	RateBurst  int `env:"KRAPI_RATE_BURST" envDefault:"50"`
}

// Load parses and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants that env parsing cannot express.
func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return errors.New("KRAPI_AUTH_SECRET is required")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if c.BearerTTL <= c.SessionTTL {
		return errors.New("bearer TTL must exceed session TTL")
	}
	if c.RatePerSec <= 0 || c.RateBurst <= 0 {
		return errors.New("rate limits must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}
