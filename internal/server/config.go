// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration. All fields are environment-supplied
// and have no effect on core behavior beyond the bounds they set.
type Config struct {
	Port            string        `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"100"`
	MaxMessageSize  int64         `envconfig:"MAX_MESSAGE_SIZE" default:"512"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RateLimitRefill time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// LoadConfig reads the configuration from the environment, falling back to
// defaults for unset variables and sanitizing invalid values.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.sanitize()
	return cfg, nil
}

// DefaultConfig returns the configuration used when nothing is set in the
// environment.
func DefaultConfig() Config {
	cfg := Config{
		Port:            ":8080",
		AllowedOrigins:  []string{"http://localhost:8080"},
		HistoryLimit:    DefaultHistoryLimit,
		MaxMessageSize:  512,
		RateLimitBurst:  5,
		RateLimitRefill: time.Second,
	}
	return cfg
}

func (c *Config) sanitize() {
	defaults := DefaultConfig()

	if c.Port == "" {
		c.Port = defaults.Port
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaults.HistoryLimit
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaults.RateLimitBurst
	}
	if c.RateLimitRefill <= 0 {
		c.RateLimitRefill = defaults.RateLimitRefill
	}
}
