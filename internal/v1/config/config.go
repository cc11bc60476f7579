// Package config loads and validates the server's environment configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds validated environment configuration for the chat server.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	GoEnv          string `env:"GO_ENV" envDefault:"production"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	// Per-connection outbound queue length. Responses past this are dropped.
	SendBuffer int `env:"SEND_BUFFER" envDefault:"64"`

	// Bound on each WebSocket frame write.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	// Inbound messages per second per connection, 0 disables throttling.
	MessageRate  float64 `env:"MESSAGE_RATE" envDefault:"0"`
	MessageBurst int     `env:"MESSAGE_BURST" envDefault:"20"`

	// Upgrade requests per IP, ulule/limiter format ("100-M" = 100/minute).
	RateLimitWsIP string `env:"RATE_LIMIT_WS_IP" envDefault:"100-M"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result. Returns every
// validation failure at once rather than the first one hit.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var errs []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}
	if cfg.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("SEND_BUFFER must be positive (got %d)", cfg.SendBuffer))
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("WRITE_TIMEOUT must be positive (got %s)", cfg.WriteTimeout))
	}
	if cfg.MessageRate < 0 {
		errs = append(errs, fmt.Sprintf("MESSAGE_RATE must not be negative (got %g)", cfg.MessageRate))
	}
	if cfg.MessageBurst < 1 {
		errs = append(errs, fmt.Sprintf("MESSAGE_BURST must be positive (got %d)", cfg.MessageBurst))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

// Development reports whether the server runs in development mode.
func (c *Config) Development() bool {
	return c.GoEnv == "development"
}

// Origins returns the allowed CORS origins as a slice.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
