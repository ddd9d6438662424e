// Package api provides the HTTP control surface: status, event injection,
// health and metrics.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultBodyLimit       = "64K"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port

	// Security settings
	AllowedOrigins []string // CORS allowed origins

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Limits
	BodyLimit string  // Maximum request body size (e.g., "64K")
	RateLimit float64 // requests per second per client, 0 disables limiting
	RateBurst int

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		RateLimit:       20,
		RateBurst:       40,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	cfg.Listen = settings.API.Listen
	cfg.RateLimit = settings.API.RateLimit
	cfg.RateBurst = settings.API.RateBurst
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", c.Listen, err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, rate=%.1f/s burst=%d, debug=%v",
		c.Listen, c.RateLimit, c.RateBurst, c.Debug)
}
