package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/ratify/pkg/errors"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// CORS settings
	CORSEnabled bool
	CORSOrigins []string

	// Authentication settings
	AuthEnabled bool
	AuthHeader  string
	APIKey      string

	// Performance settings
	RateLimit float64 // requests per second per client, 0 disables
	RateBurst int
	CacheTTL  time.Duration

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8080,
		PathPrefix:     "/api/v1",
		CORSOrigins:    []string{},
		AuthHeader:     "X-API-Key",
		RateLimit:      20,
		RateBurst:      40,
		CacheTTL:       30 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MetricsEnabled: true,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.NewConfigError("server", fmt.Sprintf("port %d out of range", c.Port), nil)
	case c.PathPrefix != "" && (!strings.HasPrefix(c.PathPrefix, "/") || strings.HasSuffix(c.PathPrefix, "/")):
		return errors.NewConfigError("server", fmt.Sprintf("path prefix %q must start with / and not end with /", c.PathPrefix), nil)
	case c.AuthEnabled && c.APIKey == "":
		return errors.NewConfigError("auth", "auth is enabled but no API key is set", nil)
	case c.RateLimit < 0:
		return errors.NewConfigError("rate_limit", "must not be negative", nil)
	case c.CacheTTL < 0:
		return errors.NewConfigError("cache_ttl", "must not be negative", nil)
	}
	return nil
}
