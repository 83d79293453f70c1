package ratify

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/ratify/internal/database"
	"github.com/agentstation/ratify/pkg/errors"
)

// Option is a function that configures an Engine.
type Option func(*config) error

// config holds engine construction settings.
type config struct {
	database      string
	logger        *zerolog.Logger
	commitTimeout time.Duration
	lockTimeout   time.Duration
	metrics       bool
}

func defaultConfig() *config {
	return &config{database: database.Memory}
}

// WithSQLite stores canonical state, the evidence ledger and proposals in
// the SQLite database at path. The file is created if it does not exist.
func WithSQLite(path string) Option {
	return func(c *config) error {
		if path == "" {
			return &errors.ConfigError{Component: "database", Message: "sqlite path is empty"}
		}
		c.database = path
		return nil
	}
}

// WithInMemory keeps all state in process memory. This is the default.
func WithInMemory() Option {
	return func(c *config) error {
		c.database = database.Memory
		return nil
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// WithCommitTimeout bounds each canonical store write.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return &errors.ConfigError{Component: "commit_timeout", Message: "must not be negative"}
		}
		c.commitTimeout = d
		return nil
	}
}

// WithLockTimeout bounds how long an operation waits for its project lock.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return &errors.ConfigError{Component: "lock_timeout", Message: "must not be negative"}
		}
		c.lockTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics, served by Engine.MetricsHandler.
func WithMetrics(enabled bool) Option {
	return func(c *config) error {
		c.metrics = enabled
		return nil
	}
}

func (c *config) apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}
