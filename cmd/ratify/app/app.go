// Package app wires configuration, logging and the engine into the ratify
// CLI and owns their lifecycle.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/ratify"
	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/database"
	"github.com/agentstation/ratify/internal/server"
	"github.com/agentstation/ratify/pkg/errors"
)

// App represents the ratify application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// Engine instance (lazy-initialized, singleton)
	mu     sync.RWMutex
	engine ratify.Engine
}

// Ensure App implements application.Application at compile time.
var _ application.Application = (*App)(nil)

// New creates a new App instance with the given version information.
// Configuration is loaded from the environment and config files; command
// flags are applied when a command runs.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig("")
	if err != nil {
		return nil, err
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the configured output format.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// ServerConfig returns the configured server settings.
func (a *App) ServerConfig() server.Config {
	return a.config.Server
}

// Engine returns the engine, opening it lazily on first use.
func (a *App) Engine() (ratify.Engine, error) {
	a.mu.RLock()
	if a.engine != nil {
		e := a.engine
		a.mu.RUnlock()
		return e, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}

	e, err := ratify.New(a.engineOptions()...)
	if err != nil {
		return nil, errors.NewConfigError("engine", "opening "+a.config.Database, err)
	}
	a.engine = e
	return e, nil
}

// Shutdown closes the engine if it was opened.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to close engine during shutdown")
	}
	return err
}

func (a *App) engineOptions() []ratify.Option {
	opts := []ratify.Option{
		ratify.WithLogger(a.logger),
		ratify.WithCommitTimeout(a.config.CommitTimeout),
		ratify.WithLockTimeout(a.config.LockTimeout),
		ratify.WithMetrics(a.config.Metrics),
	}
	if a.config.Database == "" || a.config.Database == database.Memory {
		opts = append(opts, ratify.WithInMemory())
	} else {
		opts = append(opts, ratify.WithSQLite(a.config.Database))
	}
	return opts
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithEngine sets a custom engine instance (useful for testing).
func WithEngine(e ratify.Engine) Option {
	return func(a *App) error {
		a.engine = e
		return nil
	}
}
