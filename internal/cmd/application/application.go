// Package application defines what ratify commands need from the running
// CLI application.
//
// Commands accept the Application interface rather than the concrete app,
// so tests can hand them a Mock backed by an in-memory engine:
//
//	engine, _ := ratify.New(ratify.WithInMemory())
//	mock := &application.Mock{
//	    EngineFunc: func() (ratify.Engine, error) { return engine, nil },
//	}
//	cmd := apply.NewCommand(mock)
package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/ratify"
	"github.com/agentstation/ratify/internal/server"
)

// Application provides the application interface that commands need.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Engine returns the shared engine, opening its database on first use.
	Engine() (ratify.Engine, error)

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (table, json, yaml),
	// or the empty string for automatic detection.
	OutputFormat() string

	// ServerConfig returns the HTTP server settings from the config file and
	// environment. Command flags are applied on top by the serve command.
	ServerConfig() server.Config

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
