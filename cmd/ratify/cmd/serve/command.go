// Package serve provides the HTTP API server command.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/server"
)

// shutdownTimeout bounds connection draining after a shutdown signal.
const shutdownTimeout = 30 * time.Second

// NewCommand creates the serve command using app context.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		GroupID: "server",
		Short:   "Start the REST API server with WebSocket and SSE support",
		Long: `Start the ratify REST API server.

Features:
  - Proposal endpoints: submit, list, eligible, preview, apply, discard, batch
  - Entity endpoints: list, show, direct edit, evidence
  - WebSocket updates ({prefix}/updates/ws) and SSE ({prefix}/updates/stream)
  - Read cache invalidated on every engine event
  - Per-client rate limiting, API key authentication and CORS
  - Health, readiness and Prometheus metrics endpoints

Flags override the server section of the config file and RATIFY_SERVER_*
environment variables.`,
		Example: `  # Start on the default address
  ratify serve

  # Custom port with authentication
  RATIFY_SERVER_API_KEY=secret ratify serve --port 3000 --auth

  # Allow browser clients from one origin
  ratify serve --cors-origins https://review.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, app)
		},
	}

	def := server.DefaultConfig()
	cmd.Flags().Int("port", def.Port, "Server port")
	cmd.Flags().String("host", def.Host, "Bind address")
	cmd.Flags().String("prefix", def.PathPrefix, "API path prefix")

	cmd.Flags().Bool("cors", def.CORSEnabled, "Enable CORS for all origins")
	cmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins (comma-separated)")

	cmd.Flags().Bool("auth", def.AuthEnabled, "Require an API key (set RATIFY_SERVER_API_KEY)")
	cmd.Flags().String("auth-header", def.AuthHeader, "Authentication header name")

	cmd.Flags().Float64("rate-limit", def.RateLimit, "Requests per second per client (0 to disable)")
	cmd.Flags().Int("rate-burst", def.RateBurst, "Rate limit burst size")
	cmd.Flags().Duration("cache-ttl", def.CacheTTL, "Read cache TTL")

	cmd.Flags().Duration("read-timeout", def.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", def.WriteTimeout, "HTTP write timeout")
	cmd.Flags().Duration("idle-timeout", def.IdleTimeout, "HTTP idle timeout")

	cmd.Flags().Bool("metrics", def.MetricsEnabled, "Serve Prometheus metrics on /metrics")

	return cmd
}

func runServer(cmd *cobra.Command, app application.Application) error {
	cfg := parseConfig(cmd, app.ServerConfig())
	logger := app.Logger()

	engine, err := app.Engine()
	if err != nil {
		return err
	}
	srv, err := server.New(engine, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}

	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("prefix", cfg.PathPrefix).
		Bool("cors", cfg.CORSEnabled).
		Bool("auth", cfg.AuthEnabled).
		Float64("rate_limit", cfg.RateLimit).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("Starting API server")

	srv.Start()
	return serve(cmd.Context(), ln, srv, logger)
}

// serve runs the HTTP server on ln until ctx is cancelled or the server
// fails, then drains connections and stops background services.
func serve(ctx context.Context, ln net.Listener, srv *server.Server, logger *zerolog.Logger) error {
	httpServer := srv.HTTPServer()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Background services shutdown had issues")
		}
		logger.Info().Msg("Server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// parseConfig applies the flags the user set on top of base.
func parseConfig(cmd *cobra.Command, base server.Config) server.Config {
	cfg := base
	changed := cmd.Flags().Changed

	if changed("port") {
		cfg.Port = cmdutil.MustGetInt(cmd, "port")
	}
	if changed("host") {
		cfg.Host = cmdutil.MustGetString(cmd, "host")
	}
	if changed("prefix") {
		cfg.PathPrefix = cmdutil.MustGetString(cmd, "prefix")
	}
	if changed("cors") {
		cfg.CORSEnabled = cmdutil.MustGetBool(cmd, "cors")
	}
	if changed("cors-origins") {
		cfg.CORSOrigins = cmdutil.MustGetStringSlice(cmd, "cors-origins")
		cfg.CORSEnabled = cfg.CORSEnabled || len(cfg.CORSOrigins) > 0
	}
	if changed("auth") {
		cfg.AuthEnabled = cmdutil.MustGetBool(cmd, "auth")
	}
	if changed("auth-header") {
		cfg.AuthHeader = cmdutil.MustGetString(cmd, "auth-header")
	}
	if changed("rate-limit") {
		cfg.RateLimit = cmdutil.MustGetFloat64(cmd, "rate-limit")
	}
	if changed("rate-burst") {
		cfg.RateBurst = cmdutil.MustGetInt(cmd, "rate-burst")
	}
	if changed("cache-ttl") {
		cfg.CacheTTL = cmdutil.MustGetDuration(cmd, "cache-ttl")
	}
	if changed("read-timeout") {
		cfg.ReadTimeout = cmdutil.MustGetDuration(cmd, "read-timeout")
	}
	if changed("write-timeout") {
		cfg.WriteTimeout = cmdutil.MustGetDuration(cmd, "write-timeout")
	}
	if changed("idle-timeout") {
		cfg.IdleTimeout = cmdutil.MustGetDuration(cmd, "idle-timeout")
	}
	if changed("metrics") {
		cfg.MetricsEnabled = cmdutil.MustGetBool(cmd, "metrics")
	}
	return cfg
}
