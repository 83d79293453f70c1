package server

import (
	"net/http"

	"github.com/agentstation/ratify/internal/server/handlers"
	"github.com/agentstation/ratify/internal/server/middleware"
	"github.com/agentstation/ratify/internal/server/response"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()
	h := handlers.New(s.engine, s.cache, s.broker, s.wsHub, s.sseBroadcaster, s.upgrader, s.logger)
	s.registerRoutes(mux, h)
	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	p := s.config.PathPrefix

	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Probes
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+p+"/health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET "+p+"/ready", h.HandleReady)

	// Project scoped
	mux.HandleFunc("GET "+p+"/projects/{project}/proposals", h.HandleListProposals)
	mux.HandleFunc("POST "+p+"/projects/{project}/proposals", h.HandleSubmit)
	mux.HandleFunc("GET "+p+"/projects/{project}/proposals/eligible", h.HandleEligible)
	mux.HandleFunc("POST "+p+"/projects/{project}/proposals/batch-apply", h.HandleBatchApply)
	mux.HandleFunc("POST "+p+"/projects/{project}/proposals/batch-discard", h.HandleBatchDiscard)
	mux.HandleFunc("GET "+p+"/projects/{project}/entities", h.HandleListEntities)
	mux.HandleFunc("POST "+p+"/projects/{project}/entities", h.HandleEdit)
	mux.HandleFunc("GET "+p+"/projects/{project}/entities/{kind}/{id}", h.HandleGetEntity)
	mux.HandleFunc("GET "+p+"/projects/{project}/entities/{kind}/{id}/evidence", h.HandleEntityEvidence)

	// Single proposal
	mux.HandleFunc("GET "+p+"/proposals/{id}", h.HandleGetProposal)
	mux.HandleFunc("GET "+p+"/proposals/{id}/contradictions", h.HandleDetect)
	mux.HandleFunc("GET "+p+"/proposals/{id}/evidence", h.HandleProposalEvidence)
	mux.HandleFunc("POST "+p+"/proposals/{id}/apply", h.HandleApply)
	mux.HandleFunc("POST "+p+"/proposals/{id}/discard", h.HandleDiscard)
	mux.HandleFunc("POST "+p+"/proposals/{id}/preview", h.HandlePreview)

	// Real-time
	mux.HandleFunc("GET "+p+"/updates/ws", h.HandleWebSocket)
	mux.HandleFunc("GET "+p+"/updates/stream", h.HandleSSE)

	if s.config.MetricsEnabled {
		mux.Handle("GET /metrics", s.engine.MetricsHandler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})
}

// applyMiddleware wraps handler with the middleware chain. Request ids and
// recovery sit outermost so every log line and every panic carries an id.
// Rate limiting runs before auth so rejected keys still spend budget.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config
	chain := []func(http.Handler) http.Handler{
		middleware.RequestID(s.logger),
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
	}

	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, s.logger)
		chain = append(chain, middleware.RateLimit(limiter))
	}

	if cfg.CORSEnabled {
		corsConfig := middleware.DefaultCORSConfig()
		if len(cfg.CORSOrigins) > 0 {
			corsConfig.AllowedOrigins = cfg.CORSOrigins
		} else {
			corsConfig.AllowAll = true
		}
		chain = append(chain, middleware.CORS(corsConfig))
	}

	if cfg.AuthEnabled {
		authConfig := middleware.DefaultAuthConfig()
		authConfig.Enabled = true
		authConfig.APIKey = cfg.APIKey
		if cfg.AuthHeader != "" {
			authConfig.HeaderName = cfg.AuthHeader
		}
		authConfig.PublicPaths = append(authConfig.PublicPaths, cfg.PathPrefix+"/health", cfg.PathPrefix+"/ready")
		chain = append(chain, middleware.Auth(authConfig, s.logger))
	}

	return middleware.Chain(chain...)(handler)
}
