// Package server exposes a ratify Engine over HTTP: a JSON API, WebSocket
// and SSE event streams, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/ratify"
	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/server/cache"
	"github.com/agentstation/ratify/internal/server/events"
	"github.com/agentstation/ratify/internal/server/events/adapters"
	"github.com/agentstation/ratify/internal/server/sse"
	ws "github.com/agentstation/ratify/internal/server/websocket"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/reconcile"
	"github.com/agentstation/ratify/pkg/staleness"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	engine         ratify.Engine
	cache          *cache.Cache
	broker         *events.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	started        atomic.Bool
	startTime      time.Time
}

// New creates a server for engine. Background services do not run until
// Start.
func New(engine ratify.Engine, cfg Config, logger *zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	broker := events.NewBroker(logger)
	wsHub := ws.NewHub(logger)
	sseBroadcaster := sse.NewBroadcaster(logger)
	broker.Subscribe(adapters.NewWebSocketSubscriber(wsHub))
	broker.Subscribe(adapters.NewSSESubscriber(sseBroadcaster))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:         engine,
		cache:          cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		broker:         broker,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:    logger,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	s.connectHooks()

	logger.Debug().Str("addr", cfg.Addr()).Msg("Server instance created")
	return s, nil
}

// proposalEvent is the payload of proposal events.
type proposalEvent struct {
	Proposal proposal.Summary `json:"proposal"`
}

// appliedEvent is the payload of proposal.applied.
type appliedEvent struct {
	Proposal proposal.Summary `json:"proposal"`
	Entities []entity.Ref     `json:"entities"`
	Evidence int              `json:"evidence_entries"`
}

// entityEvent is the payload of entity.changed.
type entityEvent struct {
	ProjectID string             `json:"project_id"`
	Operation proposal.Operation `json:"operation"`
	Ref       entity.Ref         `json:"ref"`
	Version   int64              `json:"version"`
	Hash      string             `json:"hash"`
}

// connectHooks publishes engine events to the broker and drops the cached
// reads each event makes stale.
func (s *Server) connectHooks() {
	s.engine.OnSubmitted(func(p *proposal.Proposal) {
		s.invalidate(p.ProjectID, p.ID)
		s.broker.Publish(events.ProposalSubmitted, p.ProjectID, proposalEvent{Proposal: p.Summarize()})
	})

	s.engine.OnPreviewed(func(p *proposal.Proposal) {
		s.invalidate(p.ProjectID, p.ID)
		s.broker.Publish(events.ProposalPreviewed, p.ProjectID, proposalEvent{Proposal: p.Summarize()})
	})

	s.engine.OnApplied(func(res *reconcile.ApplyResult) {
		p := res.Proposal
		s.invalidate(p.ProjectID, p.ID)
		refs := make([]entity.Ref, len(res.Records))
		for i, rec := range res.Records {
			refs[i] = rec.Ref
		}
		s.broker.Publish(events.ProposalApplied, p.ProjectID, appliedEvent{
			Proposal: p.Summarize(),
			Entities: refs,
			Evidence: res.Evidence,
		})
	})

	s.engine.OnDiscarded(func(p *proposal.Proposal) {
		s.invalidate(p.ProjectID, p.ID)
		s.broker.Publish(events.ProposalDiscarded, p.ProjectID, proposalEvent{Proposal: p.Summarize()})
	})

	s.engine.OnTransition(func(projectID string, t staleness.Transition) {
		s.invalidate(projectID, t.ProposalID)
		s.broker.Publish(events.ProposalTransition, projectID, t)
	})

	s.engine.OnEntityChanged(func(op proposal.Operation, rec *knowledge.Record) {
		s.invalidate(rec.ProjectID, "")
		s.broker.Publish(events.EntityChanged, rec.ProjectID, entityEvent{
			ProjectID: rec.ProjectID,
			Operation: op,
			Ref:       rec.Ref,
			Version:   rec.Version,
			Hash:      rec.Hash,
		})
	})

	s.logger.Debug().Msg("Engine hooks connected to event broker")
}

func (s *Server) invalidate(projectID, proposalID string) {
	n := s.cache.InvalidateProject(projectID)
	if proposalID != "" {
		s.cache.Delete(cache.ProposalKey(proposalID))
	}
	s.logger.Trace().
		Str("project_id", projectID).
		Str("proposal_id", proposalID).
		Int("entries", n).
		Msg("Cache invalidated")
}

// Start starts background services (broker, WebSocket hub, SSE broadcaster).
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		finished := make(chan struct{}, 3)
		run := func(fn func(context.Context)) {
			fn(s.ctx)
			finished <- struct{}{}
		}
		go run(s.broker.Run)
		go run(s.wsHub.Run)
		go run(s.sseBroadcaster.Run)
		for range 3 {
			<-finished
		}
	}()
	s.logger.Debug().Msg("Background services started")
}

// Handler returns the configured http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// HTTPServer returns an http.Server for the configured address and timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Shutdown stops background services, waiting for them until ctx is done.
// Shutdown without Start returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")
	s.cancel()
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn().Msg("Background services shutdown timed out")
		}
		return ctx.Err()
	}
}

// Cache returns the server's read cache.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// Broker returns the event broker.
func (s *Server) Broker() *events.Broker {
	return s.broker
}

// StartTime returns the server creation time.
func (s *Server) StartTime() time.Time {
	return s.startTime
}
