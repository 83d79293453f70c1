// Package ratify reconciles machine-generated proposals against a project's
// canonical knowledge state.
//
// An Engine accepts proposals (bundles of create, update and delete changes
// backed by evidence), keeps their staleness, conflicts and contradictions
// current as canonical state moves, and applies or discards them under a
// per-project lock. Applying a proposal commits all of its changes or none
// of them and records one evidence ledger entry per change.
package ratify

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/agentstation/ratify/internal/database"
	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/internal/metrics"
	"github.com/agentstation/ratify/internal/repository"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/logging"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/reconcile"
)

// Engine is the proposal reconciliation engine.
type Engine interface {
	// Submit validates and stores a new pending proposal.
	Submit(ctx context.Context, p *proposal.Proposal) (*reconcile.SubmitResult, error)

	// Preview marks a proposal previewed and renders its live diffs.
	Preview(ctx context.Context, id string) (*reconcile.PreviewResult, error)

	// Get returns a proposal with its changes, evidence and contradictions.
	Get(ctx context.Context, id string) (*proposal.Proposal, error)

	// List returns a project's proposals in queue order.
	List(ctx context.Context, projectID string, statuses ...proposal.Status) ([]*proposal.Proposal, error)

	// Eligible returns the open proposals that would pass apply gating.
	Eligible(ctx context.Context, projectID string) ([]*proposal.Proposal, error)

	// Detect computes a proposal's contradictions against live state.
	Detect(ctx context.Context, id string) ([]proposal.Contradiction, error)

	// Apply commits every change of a proposal atomically.
	Apply(ctx context.Context, id string) (*reconcile.ApplyResult, error)

	// Discard resolves a proposal without touching canonical state.
	Discard(ctx context.Context, id string) (*reconcile.DiscardResult, error)

	// BatchApply applies ids in order with per-id failure isolation.
	BatchApply(ctx context.Context, ids []string) *reconcile.BatchResult

	// BatchDiscard discards ids with per-id failure isolation.
	BatchDiscard(ctx context.Context, ids []string) *reconcile.BatchResult

	// Edit writes canonical state directly.
	Edit(ctx context.Context, projectID string, m knowledge.Mutation) (*reconcile.EditResult, error)

	// Entity returns one canonical entity.
	Entity(ctx context.Context, projectID string, ref entity.Ref) (*knowledge.Record, error)

	// Entities lists canonical entities, optionally of one kind.
	Entities(ctx context.Context, projectID string, kind entity.Kind) ([]*knowledge.Record, error)

	// Evidence queries the evidence ledger.
	Evidence(ctx context.Context, q ledger.Query) ([]ledger.Entry, error)

	// MetricsHandler serves Prometheus metrics, or 404 when metrics are off.
	MetricsHandler() http.Handler

	// OnSubmitted registers a callback for accepted proposals.
	OnSubmitted(SubmittedHook)

	// OnPreviewed registers a callback for previewed proposals.
	OnPreviewed(PreviewedHook)

	// OnApplied registers a callback for applied proposals.
	OnApplied(AppliedHook)

	// OnDiscarded registers a callback for discarded proposals.
	OnDiscarded(DiscardedHook)

	// OnTransition registers a callback for derived state transitions.
	OnTransition(TransitionHook)

	// OnEntityChanged registers a callback for canonical writes.
	OnEntityChanged(EntityChangedHook)

	// Close releases the underlying database.
	Close() error
}

// engine is the implementation of Engine.
type engine struct {
	*reconcile.Coordinator
	*hooks

	db       *sql.DB
	recorder *metrics.Recorder
	closeMu  sync.Mutex
	closed   bool
}

// New creates an Engine with the given options.
func New(opts ...Option) (Engine, error) {
	cfg := defaultConfig()
	if err := cfg.apply(opts...); err != nil {
		return nil, fmt.Errorf("applying options: %w", err)
	}

	e := &engine{hooks: newHooks()}

	var (
		store knowledge.Store
		led   ledger.Ledger
		repo  repository.Repository
	)
	if cfg.database == database.Memory {
		store, led, repo = knowledge.NewMemory(), ledger.NewMemory(), repository.NewMemory()
	} else {
		db, err := database.Open(context.Background(), cfg.database)
		if err != nil {
			return nil, err
		}
		e.db = db
		store, led, repo = knowledge.NewSQLite(db), ledger.NewSQLite(db), repository.NewSQLite(db)
	}

	logger := cfg.logger
	if logger == nil {
		logger = logging.Default()
	}
	copts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithObserver(e.hooks),
		reconcile.WithCommitTimeout(cfg.commitTimeout),
		reconcile.WithLockTimeout(cfg.lockTimeout),
	}
	if cfg.metrics {
		e.recorder = metrics.New()
		copts = append(copts, reconcile.WithRecorder(e.recorder))
	}
	e.Coordinator = reconcile.New(store, led, repo, copts...)

	logger.Debug().
		Str("database", cfg.database).
		Bool("metrics", cfg.metrics).
		Msg("Engine ready")
	return e, nil
}

// MetricsHandler serves the engine's Prometheus registry.
func (e *engine) MetricsHandler() http.Handler {
	if e.recorder == nil {
		return http.NotFoundHandler()
	}
	return e.recorder.Handler()
}

// Close releases the underlying database. It is safe to call more than once.
func (e *engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed || e.db == nil {
		e.closed = true
		return nil
	}
	e.closed = true
	return e.db.Close()
}
