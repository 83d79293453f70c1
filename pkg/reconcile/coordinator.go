// Package reconcile coordinates proposal submission, apply, discard, and
// batch operations against a project's canonical state.
//
// Every mutating operation holds the project's exclusive lock for its
// critical section and re-validates staleness and conflicts inside it, so
// no decision is ever taken on a stale read. After each canonical write the
// coordinator refreshes the derived state (staleness, conflicts,
// contradictions) of the project's remaining open proposals before
// releasing the lock.
package reconcile

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/logging"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/staleness"
)

// DefaultCommitTimeout bounds each knowledge store write.
const DefaultCommitTimeout = 5 * time.Second

// KnowledgeStore is the canonical entity store.
type KnowledgeStore interface {
	Get(ctx context.Context, projectID string, ref entity.Ref) (*knowledge.Record, error)
	Commit(ctx context.Context, projectID string, m knowledge.Mutation) (*knowledge.Record, error)
	List(ctx context.Context, projectID string, kind entity.Kind) ([]*knowledge.Record, error)
}

// BatchCommitter is implemented by stores that commit a list of mutations
// as one unit, with no prefix ever visible to readers. Apply uses it when
// available and otherwise commits change by change with compensating
// writes on failure.
type BatchCommitter interface {
	CommitAll(ctx context.Context, projectID string, ms []knowledge.Mutation) ([]*knowledge.Record, error)
}

// EvidenceLedger is the append-only provenance store.
type EvidenceLedger interface {
	Append(ctx context.Context, entries ...ledger.Entry) error
	List(ctx context.Context, q ledger.Query) ([]ledger.Entry, error)
}

// Repository stores proposals.
type Repository interface {
	Create(ctx context.Context, p *proposal.Proposal) error
	Get(ctx context.Context, id string) (*proposal.Proposal, error)
	List(ctx context.Context, projectID string, statuses ...proposal.Status) ([]*proposal.Proposal, error)
	Save(ctx context.Context, ps ...*proposal.Proposal) error
	Restore(ctx context.Context, ps ...*proposal.Proposal) error
}

// Recorder receives operational measurements.
type Recorder interface {
	Operation(op string, outcome string, d time.Duration)
	LockWait(d time.Duration)
	OpenProposals(projectID string, n int)
}

// Observer is told about successful operations after the project lock has
// been released, so it may call back into the coordinator.
type Observer interface {
	Submitted(res *SubmitResult)
	Previewed(res *PreviewResult)
	Applied(res *ApplyResult)
	Discarded(res *DiscardResult)
	Edited(res *EditResult)
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, string, time.Duration) {}
func (nopRecorder) LockWait(time.Duration)                  {}
func (nopRecorder) OpenProposals(string, int)               {}

type nopObserver struct{}

func (nopObserver) Submitted(*SubmitResult)  {}
func (nopObserver) Previewed(*PreviewResult) {}
func (nopObserver) Applied(*ApplyResult)     {}
func (nopObserver) Discarded(*DiscardResult) {}
func (nopObserver) Edited(*EditResult)       {}

// Coordinator orchestrates all proposal operations.
type Coordinator struct {
	store  KnowledgeStore
	ledger EvidenceLedger
	repo   Repository
	locks  *Locks

	metrics       Recorder
	events        Observer
	logger        *zerolog.Logger
	commitTimeout time.Duration
	lockTimeout   time.Duration
	now           func() utc.Time
	newID         func() string
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithCommitTimeout bounds each knowledge store commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.commitTimeout = d
		}
	}
}

// WithLockTimeout bounds how long an operation waits for the project lock.
// Zero waits until the caller's context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.lockTimeout = d
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithObserver sets the observer notified of successful operations.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.events = o
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() utc.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDGenerator overrides proposal id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		c.newID = fn
	}
}

// New creates a Coordinator over the given stores.
func New(store KnowledgeStore, led EvidenceLedger, repo Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		ledger:        led,
		repo:          repo,
		locks:         NewLocks(),
		metrics:       nopRecorder{},
		events:        nopObserver{},
		logger:        logging.Default(),
		commitTimeout: DefaultCommitTimeout,
		now:           utc.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lock acquires the project lock and records the wait.
func (c *Coordinator) lock(ctx context.Context, projectID string) (func(), error) {
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	start := time.Now()
	release, err := c.locks.Acquire(ctx, projectID)
	c.metrics.LockWait(time.Since(start))
	return release, err
}

func (c *Coordinator) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(errors.CodeOf(err)))
	}
	c.metrics.Operation(op, outcome, time.Since(start))
}

func (c *Coordinator) log(ctx context.Context) *zerolog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		l := c.logger.With().Str("request_id", id).Logger()
		return &l
	}
	return c.logger
}

func (c *Coordinator) stamp() utc.Time {
	return utc.New(c.now().Time)
}

// snapshot loads the canonical state of refs. Missing entities are absent
// from the result.
func (c *Coordinator) snapshot(ctx context.Context, projectID string, refs []entity.Ref) (entity.Snapshot, error) {
	snap := entity.Snapshot{}
	for _, ref := range refs {
		rec, err := c.store.Get(ctx, projectID, ref)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, errors.WrapStore("get", ref.String(), err)
		}
		snap[ref] = rec.State()
	}
	return snap, nil
}

// refresh recomputes derived state for open proposals after touched refs
// changed (nil touched rescans everything). It returns the transitions and
// the proposals that need saving, with UpdatedAt bumped.
func (c *Coordinator) refresh(ctx context.Context, projectID string, open []*proposal.Proposal, touched []entity.Ref) ([]staleness.Transition, []*proposal.Proposal, error) {
	var affected []*proposal.Proposal
	for _, p := range open {
		if touched == nil || slices.ContainsFunc(touched, p.References) {
			affected = append(affected, p)
		}
	}
	snap, err := c.snapshot(ctx, projectID, staleness.Touched(affected...))
	if err != nil {
		return nil, nil, err
	}

	ts := staleness.Refresh(open, touched, snap)
	var changed []*proposal.Proposal
	now := c.stamp()
	for _, t := range ts {
		for _, p := range open {
			if p.ID == t.ProposalID {
				p.UpdatedAt = now
				changed = append(changed, p)
			}
		}
	}
	return ts, changed, nil
}

// openProposals lists the project's pending and previewed proposals.
func (c *Coordinator) openProposals(ctx context.Context, projectID string) ([]*proposal.Proposal, error) {
	open, err := c.repo.List(ctx, projectID, proposal.StatusPending, proposal.StatusPreviewed)
	if err != nil {
		return nil, errors.WrapStore("list", projectID, err)
	}
	return open, nil
}

func without(ps []*proposal.Proposal, id string) []*proposal.Proposal {
	return slices.DeleteFunc(slices.Clone(ps), func(p *proposal.Proposal) bool { return p.ID == id })
}

func find(ps []*proposal.Proposal, id string) *proposal.Proposal {
	for _, p := range ps {
		if p.ID == id {
			return p
		}
	}
	return nil
}
