package reconcile

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/pkg/detect"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/staleness"
)

// ApplyResult describes a successful apply.
type ApplyResult struct {
	Proposal *proposal.Proposal `json:"proposal"`
	// Records are the committed canonical states, one per change in order.
	// For deletes the record holds the removed state.
	Records []*knowledge.Record `json:"records"`
	// Evidence is the number of ledger entries written.
	Evidence int `json:"evidence_entries"`
	// Transitions lists the other open proposals whose derived state moved.
	Transitions []staleness.Transition `json:"transitions"`
}

// Apply commits every change of a proposal atomically.
//
// It fails with NotFound when the proposal does not exist, InvalidState
// when it is already terminal, Stale when a captured before state no longer
// matches canonical state, and Conflict when an overlapping open proposal
// is queued ahead of it. A failing change rolls back the changes already
// committed for this proposal.
func (c *Coordinator) Apply(ctx context.Context, id string) (res *ApplyResult, err error) {
	start := time.Now()
	defer func() { c.observe("apply", start, err) }()
	defer func() {
		if err == nil {
			c.events.Applied(res)
		}
	}()

	head, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := c.lock(ctx, head.ProjectID)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.applyLocked(ctx, id)
}

func (c *Coordinator) applyLocked(ctx context.Context, id string) (*ApplyResult, error) {
	log := c.log(ctx).With().Str("proposal_id", id).Str("operation", "apply").Logger()

	p, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsOpen() {
		log.Debug().Str("status", string(p.Status)).Msg("Apply rejected: terminal proposal")
		return nil, errors.NewInvalidStateError(p.ID, string(p.Status), "apply")
	}

	open, err := c.openProposals(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	if q := find(open, p.ID); q != nil {
		p = q
	} else {
		open = append(open, p)
	}

	// Re-run detection for this proposal against live state before deciding.
	_, changed, err := c.refresh(ctx, p.ProjectID, open, p.Refs())
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		if err := c.repo.Save(ctx, changed...); err != nil {
			return nil, errors.WrapStore("save", p.ID, err)
		}
	}

	if p.IsStale() {
		log.Debug().Str("reason", *p.StaleReason).Msg("Apply rejected: stale")
		return nil, errors.NewStaleError(p.ID, *p.StaleReason)
	}
	if blocking := detect.Blocking(p, open); len(blocking) > 0 {
		log.Debug().Strs("blocking", blocking).Msg("Apply rejected: conflict")
		return nil, errors.NewConflictError(p.ID, blocking)
	}

	snap, err := c.snapshot(ctx, p.ProjectID, p.Refs())
	if err != nil {
		return nil, err
	}

	// Copies of every proposal this apply may rewrite, for Restore.
	prior := make(map[string]*proposal.Proposal, len(open))
	for _, q := range open {
		prior[q.ID] = q.Clone()
	}

	records, j, err := c.commitChanges(ctx, p, snap)
	if err != nil {
		return nil, err
	}

	now := c.stamp()
	p.Status = proposal.StatusApplied
	p.UpdatedAt = now
	p.ResolvedAt = &now

	remaining := without(open, p.ID)
	transitions, changed, err := c.refresh(ctx, p.ProjectID, remaining, j.refs())
	if err != nil {
		return nil, c.abort(ctx, p, j, err)
	}
	saved := append([]*proposal.Proposal{p}, changed...)
	if err := c.repo.Save(ctx, saved...); err != nil {
		return nil, c.abort(ctx, p, j, errors.WrapStore("save", p.ID, err))
	}

	// Evidence is recorded last, once canonical state and the proposal
	// status are both durable. Append is all or nothing, so a failure here
	// leaves no entries behind and the proposal is put back as it was.
	entries := make([]ledger.Entry, len(p.Changes))
	for i := range p.Changes {
		ch := &p.Changes[i]
		entries[i] = ledger.Entry{
			ProjectID:   p.ProjectID,
			ProposalID:  p.ID,
			ChangeIndex: i,
			Ref:         ch.Ref(),
			Operation:   ch.Operation,
			Evidence:    proposal.CloneEvidence(ch.Evidence),
		}
	}
	if err := c.ledger.Append(ctx, entries...); err != nil {
		cause := errors.WrapStore("append", p.ID, err)
		restore := make([]*proposal.Proposal, 0, len(saved))
		for _, q := range saved {
			restore = append(restore, prior[q.ID])
		}
		if rerr := c.repo.Restore(context.WithoutCancel(ctx), restore...); rerr != nil {
			log.Error().Err(rerr).AnErr("cause", cause).Msg("Proposal restore failed")
			cause = errors.NewStoreUnavailableError("restore", p.ID, stderrors.Join(cause, rerr))
		}
		return nil, c.abort(ctx, p, j, cause)
	}
	c.metrics.OpenProposals(p.ProjectID, len(remaining))

	log.Info().
		Int("changes", len(p.Changes)).
		Int("transitions", len(transitions)).
		Msg("Proposal applied")

	return &ApplyResult{
		Proposal:    p.Clone(),
		Records:     records,
		Evidence:    len(entries),
		Transitions: transitions,
	}, nil
}

// createID derives the entity id for the create at index i of a proposal.
// The id is stable, so a retried apply creates the same entity.
func createID(proposalID string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(proposalID+"#"+strconv.Itoa(i))).String()
}

// commitChanges writes every change of p and journals the writes. Create
// changes get their derived id written back. When the store commits
// batches atomically, a failure leaves nothing behind; otherwise changes
// are committed one by one and a failure rolls back the earlier ones.
func (c *Coordinator) commitChanges(ctx context.Context, p *proposal.Proposal, snap entity.Snapshot) ([]*knowledge.Record, *journal, error) {
	muts := make([]knowledge.Mutation, len(p.Changes))
	for i := range p.Changes {
		ch := &p.Changes[i]
		if ch.Operation == proposal.OpCreate && ch.EntityID == "" {
			ch.EntityID = createID(p.ID, i)
		}
		muts[i] = knowledge.Mutation{Op: ch.Operation, Ref: ch.Ref(), After: ch.After}
	}

	j := &journal{}
	bc, batched := c.store.(BatchCommitter)
	if !batched {
		records := make([]*knowledge.Record, 0, len(muts))
		for _, m := range muts {
			rec, err := c.commit(ctx, p.ProjectID, p.ID, m)
			if err != nil {
				return nil, nil, c.abort(ctx, p, j, err)
			}
			j.add(m.Op, rec.Ref, snap[m.Ref].Entity)
			records = append(records, rec)
		}
		return records, j, nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	records, err := bc.CommitAll(cctx, p.ProjectID, muts)
	cancel()
	if err != nil {
		return nil, nil, commitError(p.ID, p.ProjectID, err)
	}
	for i, rec := range records {
		j.add(muts[i].Op, rec.Ref, snap[muts[i].Ref].Entity)
	}
	return records, j, nil
}

// commit performs one bounded write. A commit that does not finish within
// the timeout is reported as StoreUnavailable and is not journaled.
func (c *Coordinator) commit(ctx context.Context, projectID, proposalID string, m knowledge.Mutation) (*knowledge.Record, error) {
	cctx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	defer cancel()

	rec, err := c.store.Commit(cctx, projectID, m)
	if err != nil {
		return nil, commitError(proposalID, m.Ref.String(), err)
	}
	return rec, nil
}

// commitError maps a store failure during apply. A missing entity means
// canonical state moved under the proposal.
func commitError(proposalID, target string, err error) error {
	var nf *errors.NotFoundError
	switch {
	case stderrors.As(err, &nf):
		return errors.NewStaleError(proposalID, nf.Resource+" "+nf.ID+" disappeared during apply")
	case errors.IsNotFound(err):
		return errors.NewStaleError(proposalID, "an entity of "+target+" disappeared during apply")
	case errors.IsValidationError(err):
		return err
	default:
		return errors.WrapStore("commit", target, err)
	}
}

// abort undoes journaled commits and returns cause, annotated with any
// rollback failure. Compensation is itself a single batch when the store
// supports it.
func (c *Coordinator) abort(ctx context.Context, p *proposal.Proposal, j *journal, cause error) error {
	log := c.log(ctx).With().Str("proposal_id", p.ID).Logger()
	if len(j.steps) == 0 {
		log.Warn().Err(cause).Msg("Apply failed before any commit")
		return cause
	}

	// Roll back even when the caller has gone away.
	rctx := context.WithoutCancel(ctx)
	var rbErr error
	if bc, ok := c.store.(BatchCommitter); ok {
		cctx, cancel := context.WithTimeout(rctx, c.commitTimeout)
		_, rbErr = bc.CommitAll(cctx, p.ProjectID, j.inverse())
		cancel()
	} else {
		for _, inv := range j.inverse() {
			if _, err := c.commit(rctx, p.ProjectID, p.ID, inv); err != nil {
				rbErr = stderrors.Join(rbErr, err)
			}
		}
	}
	if rbErr != nil {
		log.Error().Err(rbErr).AnErr("cause", cause).Msg("Rollback incomplete")
		return errors.NewStoreUnavailableError("rollback", p.ID, stderrors.Join(cause, rbErr))
	}
	log.Warn().Err(cause).Int("rolled_back", len(j.steps)).Msg("Apply rolled back")
	return cause
}

// journal records committed changes so they can be inverted.
type journal struct {
	steps []step
}

type step struct {
	op    proposal.Operation
	ref   entity.Ref
	prior entity.Entity
}

func (j *journal) add(op proposal.Operation, ref entity.Ref, prior entity.Entity) {
	j.steps = append(j.steps, step{op: op, ref: ref, prior: prior})
}

func (j *journal) refs() []entity.Ref {
	refs := make([]entity.Ref, 0, len(j.steps))
	for _, s := range j.steps {
		refs = append(refs, s.ref)
	}
	return refs
}

// inverse returns the compensating mutations in reverse commit order.
func (j *journal) inverse() []knowledge.Mutation {
	out := make([]knowledge.Mutation, 0, len(j.steps))
	for i := len(j.steps) - 1; i >= 0; i-- {
		s := j.steps[i]
		switch s.op {
		case proposal.OpCreate:
			out = append(out, knowledge.Mutation{Op: proposal.OpDelete, Ref: s.ref})
		case proposal.OpUpdate:
			out = append(out, knowledge.Mutation{Op: proposal.OpUpdate, Ref: s.ref, After: s.prior})
		case proposal.OpDelete:
			out = append(out, knowledge.Mutation{Op: proposal.OpCreate, Ref: s.ref, After: s.prior})
		}
	}
	return out
}
