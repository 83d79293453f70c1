package reconcile

import (
	"context"
	"time"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/staleness"
)

// DiscardResult describes a successful discard.
type DiscardResult struct {
	Proposal    *proposal.Proposal     `json:"proposal"`
	Transitions []staleness.Transition `json:"transitions"`
}

// Discard resolves a proposal without touching canonical state. It is
// allowed for stale and conflicted proposals; only missing or already
// terminal proposals are rejected. Proposals that conflicted with it get
// their conflict sets recomputed.
func (c *Coordinator) Discard(ctx context.Context, id string) (res *DiscardResult, err error) {
	start := time.Now()
	defer func() { c.observe("discard", start, err) }()
	defer func() {
		if err == nil {
			c.events.Discarded(res)
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

	p, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsOpen() {
		return nil, errors.NewInvalidStateError(p.ID, string(p.Status), "discard")
	}

	open, err := c.openProposals(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	remaining := without(open, p.ID)

	now := c.stamp()
	p.Status = proposal.StatusDiscarded
	p.UpdatedAt = now
	p.ResolvedAt = &now

	// Canonical state did not move; only conflict sets can change.
	transitions, changed, err := c.refresh(ctx, p.ProjectID, remaining, []entity.Ref{})
	if err != nil {
		return nil, err
	}
	if err := c.repo.Save(ctx, append([]*proposal.Proposal{p}, changed...)...); err != nil {
		return nil, errors.WrapStore("save", p.ID, err)
	}
	c.metrics.OpenProposals(p.ProjectID, len(remaining))

	c.log(ctx).Info().
		Str("proposal_id", p.ID).
		Str("project_id", p.ProjectID).
		Bool("was_stale", p.IsStale()).
		Bool("had_conflicts", p.HasConflicts).
		Msg("Proposal discarded")

	return &DiscardResult{Proposal: p.Clone(), Transitions: transitions}, nil
}
