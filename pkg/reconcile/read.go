package reconcile

import (
	"context"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/pkg/detect"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Get returns a proposal by id.
func (c *Coordinator) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	return c.repo.Get(ctx, id)
}

// List returns a project's proposals in queue order, optionally filtered by
// status.
func (c *Coordinator) List(ctx context.Context, projectID string, statuses ...proposal.Status) ([]*proposal.Proposal, error) {
	ps, err := c.repo.List(ctx, projectID, statuses...)
	if err != nil {
		return nil, errors.WrapStore("list", projectID, err)
	}
	return ps, nil
}

// Eligible returns the open proposals that would pass apply gating right
// now: not stale and with no conflicting proposal queued ahead of them.
// The result is in queue order.
func (c *Coordinator) Eligible(ctx context.Context, projectID string) ([]*proposal.Proposal, error) {
	open, err := c.openProposals(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := []*proposal.Proposal{}
	for _, p := range open {
		if p.IsStale() || len(detect.Blocking(p, open)) > 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Detect computes a proposal's contradictions against live state without
// storing them.
func (c *Coordinator) Detect(ctx context.Context, id string) ([]proposal.Contradiction, error) {
	p, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := c.snapshot(ctx, p.ProjectID, p.Refs())
	if err != nil {
		return nil, err
	}
	cs := detect.Contradictions(p, snap)
	if cs == nil {
		cs = []proposal.Contradiction{}
	}
	return cs, nil
}

// Entities lists canonical entities of a project. An empty kind lists all.
func (c *Coordinator) Entities(ctx context.Context, projectID string, kind entity.Kind) ([]*knowledge.Record, error) {
	recs, err := c.store.List(ctx, projectID, kind)
	if err != nil {
		return nil, errors.WrapStore("list", projectID, err)
	}
	return recs, nil
}

// Entity returns one canonical entity.
func (c *Coordinator) Entity(ctx context.Context, projectID string, ref entity.Ref) (*knowledge.Record, error) {
	rec, err := c.store.Get(ctx, projectID, ref)
	if err != nil {
		return nil, errors.WrapStore("get", ref.String(), err)
	}
	return rec, nil
}

// Evidence queries the evidence ledger.
func (c *Coordinator) Evidence(ctx context.Context, q ledger.Query) ([]ledger.Entry, error) {
	entries, err := c.ledger.List(ctx, q)
	if err != nil {
		return nil, errors.WrapStore("evidence", q.ProposalID, err)
	}
	return entries, nil
}
