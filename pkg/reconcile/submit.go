package reconcile

import (
	"context"
	"time"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/staleness"
)

// SubmitResult describes an accepted proposal.
type SubmitResult struct {
	Proposal    *proposal.Proposal     `json:"proposal"`
	Transitions []staleness.Transition `json:"transitions"`
}

// Submit validates and stores a new pending proposal. Its staleness,
// conflicts and contradictions are computed against live state before it
// is stored, and overlapping open proposals get their conflict sets
// extended. The caller's value is not modified.
func (c *Coordinator) Submit(ctx context.Context, in *proposal.Proposal) (res *SubmitResult, err error) {
	start := time.Now()
	defer func() { c.observe("submit", start, err) }()
	defer func() {
		if err == nil {
			c.events.Submitted(res)
		}
	}()

	if in == nil {
		return nil, errors.NewValidationError("proposal", nil, "is required")
	}
	p := in.Clone()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Normalize()
	if p.ID == "" {
		p.ID = c.newID()
	}
	now := c.stamp()
	p.Status = proposal.StatusPending
	p.StaleReason = nil
	p.HasConflicts = false
	p.ConflictingProposalIDs = []string{}
	p.Contradictions = []proposal.Contradiction{}
	p.CreatedAt = now
	p.UpdatedAt = now
	p.PreviewedAt = nil
	p.ResolvedAt = nil

	release, err := c.lock(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	defer release()

	open, err := c.openProposals(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	open = append(open, p)

	transitions, changed, err := c.refresh(ctx, p.ProjectID, open, p.Refs())
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = now
	if err := c.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	if others := without(changed, p.ID); len(others) > 0 {
		if err := c.repo.Save(ctx, others...); err != nil {
			return nil, errors.WrapStore("save", p.ID, err)
		}
	}
	c.metrics.OpenProposals(p.ProjectID, len(open))

	c.log(ctx).Info().
		Str("proposal_id", p.ID).
		Str("project_id", p.ProjectID).
		Int("changes", len(p.Changes)).
		Bool("stale", p.IsStale()).
		Strs("conflicts", p.ConflictingProposalIDs).
		Msg("Proposal submitted")

	return &SubmitResult{Proposal: p.Clone(), Transitions: transitions}, nil
}

// ChangePreview is one change rendered against live canonical state.
type ChangePreview struct {
	Index     int                  `json:"index"`
	Ref       entity.Ref           `json:"ref"`
	Operation proposal.Operation   `json:"operation"`
	Exists    bool                 `json:"exists"`
	Version   int64                `json:"version,omitempty"`
	Diff      []entity.FieldChange `json:"diff"`
}

// PreviewResult pairs a previewed proposal with its live diffs.
type PreviewResult struct {
	Proposal    *proposal.Proposal     `json:"proposal"`
	Changes     []ChangePreview        `json:"changes"`
	Transitions []staleness.Transition `json:"transitions"`
}

// Preview refreshes a proposal against live state, marks it previewed, and
// returns what applying it would change right now. Previewing never writes
// canonical state.
func (c *Coordinator) Preview(ctx context.Context, id string) (res *PreviewResult, err error) {
	start := time.Now()
	defer func() { c.observe("preview", start, err) }()
	defer func() {
		if err == nil {
			c.events.Previewed(res)
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
		return nil, errors.NewInvalidStateError(p.ID, string(p.Status), "preview")
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
	transitions, changed, err := c.refresh(ctx, p.ProjectID, open, p.Refs())
	if err != nil {
		return nil, err
	}

	now := c.stamp()
	p.Status = proposal.StatusPreviewed
	p.PreviewedAt = &now
	p.UpdatedAt = now
	if err := c.repo.Save(ctx, append([]*proposal.Proposal{p}, without(changed, p.ID)...)...); err != nil {
		return nil, errors.WrapStore("save", p.ID, err)
	}

	snap, err := c.snapshot(ctx, p.ProjectID, p.Refs())
	if err != nil {
		return nil, err
	}
	changes := make([]ChangePreview, len(p.Changes))
	for i := range p.Changes {
		ch := &p.Changes[i]
		cp := ChangePreview{Index: i, Ref: ch.Ref(), Operation: ch.Operation}
		var current entity.Entity
		if st, ok := snap.Lookup(ch.Ref()); ok && ch.Operation.Touches() {
			cp.Exists = true
			cp.Version = st.Version
			current = st.Entity
		}
		cp.Diff = entity.Diff(current, ch.After)
		if cp.Diff == nil {
			cp.Diff = []entity.FieldChange{}
		}
		changes[i] = cp
	}

	return &PreviewResult{Proposal: p.Clone(), Changes: changes, Transitions: transitions}, nil
}

// EditResult describes a direct canonical write.
type EditResult struct {
	Operation   proposal.Operation     `json:"operation"`
	Record      *knowledge.Record      `json:"record"`
	Transitions []staleness.Transition `json:"transitions"`
}

// Edit writes canonical state directly, outside any proposal, the way a
// human editor would. Open proposals that captured the edited entity become
// stale. No ledger entry is written.
func (c *Coordinator) Edit(ctx context.Context, projectID string, m knowledge.Mutation) (res *EditResult, err error) {
	start := time.Now()
	defer func() { c.observe("edit", start, err) }()
	defer func() {
		if err == nil {
			c.events.Edited(res)
		}
	}()

	release, err := c.lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	cctx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	rec, err := c.store.Commit(cctx, projectID, m)
	cancel()
	if err != nil {
		return nil, errors.WrapStore("commit", m.Ref.String(), err)
	}

	open, err := c.openProposals(ctx, projectID)
	if err != nil {
		return nil, err
	}
	transitions, changed, err := c.refresh(ctx, projectID, open, []entity.Ref{rec.Ref})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		if err := c.repo.Save(ctx, changed...); err != nil {
			return nil, errors.WrapStore("save", rec.Ref.String(), err)
		}
	}

	c.log(ctx).Info().
		Str("project_id", projectID).
		Str("entity", rec.Ref.String()).
		Str("operation", string(m.Op)).
		Int64("version", rec.Version).
		Int("transitions", len(transitions)).
		Msg("Entity edited")

	return &EditResult{Operation: m.Op, Record: rec, Transitions: transitions}, nil
}
