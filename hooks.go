package ratify

import (
	"sync"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/reconcile"
	"github.com/agentstation/ratify/pkg/staleness"
)

// Hook function types for engine events.
type (
	// SubmittedHook is called after a proposal is accepted.
	SubmittedHook func(p *proposal.Proposal)

	// PreviewedHook is called after a proposal is marked previewed.
	PreviewedHook func(p *proposal.Proposal)

	// AppliedHook is called after a proposal's changes are committed.
	AppliedHook func(res *reconcile.ApplyResult)

	// DiscardedHook is called after a proposal is discarded.
	DiscardedHook func(p *proposal.Proposal)

	// TransitionHook is called for every open proposal whose staleness,
	// conflicts or contradictions moved.
	TransitionHook func(projectID string, t staleness.Transition)

	// EntityChangedHook is called for every canonical write, whether it came
	// from an apply or a direct edit.
	EntityChangedHook func(op proposal.Operation, rec *knowledge.Record)
)

// hooks fans coordinator events out to registered callbacks. Callbacks run
// synchronously after the project lock is released.
type hooks struct {
	mu              sync.RWMutex
	onSubmitted     []SubmittedHook
	onPreviewed     []PreviewedHook
	onApplied       []AppliedHook
	onDiscarded     []DiscardedHook
	onTransition    []TransitionHook
	onEntityChanged []EntityChangedHook
}

func newHooks() *hooks {
	return &hooks{}
}

// OnSubmitted registers a callback for accepted proposals.
func (h *hooks) OnSubmitted(fn SubmittedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSubmitted = append(h.onSubmitted, fn)
}

// OnPreviewed registers a callback for previewed proposals.
func (h *hooks) OnPreviewed(fn PreviewedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPreviewed = append(h.onPreviewed, fn)
}

// OnApplied registers a callback for applied proposals.
func (h *hooks) OnApplied(fn AppliedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onApplied = append(h.onApplied, fn)
}

// OnDiscarded registers a callback for discarded proposals.
func (h *hooks) OnDiscarded(fn DiscardedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDiscarded = append(h.onDiscarded, fn)
}

// OnTransition registers a callback for derived state transitions.
func (h *hooks) OnTransition(fn TransitionHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTransition = append(h.onTransition, fn)
}

// OnEntityChanged registers a callback for canonical writes.
func (h *hooks) OnEntityChanged(fn EntityChangedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEntityChanged = append(h.onEntityChanged, fn)
}

// The methods below implement reconcile.Observer.

func (h *hooks) Submitted(res *reconcile.SubmitResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onSubmitted {
		fn(res.Proposal)
	}
	h.transitions(res.Proposal.ProjectID, res.Transitions)
}

func (h *hooks) Previewed(res *reconcile.PreviewResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onPreviewed {
		fn(res.Proposal)
	}
	h.transitions(res.Proposal.ProjectID, res.Transitions)
}

func (h *hooks) Applied(res *reconcile.ApplyResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i, rec := range res.Records {
		for _, fn := range h.onEntityChanged {
			fn(res.Proposal.Changes[i].Operation, rec)
		}
	}
	for _, fn := range h.onApplied {
		fn(res)
	}
	h.transitions(res.Proposal.ProjectID, res.Transitions)
}

func (h *hooks) Discarded(res *reconcile.DiscardResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onDiscarded {
		fn(res.Proposal)
	}
	h.transitions(res.Proposal.ProjectID, res.Transitions)
}

func (h *hooks) Edited(res *reconcile.EditResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onEntityChanged {
		fn(res.Operation, res.Record)
	}
	h.transitions(res.Record.ProjectID, res.Transitions)
}

// transitions must be called with h.mu held.
func (h *hooks) transitions(projectID string, ts []staleness.Transition) {
	for _, t := range ts {
		for _, fn := range h.onTransition {
			fn(projectID, t)
		}
	}
}
