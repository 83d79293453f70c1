// Package repository stores proposals with their changes and evidence.
// Reads and writes copy proposals, so callers never share memory with the
// stored records. Terminal proposals are immutable.
package repository

import (
	"context"
	"slices"

	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Repository is implemented by the memory and SQLite backends.
type Repository interface {
	// Create stores a new proposal. Ids must be unique.
	Create(ctx context.Context, p *proposal.Proposal) error
	Get(ctx context.Context, id string) (*proposal.Proposal, error)
	// List returns a project's proposals in queue order, optionally
	// filtered by status.
	List(ctx context.Context, projectID string, statuses ...proposal.Status) ([]*proposal.Proposal, error)
	// Save replaces existing proposals atomically. Saving over a terminal
	// proposal fails with InvalidState.
	Save(ctx context.Context, ps ...*proposal.Proposal) error
	// Restore writes ps back atomically even over terminal proposals. It
	// undoes a resolution whose follow-up writes failed.
	Restore(ctx context.Context, ps ...*proposal.Proposal) error
}

func wanted(statuses []proposal.Status, s proposal.Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}

func queueOrder(a, b *proposal.Proposal) int {
	switch {
	case proposal.Queued(a, b):
		return -1
	case proposal.Queued(b, a):
		return 1
	}
	return 0
}

func frozen(stored *proposal.Proposal) error {
	if stored.Status.IsTerminal() {
		return errors.NewInvalidStateError(stored.ID, string(stored.Status), "modify")
	}
	return nil
}

func duplicate(id string) error {
	return errors.NewValidationError("id", id, "proposal already exists")
}

func notFound(id string) error {
	return errors.NewNotFoundError("proposal", id)
}

func alive(ctx context.Context, op, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreUnavailableError(op, id, err)
	}
	return nil
}
