package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Memory is an in-memory Repository.
type Memory struct {
	mu        sync.RWMutex
	proposals map[string]*proposal.Proposal
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{proposals: map[string]*proposal.Proposal{}}
}

var _ Repository = (*Memory)(nil)

// Create stores a copy of p.
func (m *Memory) Create(ctx context.Context, p *proposal.Proposal) error {
	if err := alive(ctx, "create", p.ID); err != nil {
		return err
	}
	if p.ID == "" {
		return errors.NewValidationError("id", "", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[p.ID]; ok {
		return duplicate(p.ID)
	}
	m.proposals[p.ID] = p.Clone()
	return nil
}

// Get returns a copy of the proposal.
func (m *Memory) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	if err := alive(ctx, "get", id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, notFound(id)
	}
	return p.Clone(), nil
}

// List returns copies in queue order.
func (m *Memory) List(ctx context.Context, projectID string, statuses ...proposal.Status) ([]*proposal.Proposal, error) {
	if err := alive(ctx, "list", projectID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*proposal.Proposal{}
	for _, p := range m.proposals {
		if p.ProjectID == projectID && wanted(statuses, p.Status) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, queueOrder)
	return out, nil
}

// Save replaces all of ps or none of them.
func (m *Memory) Save(ctx context.Context, ps ...*proposal.Proposal) error {
	if err := alive(ctx, "save", ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		stored, ok := m.proposals[p.ID]
		if !ok {
			return notFound(p.ID)
		}
		if err := frozen(stored); err != nil {
			return err
		}
	}
	for _, p := range ps {
		m.proposals[p.ID] = p.Clone()
	}
	return nil
}

// Restore replaces all of ps or none of them, ignoring terminal status.
func (m *Memory) Restore(ctx context.Context, ps ...*proposal.Proposal) error {
	if err := alive(ctx, "restore", ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		if _, ok := m.proposals[p.ID]; !ok {
			return notFound(p.ID)
		}
	}
	for _, p := range ps {
		m.proposals[p.ID] = p.Clone()
	}
	return nil
}
