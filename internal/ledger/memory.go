package ledger

import (
	"context"
	"sync"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/errors"
)

// Memory is an in-memory Ledger.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	keys    map[string]bool
	now     func() utc.Time
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{keys: map[string]bool{}, now: utc.Now}
}

var _ Ledger = (*Memory)(nil)

// Append records entries atomically.
func (m *Memory) Append(ctx context.Context, entries ...Entry) error {
	if err := check(ctx, entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for i := range entries {
		if m.keys[entries[i].Key()] {
			continue
		}
		e := entries[i].clone()
		e.Seq = int64(len(m.entries)) + 1
		e.RecordedAt = now
		m.entries = append(m.entries, e)
		m.keys[e.Key()] = true
	}
	return nil
}

// List returns matching entries in append order.
func (m *Memory) List(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("list", "", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for i := range m.entries {
		if q.matches(&m.entries[i]) {
			out = append(out, m.entries[i].clone())
		}
	}
	return out, nil
}
