package knowledge

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Memory is an in-memory Store. Records are copied on the way in and out.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*memProject
	now      func() utc.Time
}

type memProject struct {
	seq     int64
	records map[entity.Ref]*Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{projects: map[string]*memProject{}, now: utc.Now}
}

var _ Store = (*Memory)(nil)

// Get returns the record for ref or NotFound.
func (m *Memory) Get(ctx context.Context, projectID string, ref entity.Ref) (*Record, error) {
	if err := alive(ctx, "get", ref); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.projects[projectID]; ok {
		if r, ok := p.records[ref]; ok {
			return r.clone(), nil
		}
	}
	return nil, notFound(ref)
}

// Commit applies one mutation. For deletes the returned record is the
// removed state.
func (m *Memory) Commit(ctx context.Context, projectID string, mut Mutation) (*Record, error) {
	recs, err := m.CommitAll(ctx, projectID, []Mutation{mut})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// CommitAll applies muts in order against a staged copy of the project and
// publishes it only when every mutation succeeded. Readers see either none
// or all of the writes.
func (m *Memory) CommitAll(ctx context.Context, projectID string, muts []Mutation) ([]*Record, error) {
	for _, mut := range muts {
		if err := validate(mut); err != nil {
			return nil, err
		}
	}
	if len(muts) == 0 {
		return []*Record{}, nil
	}
	if err := alive(ctx, "commit", muts[0].Ref); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &memProject{records: map[entity.Ref]*Record{}}
	if p, ok := m.projects[projectID]; ok {
		staged.seq = p.seq
		staged.records = maps.Clone(p.records)
	}

	out := make([]*Record, 0, len(muts))
	for _, mut := range muts {
		rec, err := m.stage(staged, projectID, mut)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	m.projects[projectID] = staged
	return out, nil
}

// stage applies one mutation to p. Stored records are replaced, never
// modified, so the published map is unaffected until p is swapped in.
func (m *Memory) stage(p *memProject, projectID string, mut Mutation) (*Record, error) {
	ref := mut.Ref
	if mut.Op == proposal.OpCreate && ref.ID == "" {
		ref.ID = NewID()
	}
	existing, exists := p.records[ref]

	switch mut.Op {
	case proposal.OpCreate:
		if exists {
			return nil, errors.NewValidationError("entity_id", ref.ID, "already exists")
		}
	case proposal.OpUpdate, proposal.OpDelete:
		if !exists {
			return nil, notFound(ref)
		}
	}

	if mut.Op == proposal.OpDelete {
		delete(p.records, ref)
		p.seq++
		gone := existing.clone()
		gone.Version = p.seq
		gone.UpdatedAt = m.now()
		return gone, nil
	}

	hash, err := entity.Hash(mut.After)
	if err != nil {
		return nil, errors.NewValidationError("after", nil, err.Error())
	}
	p.seq++
	rec := &Record{
		ProjectID: projectID,
		Ref:       ref,
		Entity:    entity.Clone(mut.After),
		Hash:      hash,
		Version:   p.seq,
		UpdatedAt: m.now(),
	}
	p.records[ref] = rec
	return rec.clone(), nil
}

// List returns the project's records of kind, or all kinds when kind is
// empty, ordered by ref.
func (m *Memory) List(ctx context.Context, projectID string, kind entity.Kind) ([]*Record, error) {
	if err := alive(ctx, "list", entity.Ref{Kind: kind}); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Record{}
	if p, ok := m.projects[projectID]; ok {
		for ref, r := range p.records {
			if kind == "" || ref.Kind == kind {
				out = append(out, r.clone())
			}
		}
	}
	slices.SortFunc(out, func(a, b *Record) int { return entity.CompareRefs(a.Ref, b.Ref) })
	return out, nil
}
