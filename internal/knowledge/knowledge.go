// Package knowledge is the canonical per-project entity store. It is the
// only writer of canonical state. Every record carries a version (a
// per-project revision number that never repeats) and the entity.Hash of
// its state.
package knowledge

import (
	"context"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Record is one canonical entity.
type Record struct {
	ProjectID string        `json:"project_id"`
	Ref       entity.Ref    `json:"ref"`
	Entity    entity.Entity `json:"data"`
	Hash      string        `json:"hash"`
	Version   int64         `json:"version"`
	UpdatedAt utc.Time      `json:"updated_at"`
}

// State returns the versioned state used by detection.
func (r *Record) State() entity.State {
	return entity.State{Entity: r.Entity, Hash: r.Hash, Version: r.Version}
}

func (r *Record) clone() *Record {
	c := *r
	c.Entity = entity.Clone(r.Entity)
	return &c
}

// Mutation is a single canonical write.
type Mutation struct {
	Op proposal.Operation
	// Ref targets the entity. A create with an empty ID gets a generated one;
	// a create with an ID restores that id.
	Ref entity.Ref
	// After is the new state for create and update.
	After entity.Entity
}

// Store is implemented by the memory and SQLite backends.
//
// CommitAll applies a list of mutations as one unit: either every mutation
// is committed or none is, and no reader observes a prefix.
type Store interface {
	Get(ctx context.Context, projectID string, ref entity.Ref) (*Record, error)
	Commit(ctx context.Context, projectID string, m Mutation) (*Record, error)
	CommitAll(ctx context.Context, projectID string, ms []Mutation) ([]*Record, error)
	List(ctx context.Context, projectID string, kind entity.Kind) ([]*Record, error)
}

// NewID generates an entity id for a create.
func NewID() string {
	return uuid.NewString()
}

// validate checks a mutation before it reaches a backend.
func validate(m Mutation) error {
	if !m.Ref.Kind.Valid() {
		return errors.NewValidationError("entity_type", m.Ref.Kind, "unknown entity kind")
	}
	switch m.Op {
	case proposal.OpCreate, proposal.OpUpdate:
		if m.After == nil {
			return errors.NewValidationError("after", nil, "is required for "+string(m.Op))
		}
		if m.After.Kind() != m.Ref.Kind {
			return errors.NewValidationError("after", m.After.Kind(), "kind does not match "+string(m.Ref.Kind))
		}
		if err := m.After.Validate(); err != nil {
			return err
		}
	case proposal.OpDelete:
	default:
		return errors.NewValidationError("operation", m.Op, "must be create, update, or delete")
	}
	if m.Op != proposal.OpCreate && m.Ref.ID == "" {
		return errors.NewValidationError("entity_id", "", "is required for "+string(m.Op))
	}
	return nil
}

// alive converts a done context into StoreUnavailable.
func alive(ctx context.Context, op string, ref entity.Ref) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreUnavailableError(op, ref.String(), err)
	}
	return nil
}

func notFound(ref entity.Ref) error {
	return errors.NewNotFoundError("entity", ref.String())
}
