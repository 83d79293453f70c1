package proposal

import (
	"encoding/json"
	"fmt"

	"github.com/agentstation/ratify/pkg/entity"
)

// Change is one create, update, or delete of a single entity.
type Change struct {
	EntityType entity.Kind
	Operation  Operation
	// EntityID is empty for creates until the store assigns one on apply.
	EntityID string
	// Before is the state captured at generation time (update and delete).
	Before entity.Entity
	// BeforeHash is entity.Hash(Before).
	BeforeHash string
	// After is the proposed state (create and update).
	After     entity.Entity
	Evidence  []Evidence
	Rationale string
}

// Ref returns the target entity reference.
func (c *Change) Ref() entity.Ref {
	return entity.Ref{Kind: c.EntityType, ID: c.EntityID}
}

// Diff returns the field changes between Before and After.
func (c *Change) Diff() []entity.FieldChange {
	return entity.Diff(c.Before, c.After)
}

// Clone returns a deep copy.
func (c Change) Clone() Change {
	c.Before = entity.Clone(c.Before)
	c.After = entity.Clone(c.After)
	c.Evidence = CloneEvidence(c.Evidence)
	return c
}

type changeJSON struct {
	EntityType entity.Kind          `json:"entity_type"`
	Operation  Operation            `json:"operation"`
	EntityID   string               `json:"entity_id,omitempty"`
	Before     json.RawMessage      `json:"before,omitempty"`
	BeforeHash string               `json:"before_hash,omitempty"`
	After      json.RawMessage      `json:"after,omitempty"`
	Diff       []entity.FieldChange `json:"diff,omitempty"`
	Evidence   []Evidence           `json:"evidence"`
	Rationale  string               `json:"rationale,omitempty"`
}

// MarshalJSON encodes the change with its typed diff for display.
func (c Change) MarshalJSON() ([]byte, error) {
	out := changeJSON{
		EntityType: c.EntityType,
		Operation:  c.Operation,
		EntityID:   c.EntityID,
		BeforeHash: c.BeforeHash,
		Diff:       c.Diff(),
		Evidence:   c.Evidence,
		Rationale:  c.Rationale,
	}
	if out.Evidence == nil {
		out.Evidence = []Evidence{}
	}
	var err error
	if c.Before != nil {
		if out.Before, err = entity.Encode(c.Before); err != nil {
			return nil, err
		}
	}
	if c.After != nil {
		if out.After, err = entity.Encode(c.After); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes before and after as the declared entity type.
// A supplied diff is ignored; it is always derived.
func (c *Change) UnmarshalJSON(data []byte) error {
	var in changeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Change{
		EntityType: in.EntityType,
		Operation:  in.Operation,
		EntityID:   in.EntityID,
		BeforeHash: in.BeforeHash,
		Evidence:   in.Evidence,
		Rationale:  in.Rationale,
	}
	var err error
	if present(in.Before) {
		if c.Before, err = entity.Decode(in.EntityType, in.Before); err != nil {
			return fmt.Errorf("before: %w", err)
		}
	}
	if present(in.After) {
		if c.After, err = entity.Decode(in.EntityType, in.After); err != nil {
			return fmt.Errorf("after: %w", err)
		}
	}
	return nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
