package proposal

import (
	"fmt"
	"strings"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
)

// Validate checks the structural rules a proposal must satisfy on submission:
// declared counts match the changes, confidences lie in [0,1], each change
// has the shape its operation requires, proposed states pass their entity
// rules, and supplied before hashes match their snapshots.
func (p *Proposal) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return errors.NewValidationError("project_id", p.ProjectID, "is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.NewValidationError("title", p.Title, "is required")
	}
	if len(p.Changes) == 0 {
		return errors.NewValidationError("changes", nil, "at least one change is required")
	}
	if p.OverallConfidence < 0 || p.OverallConfidence > 1 {
		return errors.NewValidationError("overall_confidence", p.OverallConfidence, "must be within [0,1]")
	}

	creates, updates, deletes := p.Counts()
	if creates != p.CreatesCount || updates != p.UpdatesCount || deletes != p.DeletesCount {
		return errors.NewValidationError("counts", nil, fmt.Sprintf(
			"declared %d/%d/%d creates/updates/deletes, changes contain %d/%d/%d",
			p.CreatesCount, p.UpdatesCount, p.DeletesCount, creates, updates, deletes))
	}

	seen := map[entity.Ref]int{}
	for i := range p.Changes {
		c := &p.Changes[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
		if !c.Operation.Touches() {
			continue
		}
		if j, dup := seen[c.Ref()]; dup {
			return errors.NewValidationError(fmt.Sprintf("changes[%d]", i), c.Ref().String(),
				fmt.Sprintf("entity already targeted by changes[%d]", j))
		}
		seen[c.Ref()] = i
	}
	return nil
}

// Validate checks a single change's shape for its operation.
func (c *Change) Validate() error {
	if !c.EntityType.Valid() {
		return errors.NewValidationError("entity_type", c.EntityType, "unknown entity kind")
	}

	switch c.Operation {
	case OpCreate:
		if c.EntityID != "" {
			return errors.NewValidationError("entity_id", c.EntityID, "must be absent for create")
		}
		if c.Before != nil || c.BeforeHash != "" {
			return errors.NewValidationError("before", nil, "must be absent for create")
		}
		if c.After == nil {
			return errors.NewValidationError("after", nil, "is required for create")
		}
	case OpUpdate, OpDelete:
		if strings.TrimSpace(c.EntityID) == "" {
			return errors.NewValidationError("entity_id", c.EntityID, "is required for "+string(c.Operation))
		}
		if c.Before == nil {
			return errors.NewValidationError("before", nil, "is required for "+string(c.Operation))
		}
		if c.Operation == OpUpdate && c.After == nil {
			return errors.NewValidationError("after", nil, "is required for update")
		}
		if c.Operation == OpDelete && c.After != nil {
			return errors.NewValidationError("after", nil, "must be absent for delete")
		}
	default:
		return errors.NewValidationError("operation", c.Operation, "must be create, update, or delete")
	}

	for _, e := range []entity.Entity{c.Before, c.After} {
		if e != nil && e.Kind() != c.EntityType {
			return errors.NewValidationError("entity_type", e.Kind(),
				fmt.Sprintf("state kind does not match %s", c.EntityType))
		}
	}
	if c.After != nil {
		if err := c.After.Validate(); err != nil {
			return fmt.Errorf("after: %w", err)
		}
	}
	if c.Before != nil {
		h, err := entity.Hash(c.Before)
		if err != nil {
			return errors.NewValidationError("before", nil, err.Error())
		}
		if c.BeforeHash != "" && c.BeforeHash != h {
			return errors.NewValidationError("before_hash", c.BeforeHash, "does not match the before snapshot")
		}
	}

	for i, ev := range c.Evidence {
		if strings.TrimSpace(ev.ChunkID) == "" {
			return errors.NewValidationError(fmt.Sprintf("evidence[%d].chunk_id", i), ev.ChunkID, "is required")
		}
		if ev.Confidence != nil && (*ev.Confidence < 0 || *ev.Confidence > 1) {
			return errors.NewValidationError(fmt.Sprintf("evidence[%d].confidence", i), *ev.Confidence, "must be within [0,1]")
		}
	}
	return nil
}

// Normalize fills derived fields: missing before hashes and empty slices.
// Call it after Validate.
func (p *Proposal) Normalize() {
	for i := range p.Changes {
		c := &p.Changes[i]
		if c.Before != nil && c.BeforeHash == "" {
			c.BeforeHash = entity.MustHash(c.Before)
		}
		if c.Evidence == nil {
			c.Evidence = []Evidence{}
		}
	}
	if p.ConflictingProposalIDs == nil {
		p.ConflictingProposalIDs = []string{}
	}
	if p.Contradictions == nil {
		p.Contradictions = []Contradiction{}
	}
}
