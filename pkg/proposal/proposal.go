// Package proposal defines proposals, their changes and evidence, and the
// lifecycle rules that govern them.
package proposal

import (
	"fmt"
	"slices"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/entity"
)

// Status is a proposal lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusPending   Status = "pending"
	StatusPreviewed Status = "previewed"
	StatusApplied   Status = "applied"
	StatusDiscarded Status = "discarded"
)

// Statuses returns all lifecycle states in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusPreviewed, StatusApplied, StatusDiscarded}
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !slices.Contains(Statuses(), st) {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApplied || s == StatusDiscarded
}

// IsOpen reports whether the proposal still participates in detection.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusPreviewed
}

// Operation is the kind of mutation a change performs.
type Operation string

// Operations.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Touches reports whether the operation targets an existing entity.
func (o Operation) Touches() bool {
	return o == OpUpdate || o == OpDelete
}

// Severity grades a contradiction.
type Severity string

// Severities, most severe first.
const (
	SeverityCritical  Severity = "critical"
	SeverityImportant Severity = "important"
	SeverityMinor     Severity = "minor"
)

// Evidence is a source excerpt supporting a change. Every change owns its
// evidence; copies are made whenever it crosses a boundary.
type Evidence struct {
	ChunkID    string   `json:"chunk_id" yaml:"chunk_id"`
	Excerpt    string   `json:"excerpt" yaml:"excerpt"`
	Rationale  string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Clone returns a deep copy.
func (e Evidence) Clone() Evidence {
	if e.Confidence != nil {
		c := *e.Confidence
		e.Confidence = &c
	}
	return e
}

// CloneEvidence deep-copies an evidence list.
func CloneEvidence(in []Evidence) []Evidence {
	if in == nil {
		return nil
	}
	out := make([]Evidence, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// Contradiction is a field of a live entity that moved in a way a change
// neither anticipated nor matches.
type Contradiction struct {
	Description          string            `json:"description"`
	Severity             Severity          `json:"severity"`
	EntityType           entity.Kind       `json:"entity_type"`
	EntityID             string            `json:"entity_id"`
	EntityName           string            `json:"entity_name"`
	FieldName            string            `json:"field_name,omitempty"`
	FieldClass           entity.FieldClass `json:"field_class,omitempty"`
	ProposedValue        string            `json:"proposed_value,omitempty"`
	ExistingValue        string            `json:"existing_value,omitempty"`
	ResolutionSuggestion string            `json:"resolution_suggestion,omitempty"`
}

// Proposal is an atomic-at-apply bundle of changes.
type Proposal struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"proposal_type"`
	Generator   string `json:"generator,omitempty"`
	Status      Status `json:"status"`

	CreatesCount      int     `json:"creates_count"`
	UpdatesCount      int     `json:"updates_count"`
	DeletesCount      int     `json:"deletes_count"`
	OverallConfidence float64 `json:"overall_confidence"`

	StaleReason            *string         `json:"stale_reason"`
	HasConflicts           bool            `json:"has_conflicts"`
	ConflictingProposalIDs []string        `json:"conflicting_proposal_ids"`
	Contradictions         []Contradiction `json:"contradictions"`

	Changes []Change `json:"changes"`

	CreatedAt   utc.Time  `json:"created_at"`
	UpdatedAt   utc.Time  `json:"updated_at"`
	PreviewedAt *utc.Time `json:"previewed_at,omitempty"`
	ResolvedAt  *utc.Time `json:"resolved_at,omitempty"`
}

// IsStale reports whether a stale reason has been recorded.
func (p *Proposal) IsStale() bool {
	return p.StaleReason != nil
}

// Counts derives create/update/delete counts from the changes.
func (p *Proposal) Counts() (creates, updates, deletes int) {
	for _, c := range p.Changes {
		switch c.Operation {
		case OpCreate:
			creates++
		case OpUpdate:
			updates++
		case OpDelete:
			deletes++
		}
	}
	return creates, updates, deletes
}

// Refs returns the distinct existing entities the proposal updates or deletes.
func (p *Proposal) Refs() []entity.Ref {
	refs := []entity.Ref{}
	for _, c := range p.Changes {
		if !c.Operation.Touches() {
			continue
		}
		r := c.Ref()
		if !slices.Contains(refs, r) {
			refs = append(refs, r)
		}
	}
	slices.SortFunc(refs, entity.CompareRefs)
	return refs
}

// References reports whether any update/delete change targets ref.
func (p *Proposal) References(ref entity.Ref) bool {
	for _, c := range p.Changes {
		if c.Operation.Touches() && c.Ref() == ref {
			return true
		}
	}
	return false
}

// MarkStale records reason unless one is already set. Staleness never clears
// while the proposal is open. It reports whether the proposal changed.
func (p *Proposal) MarkStale(reason string) bool {
	if p.StaleReason != nil || reason == "" {
		return false
	}
	p.StaleReason = &reason
	return true
}

// SetConflicts replaces the conflict set. It reports whether it changed.
func (p *Proposal) SetConflicts(ids []string) bool {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	if ids == nil {
		ids = []string{}
	}
	changed := !slices.Equal(ids, p.ConflictingProposalIDs)
	p.ConflictingProposalIDs = ids
	p.HasConflicts = len(ids) > 0
	return changed
}

// SetContradictions replaces the cached contradictions. It reports whether
// they changed.
func (p *Proposal) SetContradictions(cs []Contradiction) bool {
	if cs == nil {
		cs = []Contradiction{}
	}
	changed := !slices.Equal(cs, p.Contradictions)
	p.Contradictions = cs
	return changed
}

// Clone returns a deep copy sharing no memory with p.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	if p.StaleReason != nil {
		r := *p.StaleReason
		c.StaleReason = &r
	}
	if p.PreviewedAt != nil {
		t := *p.PreviewedAt
		c.PreviewedAt = &t
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		c.ResolvedAt = &t
	}
	c.ConflictingProposalIDs = slices.Clone(p.ConflictingProposalIDs)
	c.Contradictions = slices.Clone(p.Contradictions)
	if p.Changes != nil {
		c.Changes = make([]Change, len(p.Changes))
		for i, ch := range p.Changes {
			c.Changes[i] = ch.Clone()
		}
	}
	return &c
}

// Summary is a compact listing view.
type Summary struct {
	ID                     string   `json:"id"`
	ProjectID              string   `json:"project_id"`
	Title                  string   `json:"title"`
	Type                   string   `json:"proposal_type"`
	Status                 Status   `json:"status"`
	CreatesCount           int      `json:"creates_count"`
	UpdatesCount           int      `json:"updates_count"`
	DeletesCount           int      `json:"deletes_count"`
	OverallConfidence      float64  `json:"overall_confidence"`
	StaleReason            *string  `json:"stale_reason"`
	HasConflicts           bool     `json:"has_conflicts"`
	ConflictingProposalIDs []string `json:"conflicting_proposal_ids"`
	Contradictions         int      `json:"contradictions"`
	CreatedAt              utc.Time `json:"created_at"`
}

// Summarize builds the listing view of p.
func (p *Proposal) Summarize() Summary {
	return Summary{
		ID:                     p.ID,
		ProjectID:              p.ProjectID,
		Title:                  p.Title,
		Type:                   p.Type,
		Status:                 p.Status,
		CreatesCount:           p.CreatesCount,
		UpdatesCount:           p.UpdatesCount,
		DeletesCount:           p.DeletesCount,
		OverallConfidence:      p.OverallConfidence,
		StaleReason:            p.StaleReason,
		HasConflicts:           p.HasConflicts,
		ConflictingProposalIDs: slices.Clone(p.ConflictingProposalIDs),
		Contradictions:         len(p.Contradictions),
		CreatedAt:              p.CreatedAt,
	}
}

// Queued reports whether a was submitted before b. Ties on CreatedAt are
// broken by id so the order is total.
func Queued(a, b *Proposal) bool {
	if !a.CreatedAt.Time.Equal(b.CreatedAt.Time) {
		return a.CreatedAt.Time.Before(b.CreatedAt.Time)
	}
	return a.ID < b.ID
}
