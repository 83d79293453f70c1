package entity

import (
	"slices"
	"strings"

	"github.com/agentstation/ratify/pkg/errors"
)

// Feature is a product capability tracked in the PRD.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`             // planned, in_progress, shipped, cut
	Priority    string `json:"priority,omitempty"` // must, should, could, wont
	Category    string `json:"category,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

// Kind implements Entity.
func (f *Feature) Kind() Kind { return KindFeature }

// Label implements Entity.
func (f *Feature) Label() string { return f.Name }

// Fields implements Entity.
func (f *Feature) Fields() []Field {
	return []Field{
		{"name", ClassBusiness, f.Name},
		{"description", ClassBusiness, f.Description},
		{"status", ClassStatus, f.Status},
		{"priority", ClassClassification, f.Priority},
		{"category", ClassClassification, f.Category},
		{"owner", ClassOther, f.Owner},
	}
}

// Validate implements Entity.
func (f *Feature) Validate() error {
	return check(
		required("name", f.Name),
		oneOf("status", f.Status, "planned", "in_progress", "shipped", "cut"),
		optionalOneOf("priority", f.Priority, "must", "should", "could", "wont"),
	)
}

// Requirement is a functional or non-functional requirement.
type Requirement struct {
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	Type               string `json:"type"`   // functional, non_functional, constraint
	Status             string `json:"status"` // draft, approved, rejected
	Priority           string `json:"priority,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	Source             string `json:"source,omitempty"`
}

// Kind implements Entity.
func (r *Requirement) Kind() Kind { return KindRequirement }

// Label implements Entity.
func (r *Requirement) Label() string { return r.Title }

// Fields implements Entity.
func (r *Requirement) Fields() []Field {
	return []Field{
		{"title", ClassBusiness, r.Title},
		{"description", ClassBusiness, r.Description},
		{"type", ClassClassification, r.Type},
		{"status", ClassStatus, r.Status},
		{"priority", ClassClassification, r.Priority},
		{"acceptance_criteria", ClassBusiness, r.AcceptanceCriteria},
		{"source", ClassOther, r.Source},
	}
}

// Validate implements Entity.
func (r *Requirement) Validate() error {
	return check(
		required("title", r.Title),
		oneOf("type", r.Type, "functional", "non_functional", "constraint"),
		oneOf("status", r.Status, "draft", "approved", "rejected"),
		optionalOneOf("priority", r.Priority, "must", "should", "could", "wont"),
	)
}

// Persona is a target user archetype.
type Persona struct {
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	Segment    string `json:"segment,omitempty"`
	Goals      string `json:"goals,omitempty"`
	PainPoints string `json:"pain_points,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Kind implements Entity.
func (p *Persona) Kind() Kind { return KindPersona }

// Label implements Entity.
func (p *Persona) Label() string { return p.Name }

// Fields implements Entity.
func (p *Persona) Fields() []Field {
	return []Field{
		{"name", ClassBusiness, p.Name},
		{"role", ClassBusiness, p.Role},
		{"segment", ClassClassification, p.Segment},
		{"goals", ClassBusiness, p.Goals},
		{"pain_points", ClassBusiness, p.PainPoints},
		{"notes", ClassOther, p.Notes},
	}
}

// Validate implements Entity.
func (p *Persona) Validate() error {
	return check(required("name", p.Name))
}

// Risk is a delivery or business risk.
type Risk struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"` // low, medium, high, critical
	Likelihood  string `json:"likelihood,omitempty"`
	Status      string `json:"status"` // open, mitigated, accepted, closed
	Mitigation  string `json:"mitigation,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

// Kind implements Entity.
func (r *Risk) Kind() Kind { return KindRisk }

// Label implements Entity.
func (r *Risk) Label() string { return r.Title }

// Fields implements Entity.
func (r *Risk) Fields() []Field {
	return []Field{
		{"title", ClassBusiness, r.Title},
		{"description", ClassBusiness, r.Description},
		{"severity", ClassClassification, r.Severity},
		{"likelihood", ClassClassification, r.Likelihood},
		{"status", ClassStatus, r.Status},
		{"mitigation", ClassBusiness, r.Mitigation},
		{"owner", ClassOther, r.Owner},
	}
}

// Validate implements Entity.
func (r *Risk) Validate() error {
	levels := []string{"low", "medium", "high", "critical"}
	return check(
		required("title", r.Title),
		oneOf("severity", r.Severity, levels...),
		optionalOneOf("likelihood", r.Likelihood, levels...),
		oneOf("status", r.Status, "open", "mitigated", "accepted", "closed"),
	)
}

// Decision records a product or technical decision.
type Decision struct {
	Title     string `json:"title"`
	Context   string `json:"context,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Status    string `json:"status"` // proposed, accepted, superseded, rejected
	Category  string `json:"category,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// Kind implements Entity.
func (d *Decision) Kind() Kind { return KindDecision }

// Label implements Entity.
func (d *Decision) Label() string { return d.Title }

// Fields implements Entity.
func (d *Decision) Fields() []Field {
	return []Field{
		{"title", ClassBusiness, d.Title},
		{"context", ClassBusiness, d.Context},
		{"outcome", ClassBusiness, d.Outcome},
		{"status", ClassStatus, d.Status},
		{"category", ClassClassification, d.Category},
		{"decided_by", ClassOther, d.DecidedBy},
	}
}

// Validate implements Entity.
func (d *Decision) Validate() error {
	return check(
		required("title", d.Title),
		oneOf("status", d.Status, "proposed", "accepted", "superseded", "rejected"),
	)
}

func check(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewValidationError(field, value, "is required")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return errors.NewValidationError(field, value,
			"must be one of "+strings.Join(allowed, ", "))
	}
	return nil
}

func optionalOneOf(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	return oneOf(field, value, allowed...)
}
