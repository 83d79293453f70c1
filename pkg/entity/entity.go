// Package entity defines the project knowledge entities that proposals act on.
//
// Entities form a closed tagged union: every supported Kind has a Go struct
// with an explicit field set, and every field belongs to a FieldClass that
// drives contradiction severity. Detection and storage share the same
// Diff and Hash functions, so they cannot disagree about what changed.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/ratify/pkg/errors"
)

// Kind identifies an entity type.
type Kind string

// Supported kinds.
const (
	KindFeature     Kind = "feature"
	KindRequirement Kind = "requirement"
	KindPersona     Kind = "persona"
	KindRisk        Kind = "risk"
	KindDecision    Kind = "decision"
)

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// Valid reports whether k is a registered kind.
func (k Kind) Valid() bool {
	_, ok := registry[k]
	return ok
}

// FieldClass groups fields by how much a silent change matters.
type FieldClass string

// Field classes.
const (
	ClassStatus         FieldClass = "status"
	ClassClassification FieldClass = "classification"
	ClassBusiness       FieldClass = "business"
	ClassOther          FieldClass = "other"
)

// Field is one named, classified value of an entity.
type Field struct {
	Name  string     `json:"name"`
	Class FieldClass `json:"class"`
	Value string     `json:"value"`
}

// Entity is the state of a single knowledge entity.
type Entity interface {
	Kind() Kind
	// Label is the human-facing name (feature name, risk title, ...).
	Label() string
	// Fields returns every field in declaration order.
	Fields() []Field
	Validate() error
}

// Ref addresses an entity within a project.
type Ref struct {
	Kind Kind   `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// String renders the ref as "kind/id".
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// ParseRef parses "kind/id".
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" || !Kind(kind).Valid() {
		return Ref{}, errors.NewValidationError("ref", s, "expected <kind>/<id> with a known kind")
	}
	return Ref{Kind: Kind(kind), ID: id}, nil
}

// CompareRefs orders refs by kind then id.
func CompareRefs(a, b Ref) int {
	if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

var registry = map[Kind]func() Entity{
	KindFeature:     func() Entity { return &Feature{} },
	KindRequirement: func() Entity { return &Requirement{} },
	KindPersona:     func() Entity { return &Persona{} },
	KindRisk:        func() Entity { return &Risk{} },
	KindDecision:    func() Entity { return &Decision{} },
}

// Kinds returns all registered kinds, sorted.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New returns a zero-valued entity of the given kind.
func New(kind Kind) (Entity, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, errors.NewValidationError("entity_type", kind, "unknown entity kind")
	}
	return ctor(), nil
}

// Decode parses raw JSON into an entity of the given kind. Unknown fields
// are rejected so that payloads cannot silently carry untracked state.
func Decode(kind Kind, raw []byte) (Entity, error) {
	e, err := New(kind)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(e); err != nil {
		return nil, errors.NewValidationError(string(kind), nil, fmt.Sprintf("decode: %v", err))
	}
	return e, nil
}

// Encode returns the JSON form of e. A nil entity encodes as null.
func Encode(e Entity) (json.RawMessage, error) {
	if e == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(e)
}

// Clone returns an independent copy of e.
func Clone(e Entity) Entity {
	if e == nil {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	c, err := Decode(e.Kind(), raw)
	if err != nil {
		return nil
	}
	return c
}

// Value returns the named field's value.
func Value(e Entity, name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, f := range e.Fields() {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Describe lists the fields and classes of a kind with empty values.
func Describe(kind Kind) ([]Field, error) {
	e, err := New(kind)
	if err != nil {
		return nil, err
	}
	return e.Fields(), nil
}
