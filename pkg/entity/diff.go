package entity

// ChangeType represents the type of field change.
type ChangeType string

const (
	// ChangeTypeAdd indicates a field gained a value.
	ChangeTypeAdd ChangeType = "add"
	// ChangeTypeUpdate indicates a field value changed.
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeRemove indicates a field lost its value.
	ChangeTypeRemove ChangeType = "remove"
)

// FieldChange is a single field difference between two entity states.
type FieldChange struct {
	Field    string     `json:"field"`
	Class    FieldClass `json:"class"`
	OldValue string     `json:"old_value"`
	NewValue string     `json:"new_value"`
	Type     ChangeType `json:"type"`
}

// Diff compares two states of the same kind field by field, in declaration
// order. Either side may be nil, in which case every non-empty field of the
// other side is reported. Entities of different kinds yield nil.
func Diff(from, to Entity) []FieldChange {
	var base []Field
	switch {
	case from == nil && to == nil:
		return nil
	case from != nil && to != nil && from.Kind() != to.Kind():
		return nil
	case from != nil:
		base = from.Fields()
	default:
		base = to.Fields()
	}

	oldVals := values(from)
	newVals := values(to)

	var changes []FieldChange
	for _, f := range base {
		o, n := oldVals[f.Name], newVals[f.Name]
		if o == n {
			continue
		}
		ct := ChangeTypeUpdate
		switch {
		case o == "":
			ct = ChangeTypeAdd
		case n == "":
			ct = ChangeTypeRemove
		}
		changes = append(changes, FieldChange{
			Field:    f.Name,
			Class:    f.Class,
			OldValue: o,
			NewValue: n,
			Type:     ct,
		})
	}
	return changes
}

// Equal reports whether two entities have the same kind and field values.
func Equal(a, b Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && len(Diff(a, b)) == 0
}

func values(e Entity) map[string]string {
	m := map[string]string{}
	if e == nil {
		return m
	}
	for _, f := range e.Fields() {
		m[f.Name] = f.Value
	}
	return m
}
