package entity_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
)

func TestDecode(t *testing.T) {
	t.Run("feature", func(t *testing.T) {
		e, err := entity.Decode(entity.KindFeature, []byte(`{"name":"Login","status":"planned"}`))
		require.NoError(t, err)
		assert.Equal(t, entity.KindFeature, e.Kind())
		assert.Equal(t, "Login", e.Label())
		require.NoError(t, e.Validate())
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := entity.Decode(entity.KindRisk, []byte(`{"title":"x","impact":"huge"}`))
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		_, err := entity.Decode("epic", []byte(`{}`))
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		e     entity.Entity
		field string
	}{
		{"feature missing name", &entity.Feature{Status: "planned"}, "name"},
		{"feature bad status", &entity.Feature{Name: "x", Status: "maybe"}, "status"},
		{"requirement bad type", &entity.Requirement{Title: "x", Type: "vague", Status: "draft"}, "type"},
		{"risk bad severity", &entity.Risk{Title: "x", Severity: "apocalyptic", Status: "open"}, "severity"},
		{"decision bad status", &entity.Decision{Title: "x", Status: "pondering"}, "status"},
		{"persona missing name", &entity.Persona{}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Validate()
			var verr *errors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDiff(t *testing.T) {
	before := &entity.Feature{Name: "Login", Status: "planned", Owner: "sam"}
	after := &entity.Feature{Name: "Sign In", Status: "planned", Priority: "must"}

	want := []entity.FieldChange{
		{Field: "name", Class: entity.ClassBusiness, OldValue: "Login", NewValue: "Sign In", Type: entity.ChangeTypeUpdate},
		{Field: "priority", Class: entity.ClassClassification, OldValue: "", NewValue: "must", Type: entity.ChangeTypeAdd},
		{Field: "owner", Class: entity.ClassOther, OldValue: "sam", NewValue: "", Type: entity.ChangeTypeRemove},
	}
	if diff := cmp.Diff(want, entity.Diff(before, after)); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, entity.Diff(before, before))
	assert.Nil(t, entity.Diff(before, &entity.Risk{Title: "x"}))
	assert.Len(t, entity.Diff(nil, before), 3)
}

func TestHash(t *testing.T) {
	a := &entity.Feature{Name: "Login", Status: "planned"}
	b := &entity.Feature{Status: "planned", Name: "Login"}
	c := &entity.Feature{Name: "Sign In", Status: "planned"}

	ha, err := entity.Hash(a)
	require.NoError(t, err)
	assert.Len(t, ha, 64)
	assert.Equal(t, ha, entity.MustHash(b))
	assert.NotEqual(t, ha, entity.MustHash(c))

	// Same values under another kind must not collide.
	p := &entity.Persona{Name: "Login"}
	f := &entity.Feature{Name: "Login"}
	assert.NotEqual(t, entity.MustHash(p), entity.MustHash(f))

	h, err := entity.Hash(nil)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &entity.Risk{Title: "Vendor lock-in", Severity: "high", Status: "open"}
	c := entity.Clone(orig).(*entity.Risk)
	c.Status = "closed"
	assert.Equal(t, "open", orig.Status)
	assert.True(t, entity.Equal(orig, &entity.Risk{Title: "Vendor lock-in", Severity: "high", Status: "open"}))
}

func TestRefs(t *testing.T) {
	r, err := entity.ParseRef("feature/F1")
	require.NoError(t, err)
	assert.Equal(t, entity.Ref{Kind: entity.KindFeature, ID: "F1"}, r)
	assert.Equal(t, "feature/F1", r.String())

	_, err = entity.ParseRef("feature")
	assert.Error(t, err)
	_, err = entity.ParseRef("epic/E1")
	assert.Error(t, err)

	assert.Negative(t, entity.CompareRefs(r, entity.Ref{Kind: entity.KindRisk, ID: "A"}))
}

func TestKindsAndDescribe(t *testing.T) {
	assert.Equal(t, []entity.Kind{"decision", "feature", "persona", "requirement", "risk"}, entity.Kinds())

	fields, err := entity.Describe(entity.KindRisk)
	require.NoError(t, err)
	v, ok := entity.Value(&entity.Risk{Severity: "low"}, "severity")
	assert.True(t, ok)
	assert.Equal(t, "low", v)
	assert.Equal(t, "title", fields[0].Name)
}
