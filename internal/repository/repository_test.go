package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ratify/internal/database"
	"github.com/agentstation/ratify/internal/repository"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

func backends(t *testing.T, fn func(t *testing.T, r repository.Repository)) {
	t.Run("memory", func(t *testing.T) { fn(t, repository.NewMemory()) })
	t.Run("sqlite", func(t *testing.T) {
		db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "ratify.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		fn(t, repository.NewSQLite(db))
	})
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sample(id string, offset time.Duration) *proposal.Proposal {
	before := &entity.Feature{Name: "Login", Status: "planned"}
	p := &proposal.Proposal{
		ID:           id,
		ProjectID:    "acme",
		Title:        "Rename " + id,
		Type:         "prd_update",
		Status:       proposal.StatusPending,
		UpdatesCount: 1,
		Changes: []proposal.Change{{
			EntityType: entity.KindFeature,
			Operation:  proposal.OpUpdate,
			EntityID:   "F1",
			Before:     before,
			After:      &entity.Feature{Name: "Sign In", Status: "planned"},
			Evidence:   []proposal.Evidence{{ChunkID: "c1", Excerpt: "quote"}},
		}},
		CreatedAt: utc.New(base.Add(offset)),
		UpdatedAt: utc.New(base.Add(offset)),
	}
	p.Normalize()
	return p
}

func TestCreateGet(t *testing.T) {
	backends(t, func(t *testing.T, r repository.Repository) {
		ctx := context.Background()
		p := sample("p-1", 0)
		require.NoError(t, r.Create(ctx, p))

		got, err := r.Get(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, p.Title, got.Title)
		require.Len(t, got.Changes, 1)
		assert.True(t, entity.Equal(p.Changes[0].After, got.Changes[0].After))
		assert.Equal(t, p.Changes[0].BeforeHash, got.Changes[0].BeforeHash)
		assert.True(t, p.CreatedAt.Time.Equal(got.CreatedAt.Time))

		err = r.Create(ctx, sample("p-1", 0))
		assert.True(t, errors.IsValidationError(err))

		_, err = r.Get(ctx, "missing")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestListOrderAndFilter(t *testing.T) {
	backends(t, func(t *testing.T, r repository.Repository) {
		ctx := context.Background()
		// Sub-second offsets exercise ordering on fractional timestamps.
		require.NoError(t, r.Create(ctx, sample("c", time.Second+500*time.Millisecond)))
		require.NoError(t, r.Create(ctx, sample("a", time.Second)))
		require.NoError(t, r.Create(ctx, sample("b", 2*time.Second)))

		applied, err := r.Get(ctx, "b")
		require.NoError(t, err)
		applied.Status = proposal.StatusApplied
		require.NoError(t, r.Save(ctx, applied))

		all, err := r.List(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "c", "b"}, ids(all))

		open, err := r.List(ctx, "acme", proposal.StatusPending, proposal.StatusPreviewed)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(open))

		none, err := r.List(ctx, "globex")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestSaveRules(t *testing.T) {
	backends(t, func(t *testing.T, r repository.Repository) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, sample("p-1", 0)))
		require.NoError(t, r.Create(ctx, sample("p-2", time.Second)))

		p1, err := r.Get(ctx, "p-1")
		require.NoError(t, err)
		p1.MarkStale("feature/F1 changed")
		require.NoError(t, r.Save(ctx, p1))

		got, err := r.Get(ctx, "p-1")
		require.NoError(t, err)
		require.NotNil(t, got.StaleReason)

		// Terminal proposals are frozen.
		got.Status = proposal.StatusDiscarded
		require.NoError(t, r.Save(ctx, got))
		got.Title = "rewritten"
		err = r.Save(ctx, got)
		assert.True(t, errors.IsInvalidState(err))

		// A failing batch writes nothing.
		p2, err := r.Get(ctx, "p-2")
		require.NoError(t, err)
		p2.Title = "should not persist"
		err = r.Save(ctx, p2, got)
		assert.True(t, errors.IsInvalidState(err))
		p2again, err := r.Get(ctx, "p-2")
		require.NoError(t, err)
		assert.Equal(t, "Rename p-2", p2again.Title)

		err = r.Save(ctx, sample("ghost", 0))
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestRestoreUndoesResolution(t *testing.T) {
	backends(t, func(t *testing.T, r repository.Repository) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, sample("p-1", 0)))

		before, err := r.Get(ctx, "p-1")
		require.NoError(t, err)
		applied := before.Clone()
		applied.Status = proposal.StatusApplied
		require.NoError(t, r.Save(ctx, applied))

		require.NoError(t, r.Restore(ctx, before))
		got, err := r.Get(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, proposal.StatusPending, got.Status)

		pending, err := r.List(ctx, "acme", proposal.StatusPending)
		require.NoError(t, err)
		assert.Equal(t, []string{"p-1"}, ids(pending))

		err = r.Restore(ctx, sample("ghost", 0))
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestMemoryIsolation(t *testing.T) {
	r := repository.NewMemory()
	ctx := context.Background()
	p := sample("p-1", 0)
	require.NoError(t, r.Create(ctx, p))

	p.Changes[0].Evidence[0].Excerpt = "mutated after create"
	got, err := r.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "quote", got.Changes[0].Evidence[0].Excerpt)
}

func ids(ps []*proposal.Proposal) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
