package reconcile_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/internal/repository"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/logging"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/reconcile"
)

const project = "acme"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	c      *reconcile.Coordinator
	store  reconcile.KnowledgeStore
	ledger *ledger.Memory
	repo   *repository.Memory
}

// tick returns a clock that advances one second per reading.
func tick() func() utc.Time {
	var n atomic.Int64
	return func() utc.Time {
		return utc.New(epoch.Add(time.Duration(n.Add(1)) * time.Second))
	}
}

func newHarness(t *testing.T, store reconcile.KnowledgeStore, opts ...reconcile.Option) *harness {
	t.Helper()
	if store == nil {
		store = knowledge.NewMemory()
	}
	h := &harness{store: store, ledger: ledger.NewMemory(), repo: repository.NewMemory()}
	opts = append([]reconcile.Option{
		reconcile.WithClock(tick()),
		reconcile.WithLogger(logging.NewNopLogger()),
	}, opts...)
	h.c = reconcile.New(h.store, h.ledger, h.repo, opts...)
	return h
}

func (h *harness) seed(t *testing.T, f *entity.Feature) *knowledge.Record {
	t.Helper()
	rec, err := h.store.Commit(context.Background(), project, knowledge.Mutation{
		Op:    proposal.OpCreate,
		Ref:   entity.Ref{Kind: entity.KindFeature},
		After: f,
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) submit(t *testing.T, p *proposal.Proposal) *proposal.Proposal {
	t.Helper()
	res, err := h.c.Submit(context.Background(), p)
	require.NoError(t, err)
	return res.Proposal
}

func (h *harness) feature(t *testing.T, ref entity.Ref) *entity.Feature {
	t.Helper()
	rec, err := h.store.Get(context.Background(), project, ref)
	require.NoError(t, err)
	return rec.Entity.(*entity.Feature)
}

func evidence(chunk string) []proposal.Evidence {
	return []proposal.Evidence{{ChunkID: chunk, Excerpt: "from the kickoff notes"}}
}

// rename builds an update change that renames the captured feature.
func rename(rec *knowledge.Record, name string) proposal.Change {
	before := rec.Entity.(*entity.Feature)
	after := *before
	after.Name = name
	return proposal.Change{
		EntityType: entity.KindFeature,
		Operation:  proposal.OpUpdate,
		EntityID:   rec.Ref.ID,
		Before:     before,
		After:      &after,
		Evidence:   evidence("chunk-" + name),
	}
}

func propose(title string, changes ...proposal.Change) *proposal.Proposal {
	p := &proposal.Proposal{
		ProjectID:         project,
		Title:             title,
		Type:              "extraction",
		OverallConfidence: 0.8,
		Changes:           changes,
	}
	p.CreatesCount, p.UpdatesCount, p.DeletesCount = p.Counts()
	return p
}

func TestApplyFirstQueuedWins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})

	a := h.submit(t, propose("rename to Sign In", rename(login, "Sign In")))
	b := h.submit(t, propose("rename to Log In", rename(login, "Log In")))

	assert.Equal(t, []string{a.ID}, b.ConflictingProposalIDs)
	assert.True(t, b.HasConflicts)
	stored, err := h.c.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, stored.ConflictingProposalIDs)

	_, err = h.c.Apply(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	res, err := h.c.Apply(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusApplied, res.Proposal.Status)
	assert.NotNil(t, res.Proposal.ResolvedAt)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, b.ID, res.Transitions[0].ProposalID)
	assert.True(t, res.Transitions[0].BecameStale)
	assert.Empty(t, res.Transitions[0].ConflictingIDs)

	b, err = h.c.Get(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, b.IsStale())
	assert.Contains(t, *b.StaleReason, login.Ref.String())
	assert.False(t, b.HasConflicts)

	_, err = h.c.Apply(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, errors.IsStale(err))

	assert.Equal(t, "Sign In", h.feature(t, login.Ref).Name)
}

func TestBatchApply(t *testing.T) {
	h := newHarness(t, nil)
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})

	a := h.submit(t, propose("A", rename(login, "Sign In")))
	b := h.submit(t, propose("B", rename(login, "Log In")))

	res := h.c.BatchApply(context.Background(), []string{a.ID, b.ID, "missing"})
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcomes[0].Status)
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcomes[1].Status)
	assert.Equal(t, errors.CodeStale, res.Outcomes[1].Reason)
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcomes[2].Status)
	assert.Equal(t, errors.CodeNotFound, res.Outcomes[2].Reason)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, "Sign In", h.feature(t, login.Ref).Name)
}

func TestBatchDiscard(t *testing.T) {
	h := newHarness(t, nil)
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	a := h.submit(t, propose("A", rename(login, "Sign In")))
	b := h.submit(t, propose("B", rename(login, "Log In")))
	_, err := h.c.Discard(context.Background(), b.ID)
	require.NoError(t, err)

	res := h.c.BatchDiscard(context.Background(), []string{a.ID, b.ID, "missing"})
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, reconcile.OutcomeDiscarded, res.Outcomes[0].Status)
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcomes[1].Status)
	assert.Equal(t, errors.CodeInvalidState, res.Outcomes[1].Reason)
	assert.Equal(t, reconcile.OutcomeFailed, res.Outcomes[2].Status)
	assert.Equal(t, errors.CodeNotFound, res.Outcomes[2].Reason)
}

func TestApplyWritesOneLedgerEntryPerChange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	legacy := h.seed(t, &entity.Feature{Name: "Legacy SSO", Status: "cut"})

	p := h.submit(t, propose("roadmap sync",
		proposal.Change{
			EntityType: entity.KindFeature,
			Operation:  proposal.OpCreate,
			After:      &entity.Feature{Name: "Billing", Status: "planned"},
			Evidence:   evidence("c1"),
		},
		rename(login, "Sign In"),
		proposal.Change{
			EntityType: entity.KindFeature,
			Operation:  proposal.OpDelete,
			EntityID:   legacy.Ref.ID,
			Before:     legacy.Entity,
			Evidence:   append(evidence("c3"), evidence("c4")...),
		},
	))

	res, err := h.c.Apply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Evidence)
	require.Len(t, res.Records, 3)

	created := res.Proposal.Changes[0].EntityID
	require.NotEmpty(t, created)
	assert.Equal(t, "Billing", h.feature(t, entity.Ref{Kind: entity.KindFeature, ID: created}).Name)
	assert.Equal(t, "Sign In", h.feature(t, login.Ref).Name)
	_, err = h.store.Get(ctx, project, legacy.Ref)
	assert.True(t, errors.IsNotFound(err))

	entries, err := h.c.Evidence(ctx, ledger.Query{ProposalID: p.ID})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i, e.ChangeIndex)
		assert.Equal(t, p.ID, e.ProposalID)
	}
	assert.Equal(t, created, entries[0].Ref.ID)
	assert.Len(t, entries[2].Evidence, 2)
}

func TestApplyRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	p := h.submit(t, propose("A", rename(login, "Sign In")))

	_, err := h.c.Apply(ctx, p.ID)
	require.NoError(t, err)

	_, err = h.c.Apply(ctx, p.ID)
	assert.True(t, errors.IsInvalidState(err))
	_, err = h.c.Discard(ctx, p.ID)
	assert.True(t, errors.IsInvalidState(err))
	_, err = h.c.Preview(ctx, p.ID)
	assert.True(t, errors.IsInvalidState(err))

	_, err = h.c.Apply(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	entries, err := h.c.Evidence(ctx, ledger.Query{ProposalID: p.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiscardLeavesCanonicalStateAlone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	search := h.seed(t, &entity.Feature{Name: "Search", Status: "planned"})

	a := h.submit(t, propose("A", rename(login, "Sign In")))
	b := h.submit(t, propose("B", rename(login, "Log In")))
	c := h.submit(t, propose("C", rename(search, "Find")))

	// Make C stale with a direct edit.
	edited := *search.Entity.(*entity.Feature)
	edited.Status = "shipped"
	er, err := h.c.Edit(ctx, project, knowledge.Mutation{Op: proposal.OpUpdate, Ref: search.Ref, After: &edited})
	require.NoError(t, err)
	require.Len(t, er.Transitions, 1)
	assert.Equal(t, c.ID, er.Transitions[0].ProposalID)
	assert.True(t, er.Transitions[0].BecameStale)

	before, err := h.c.Entities(ctx, project, "")
	require.NoError(t, err)

	res, err := h.c.Discard(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusDiscarded, res.Proposal.Status)

	res, err = h.c.Discard(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, a.ID, res.Transitions[0].ProposalID)
	assert.True(t, res.Transitions[0].ConflictsChanged)

	after, err := h.c.Entities(ctx, project, "")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	a, err = h.c.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, a.HasConflicts)
	assert.Empty(t, a.ConflictingProposalIDs)

	_, err = h.c.Discard(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	entries, err := h.c.Evidence(ctx, ledger.Query{ProjectID: project})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// faultyStore fails or stalls selected writes. A batch counts one call per
// mutation and fails as a whole when any of its calls is selected.
type faultyStore struct {
	knowledge.Store
	mu     sync.Mutex
	calls  int
	failAt int
	delay  time.Duration
}

func (s *faultyStore) inject(ctx context.Context, n int) error {
	s.mu.Lock()
	first := s.calls + 1
	s.calls += n
	fail := s.failAt >= first && s.failAt <= s.calls
	delay := s.delay
	s.mu.Unlock()

	if fail {
		return fmt.Errorf("write %d: disk full", s.failAt)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *faultyStore) Commit(ctx context.Context, projectID string, m knowledge.Mutation) (*knowledge.Record, error) {
	if err := s.inject(ctx, 1); err != nil {
		return nil, err
	}
	return s.Store.Commit(ctx, projectID, m)
}

func (s *faultyStore) CommitAll(ctx context.Context, projectID string, ms []knowledge.Mutation) ([]*knowledge.Record, error) {
	if err := s.inject(ctx, len(ms)); err != nil {
		return nil, err
	}
	return s.Store.CommitAll(ctx, projectID, ms)
}

// oneByOne hides CommitAll so changes are committed individually.
type oneByOne struct {
	reconcile.KnowledgeStore
}

func TestApplyRollsBackPartialCommits(t *testing.T) {
	fs := &faultyStore{Store: knowledge.NewMemory()}
	h := newHarness(t, oneByOne{fs})
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	search := h.seed(t, &entity.Feature{Name: "Search", Status: "planned"})

	p := h.submit(t, propose("two renames", rename(login, "Sign In"), rename(search, "Find")))

	fs.mu.Lock()
	fs.failAt = fs.calls + 2
	fs.mu.Unlock()

	_, err := h.c.Apply(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))

	rec, err := h.store.Get(ctx, project, login.Ref)
	require.NoError(t, err)
	assert.Equal(t, login.Hash, rec.Hash)
	assert.Equal(t, "Login", rec.Entity.Label())

	stored, err := h.c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPending, stored.Status)
	assert.False(t, stored.IsStale())

	entries, err := h.c.Evidence(ctx, ledger.Query{ProposalID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The rollback restored the captured state, so a retry succeeds.
	res, err := h.c.Apply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusApplied, res.Proposal.Status)
	assert.Equal(t, "Find", h.feature(t, search.Ref).Name)
}

func TestApplyBatchFailureWritesNothing(t *testing.T) {
	fs := &faultyStore{Store: knowledge.NewMemory()}
	h := newHarness(t, fs)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	search := h.seed(t, &entity.Feature{Name: "Search", Status: "planned"})

	p := h.submit(t, propose("two renames", rename(login, "Sign In"), rename(search, "Find")))

	fs.mu.Lock()
	fs.failAt = fs.calls + 2
	fs.mu.Unlock()

	_, err := h.c.Apply(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))

	// Nothing was written, so no compensating writes bumped the versions.
	rec, err := h.store.Get(ctx, project, login.Ref)
	require.NoError(t, err)
	assert.Equal(t, login.Version, rec.Version)
	rec, err = h.store.Get(ctx, project, search.Ref)
	require.NoError(t, err)
	assert.Equal(t, search.Version, rec.Version)

	res, err := h.c.Apply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusApplied, res.Proposal.Status)
}

// flakyRepo fails saves that mark a proposal applied while failApplied is set.
type flakyRepo struct {
	*repository.Memory
	failApplied atomic.Bool
}

func (r *flakyRepo) Save(ctx context.Context, ps ...*proposal.Proposal) error {
	if r.failApplied.Load() {
		for _, p := range ps {
			if p.Status == proposal.StatusApplied {
				return fmt.Errorf("save %s: database is locked", p.ID)
			}
		}
	}
	return r.Memory.Save(ctx, ps...)
}

// flakyLedger fails every append while fail is set.
type flakyLedger struct {
	*ledger.Memory
	fail atomic.Bool
}

func (l *flakyLedger) Append(ctx context.Context, entries ...ledger.Entry) error {
	if l.fail.Load() {
		return fmt.Errorf("append %d entries: disk full", len(entries))
	}
	return l.Memory.Append(ctx, entries...)
}

// rewire rebuilds the coordinator over the harness stores with led and repo
// in front of them.
func (h *harness) rewire(led reconcile.EvidenceLedger, repo reconcile.Repository) {
	h.c = reconcile.New(h.store, led, repo,
		reconcile.WithClock(tick()),
		reconcile.WithLogger(logging.NewNopLogger()))
}

func addBilling() proposal.Change {
	return proposal.Change{
		EntityType: entity.KindFeature,
		Operation:  proposal.OpCreate,
		After:      &entity.Feature{Name: "Billing", Status: "planned"},
		Evidence:   evidence("chunk-billing"),
	}
}

func TestApplyFailedStatusSaveLeavesNoEvidence(t *testing.T) {
	h := newHarness(t, nil)
	repo := &flakyRepo{Memory: h.repo}
	h.rewire(h.ledger, repo)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})

	p := h.submit(t, propose("rename and add", rename(login, "Sign In"), addBilling()))

	repo.failApplied.Store(true)
	_, err := h.c.Apply(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))

	entries, err := h.c.Evidence(ctx, ledger.Query{ProjectID: project})
	require.NoError(t, err)
	assert.Empty(t, entries)

	stored, err := h.c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPending, stored.Status)
	assert.Equal(t, "Login", h.feature(t, login.Ref).Name)
	recs, err := h.store.List(ctx, project, entity.KindFeature)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// The retry creates the entity under the same id the failed attempt used.
	repo.failApplied.Store(false)
	res, err := h.c.Apply(ctx, p.ID)
	require.NoError(t, err)
	created := reconcile.CreateID(p.ID, 1)
	assert.Equal(t, created, res.Records[1].Ref.ID)
	assert.Equal(t, created, res.Proposal.Changes[1].EntityID)

	entries, err = h.c.Evidence(ctx, ledger.Query{ProposalID: p.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, created, entries[1].Ref.ID)
	assert.Equal(t, "Billing", h.feature(t, entries[1].Ref).Name)
}

func TestApplyFailedAppendRestoresProposals(t *testing.T) {
	h := newHarness(t, nil)
	led := &flakyLedger{Memory: h.ledger}
	h.rewire(led, h.repo)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})

	a := h.submit(t, propose("A", rename(login, "Sign In"), addBilling()))
	b := h.submit(t, propose("B", rename(login, "Log In")))

	led.fail.Store(true)
	_, err := h.c.Apply(ctx, a.ID)
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))

	stored, err := h.c.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPending, stored.Status)
	assert.Nil(t, stored.ResolvedAt)
	assert.Empty(t, stored.Changes[1].EntityID)

	other, err := h.c.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, other.IsStale())
	assert.Equal(t, []string{a.ID}, other.ConflictingProposalIDs)

	rec, err := h.store.Get(ctx, project, login.Ref)
	require.NoError(t, err)
	assert.Equal(t, login.Hash, rec.Hash)
	recs, err := h.store.List(ctx, project, entity.KindFeature)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	led.fail.Store(false)
	res, err := h.c.Apply(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evidence)
	other, err = h.c.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, other.IsStale())
}

func TestApplyIsNeverSeenHalfDone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	search := h.seed(t, &entity.Feature{Name: "Search", Status: "planned"})
	p := h.submit(t, propose("two renames", rename(login, "Sign In"), rename(search, "Find")))

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		for {
			recs, err := h.store.List(ctx, project, entity.KindFeature)
			if err != nil {
				return err
			}
			names := map[string]bool{}
			for _, r := range recs {
				names[r.Entity.Label()] = true
			}
			if names["Sign In"] != names["Find"] {
				return fmt.Errorf("partial apply visible: %v", names)
			}
			select {
			case <-done:
				return nil
			default:
			}
		}
	})

	_, err := h.c.Apply(ctx, p.ID)
	close(done)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Equal(t, "Sign In", h.feature(t, login.Ref).Name)
	assert.Equal(t, "Find", h.feature(t, search.Ref).Name)
}

func TestApplyTimesOutOnSlowStore(t *testing.T) {
	fs := &faultyStore{Store: knowledge.NewMemory()}
	h := newHarness(t, fs, reconcile.WithCommitTimeout(20*time.Millisecond))
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	p := h.submit(t, propose("A", rename(login, "Sign In")))

	fs.mu.Lock()
	fs.delay = time.Second
	fs.mu.Unlock()

	_, err := h.c.Apply(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))

	stored, err := h.c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPending, stored.Status)
	assert.Equal(t, "Login", h.feature(t, login.Ref).Name)
}

func TestConcurrentAppliesSerialize(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = h.submit(t, propose(fmt.Sprintf("rename %d", i), rename(login, fmt.Sprintf("Login v%d", i)))).ID
	}

	var applied atomic.Int32
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := h.c.Apply(ctx, id)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.IsConflict(err), errors.IsStale(err):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, "Login v0", h.feature(t, login.Ref).Name)

	entries, err := h.c.Evidence(ctx, ledger.Query{ProjectID: project})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	for _, id := range ids[1:] {
		p, err := h.c.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, p.IsStale(), id)
	}
}

func TestSubmit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})

	t.Run("rejects invalid proposals", func(t *testing.T) {
		bad := propose("counts", rename(login, "Sign In"))
		bad.UpdatesCount = 2
		_, err := h.c.Submit(ctx, bad)
		assert.True(t, errors.IsValidationError(err))

		_, err = h.c.Submit(ctx, nil)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("assigns identity and status", func(t *testing.T) {
		in := propose("rename", rename(login, "Sign In"))
		in.Status = proposal.StatusApplied
		p := h.submit(t, in)
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, proposal.StatusPending, p.Status)
		assert.False(t, p.CreatedAt.IsZero())
		assert.NotEmpty(t, p.Changes[0].BeforeHash)
		assert.Empty(t, in.ID)
	})

	t.Run("captured state already moved", func(t *testing.T) {
		stale := rename(login, "Log In")
		edited := *login.Entity.(*entity.Feature)
		edited.Owner = "dana"
		_, err := h.c.Edit(ctx, project, knowledge.Mutation{Op: proposal.OpUpdate, Ref: login.Ref, After: &edited})
		require.NoError(t, err)

		p := h.submit(t, propose("late", stale))
		assert.True(t, p.IsStale())
		assert.Contains(t, *p.StaleReason, "changed since capture")
	})
}

func TestPreview(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	p := h.submit(t, propose("rename", rename(login, "Sign In"),
		proposal.Change{EntityType: entity.KindFeature, Operation: proposal.OpCreate, After: &entity.Feature{Name: "Billing", Status: "planned"}}))

	res, err := h.c.Preview(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPreviewed, res.Proposal.Status)
	assert.NotNil(t, res.Proposal.PreviewedAt)
	require.Len(t, res.Changes, 2)

	assert.True(t, res.Changes[0].Exists)
	require.Len(t, res.Changes[0].Diff, 1)
	assert.Equal(t, "name", res.Changes[0].Diff[0].Field)
	assert.Equal(t, "Login", res.Changes[0].Diff[0].OldValue)
	assert.Equal(t, "Sign In", res.Changes[0].Diff[0].NewValue)
	assert.False(t, res.Changes[1].Exists)

	// Previewing writes nothing canonical, and previewed proposals still apply.
	assert.Equal(t, "Login", h.feature(t, login.Ref).Name)
	_, err = h.c.Apply(ctx, p.ID)
	require.NoError(t, err)
}

func TestEligibleAndDetect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	search := h.seed(t, &entity.Feature{Name: "Search", Status: "planned"})
	billing := h.seed(t, &entity.Feature{Name: "Billing", Status: "planned"})

	a := h.submit(t, propose("A", rename(login, "Sign In")))
	h.submit(t, propose("B", rename(login, "Log In")))
	c := h.submit(t, propose("C", rename(search, "Find")))
	d := h.submit(t, propose("D", rename(billing, "Payments")))

	edited := *billing.Entity.(*entity.Feature)
	edited.Status = "cut"
	_, err := h.c.Edit(ctx, project, knowledge.Mutation{Op: proposal.OpUpdate, Ref: billing.Ref, After: &edited})
	require.NoError(t, err)

	eligible, err := h.c.Eligible(ctx, project)
	require.NoError(t, err)
	var ids []string
	for _, p := range eligible {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{a.ID, c.ID}, ids)

	cs, err := h.c.Detect(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "status", cs[0].FieldName)
	assert.Equal(t, "cut", cs[0].ExistingValue)

	cs, err = h.c.Detect(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestEditMissingEntity(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.Edit(context.Background(), project, knowledge.Mutation{
		Op:  proposal.OpDelete,
		Ref: entity.Ref{Kind: entity.KindFeature, ID: "ghost"},
	})
	assert.True(t, errors.IsNotFound(err))
}

// recorder captures metrics calls.
type recorder struct {
	mu   sync.Mutex
	ops  map[string]int
	open map[string]int
}

func (r *recorder) Operation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op+"/"+outcome]++
}

func (r *recorder) LockWait(time.Duration) {}

func (r *recorder) OpenProposals(projectID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[projectID] = n
}

func TestRecorderSeesOutcomes(t *testing.T) {
	rec := &recorder{ops: map[string]int{}, open: map[string]int{}}
	h := newHarness(t, nil, reconcile.WithRecorder(rec))
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	a := h.submit(t, propose("A", rename(login, "Sign In")))
	b := h.submit(t, propose("B", rename(login, "Log In")))

	_, err := h.c.Apply(ctx, b.ID)
	require.Error(t, err)
	_, err = h.c.Apply(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.ops["submit/ok"])
	assert.Equal(t, 1, rec.ops["apply/conflict"])
	assert.Equal(t, 1, rec.ops["apply/ok"])
	assert.Equal(t, 1, rec.open[project])
}

// previews records Previewed calls.
type previews struct {
	mu  sync.Mutex
	got []*reconcile.PreviewResult
}

func (o *previews) Submitted(*reconcile.SubmitResult)  {}
func (o *previews) Applied(*reconcile.ApplyResult)     {}
func (o *previews) Discarded(*reconcile.DiscardResult) {}
func (o *previews) Edited(*reconcile.EditResult)       {}

func (o *previews) Previewed(res *reconcile.PreviewResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, res)
}

func TestPreviewSavesRefreshedProposals(t *testing.T) {
	obs := &previews{}
	h := newHarness(t, nil, reconcile.WithObserver(obs))
	ctx := context.Background()
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	a := h.submit(t, propose("A", rename(login, "Sign In")))
	b := h.submit(t, propose("B", rename(login, "Log In")))

	// Canonical state moves behind the coordinator's back.
	edited := *login.Entity.(*entity.Feature)
	edited.Owner = "dana"
	_, err := h.store.Commit(ctx, project, knowledge.Mutation{Op: proposal.OpUpdate, Ref: login.Ref, After: &edited})
	require.NoError(t, err)

	res, err := h.c.Preview(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPreviewed, res.Proposal.Status)
	assert.True(t, res.Proposal.IsStale())

	ids := make([]string, 0, len(res.Transitions))
	for _, tr := range res.Transitions {
		assert.True(t, tr.BecameStale, tr.ProposalID)
		ids = append(ids, tr.ProposalID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	other, err := h.c.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, other.IsStale())
	assert.Equal(t, proposal.StatusPending, other.Status)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.got, 1)
	assert.Equal(t, a.ID, obs.got[0].Proposal.ID)
	assert.Equal(t, proposal.StatusPreviewed, obs.got[0].Proposal.Status)
}

// countingStore counts canonical reads.
type countingStore struct {
	reconcile.KnowledgeStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, projectID string, ref entity.Ref) (*knowledge.Record, error) {
	s.gets.Add(1)
	return s.KnowledgeStore.Get(ctx, projectID, ref)
}

func TestSubmitCreateOnlySkipsRescan(t *testing.T) {
	cs := &countingStore{KnowledgeStore: knowledge.NewMemory()}
	h := newHarness(t, cs)
	login := h.seed(t, &entity.Feature{Name: "Login", Status: "planned"})
	h.submit(t, propose("A", rename(login, "Sign In")))

	cs.gets.Store(0)
	p := h.submit(t, propose("add billing", addBilling()))
	assert.False(t, p.IsStale())
	assert.Zero(t, cs.gets.Load())
}
