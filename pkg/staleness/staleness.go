// Package staleness decides whether an open proposal's captured before
// snapshots still match canonical state, and refreshes derived detection
// results after canonical writes.
package staleness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/ratify/pkg/detect"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Check returns a non-empty reason when any update or delete change of p
// targets an entity whose current hash differs from the captured before
// hash, or that no longer exists. Staleness is a pure function of the two
// hashes.
func Check(p *proposal.Proposal, snap entity.Snapshot) string {
	for i := range p.Changes {
		c := &p.Changes[i]
		if !c.Operation.Touches() {
			continue
		}
		ref := c.Ref()
		cur, ok := snap.Lookup(ref)
		switch {
		case !ok || cur.Entity == nil:
			return fmt.Sprintf("%s no longer exists", ref)
		case cur.Hash != c.BeforeHash:
			return fmt.Sprintf("%s changed since capture (version %d)", ref, cur.Version)
		}
	}
	return ""
}

// Transition records how one proposal's derived state moved during a refresh.
type Transition struct {
	ProposalID string `json:"proposal_id"`
	// BecameStale is true when the refresh set stale_reason.
	BecameStale bool   `json:"became_stale"`
	StaleReason string `json:"stale_reason,omitempty"`
	// ConflictsChanged is true when conflicting_proposal_ids changed.
	ConflictsChanged bool     `json:"conflicts_changed"`
	ConflictingIDs   []string `json:"conflicting_proposal_ids"`
	// ContradictionsChanged is true when the cached contradictions changed.
	ContradictionsChanged bool `json:"contradictions_changed"`
	Contradictions        int  `json:"contradictions"`
}

// Changed reports whether anything moved.
func (t Transition) Changed() bool {
	return t.BecameStale || t.ConflictsChanged || t.ContradictionsChanged
}

// Refresh recomputes the derived state of open proposals in place.
//
// Conflicts are recomputed over every open proposal. Staleness and
// contradictions are recomputed for proposals that reference one of the
// touched refs; a nil touched set rescans everything. A stale reason once
// set is never cleared. Only proposals whose state changed are returned,
// ordered by id.
func Refresh(open []*proposal.Proposal, touched []entity.Ref, snap entity.Snapshot) []Transition {
	conflicts := detect.Conflicts(open)

	var out []Transition
	for _, p := range open {
		if !p.Status.IsOpen() {
			continue
		}
		t := Transition{ProposalID: p.ID}

		if touched == nil || referencesAny(p, touched) {
			if reason := Check(p, snap); reason != "" && p.MarkStale(reason) {
				t.BecameStale = true
				t.StaleReason = reason
			}
			t.ContradictionsChanged = p.SetContradictions(detect.Contradictions(p, snap))
		}
		t.ConflictsChanged = p.SetConflicts(conflicts[p.ID])
		t.ConflictingIDs = slices.Clone(p.ConflictingProposalIDs)
		t.Contradictions = len(p.Contradictions)

		if t.Changed() {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Transition) int {
		return strings.Compare(a.ProposalID, b.ProposalID)
	})
	return out
}

// Touched collects the refs of every update or delete change in ps.
func Touched(ps ...*proposal.Proposal) []entity.Ref {
	refs := []entity.Ref{}
	for _, p := range ps {
		for _, r := range p.Refs() {
			if !slices.Contains(refs, r) {
				refs = append(refs, r)
			}
		}
	}
	return refs
}

func referencesAny(p *proposal.Proposal, refs []entity.Ref) bool {
	for _, r := range refs {
		if p.References(r) {
			return true
		}
	}
	return false
}
