// Package detect finds conflicts between open proposals and contradictions
// between a proposal and live canonical state. Everything here is a pure
// function of its arguments.
//
// Conflicts are entity-level: two proposals conflict when they both target
// the same existing entity, whatever fields they touch. Contradictions are
// field-level: they name the exact field that moved.
package detect

import (
	"fmt"
	"slices"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Conflicts computes the conflict relation over the open proposals in ps.
// Terminal proposals are ignored. Every open proposal gets an entry, empty
// when it conflicts with nothing; id lists are sorted.
//
// Only update and delete changes carry an entity id, so two creates can
// never conflict. The relation is symmetric and is not closed transitively.
func Conflicts(ps []*proposal.Proposal) map[string][]string {
	owners := map[entity.Ref][]string{}
	out := map[string][]string{}

	for _, p := range ps {
		if !p.Status.IsOpen() {
			continue
		}
		out[p.ID] = []string{}
		for _, ref := range p.Refs() {
			owners[ref] = append(owners[ref], p.ID)
		}
	}

	for _, ids := range owners {
		for i, a := range ids {
			for _, b := range ids[i+1:] {
				if a == b {
					continue
				}
				if !slices.Contains(out[a], b) {
					out[a] = append(out[a], b)
				}
				if !slices.Contains(out[b], a) {
					out[b] = append(out[b], a)
				}
			}
		}
	}

	for id := range out {
		slices.Sort(out[id])
	}
	return out
}

// Overlap returns the entities both proposals update or delete.
func Overlap(a, b *proposal.Proposal) []entity.Ref {
	var refs []entity.Ref
	for _, r := range a.Refs() {
		if b.References(r) {
			refs = append(refs, r)
		}
	}
	return refs
}

// Blocking returns the ids of open proposals that conflict with p and were
// queued ahead of it. The oldest of a conflicting group may apply first;
// the others wait for it to resolve.
func Blocking(p *proposal.Proposal, open []*proposal.Proposal) []string {
	var ids []string
	for _, q := range open {
		if q.ID == p.ID || !q.Status.IsOpen() || !proposal.Queued(q, p) {
			continue
		}
		if len(Overlap(p, q)) > 0 {
			ids = append(ids, q.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Contradictions compares each update or delete change of p against the
// current state in snap. A field contradicts when its current value differs
// from the captured before value and from the proposed after value. An
// entity that no longer exists is a single critical contradiction.
func Contradictions(p *proposal.Proposal, snap entity.Snapshot) []proposal.Contradiction {
	out := []proposal.Contradiction{}
	for i := range p.Changes {
		c := &p.Changes[i]
		if !c.Operation.Touches() || c.Before == nil {
			continue
		}
		out = append(out, changeContradictions(c, snap)...)
	}
	return out
}

func changeContradictions(c *proposal.Change, snap entity.Snapshot) []proposal.Contradiction {
	ref := c.Ref()
	name := c.Before.Label()

	cur, ok := snap.Lookup(ref)
	if !ok || cur.Entity == nil {
		return []proposal.Contradiction{{
			Description:          fmt.Sprintf("%s %q (%s) was deleted after this proposal was generated", ref.Kind, name, ref.ID),
			Severity:             proposal.SeverityCritical,
			EntityType:           ref.Kind,
			EntityID:             ref.ID,
			EntityName:           name,
			ProposedValue:        proposedLabel(c),
			ResolutionSuggestion: "Discard this proposal; the entity it edits no longer exists.",
		}}
	}

	var out []proposal.Contradiction
	for _, f := range c.Before.Fields() {
		current, _ := entity.Value(cur.Entity, f.Name)
		if current == f.Value {
			continue
		}
		proposed, hasAfter := entity.Value(c.After, f.Name)
		if hasAfter && current == proposed {
			continue
		}
		sev := SeverityFor(f.Class)
		out = append(out, proposal.Contradiction{
			Description: fmt.Sprintf("%s %q field %s is now %q; the proposal expected %q",
				ref.Kind, name, f.Name, current, f.Value),
			Severity:             sev,
			EntityType:           ref.Kind,
			EntityID:             ref.ID,
			EntityName:           cur.Entity.Label(),
			FieldName:            f.Name,
			FieldClass:           f.Class,
			ProposedValue:        proposed,
			ExistingValue:        current,
			ResolutionSuggestion: suggest(sev, c.Operation, f.Name, current),
		})
	}
	return out
}

// SeverityFor grades a contradiction on a field of the given class.
func SeverityFor(class entity.FieldClass) proposal.Severity {
	switch class {
	case entity.ClassStatus, entity.ClassClassification:
		return proposal.SeverityCritical
	case entity.ClassBusiness:
		return proposal.SeverityImportant
	default:
		return proposal.SeverityMinor
	}
}

func proposedLabel(c *proposal.Change) string {
	if c.After == nil {
		return ""
	}
	return c.After.Label()
}

func suggest(sev proposal.Severity, op proposal.Operation, field, current string) string {
	if op == proposal.OpDelete {
		return "Review the current entity before deleting it; it changed after this proposal was generated."
	}
	switch sev {
	case proposal.SeverityCritical:
		return fmt.Sprintf("Discard and regenerate; %s changed to %q and the proposal was built on the old value.", field, current)
	case proposal.SeverityImportant:
		return fmt.Sprintf("Compare the proposed %s with the current %q before applying.", field, current)
	default:
		return fmt.Sprintf("Keep the current %s unless the proposal is clearly newer.", field)
	}
}
