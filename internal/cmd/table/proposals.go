// Package table builds the table views of CLI results. Each view is a named
// type over the engine's result so JSON and YAML output keep the original
// shape.
package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/ratify/internal/cmd/output"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/proposal"
	"github.com/agentstation/ratify/pkg/reconcile"
)

const dash = "-"

// Proposals is a proposal listing.
type Proposals []proposal.Summary

// Table implements output.Tabular.
func (ps Proposals) Table() output.Data {
	fields := []string{"id", "title", "status", "changes", "confidence", "stale", "conflicts", "created"}
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = output.Title(f)
	}
	rows := make([][]string, len(ps))
	for i, p := range ps {
		rows[i] = []string{
			p.ID,
			truncate(p.Title, 48),
			string(p.Status),
			fmt.Sprintf("+%d ~%d -%d", p.CreatesCount, p.UpdatesCount, p.DeletesCount),
			strconv.FormatFloat(p.OverallConfidence, 'f', 2, 64),
			yesNo(p.StaleReason != nil),
			orDash(strings.Join(p.ConflictingProposalIDs, ", ")),
			p.CreatedAt.Format(time.DateTime),
		}
	}
	return output.Data{
		Headers:         headers,
		Rows:            rows,
		ColumnAlignment: []output.Align{output.AlignLeft, output.AlignLeft, output.AlignLeft, output.AlignRight, output.AlignRight},
	}
}

// Summaries builds a listing from full proposals.
func Summaries(ps []*proposal.Proposal) Proposals {
	out := make(Proposals, len(ps))
	for i, p := range ps {
		out[i] = p.Summarize()
	}
	return out
}

// Proposal is a single proposal with its changes and contradictions.
type Proposal struct {
	*proposal.Proposal
}

// Table implements output.Tabular. Header facts come first, then one row
// per change and one per contradiction.
func (v Proposal) Table() output.Data {
	p := v.Proposal
	rows := [][]string{
		{"ID", p.ID},
		{"Project", p.ProjectID},
		{"Title", p.Title},
		{"Status", string(p.Status)},
		{"Confidence", strconv.FormatFloat(p.OverallConfidence, 'f', 2, 64)},
		{"Stale", orDash(deref(p.StaleReason))},
		{"Conflicts", orDash(strings.Join(p.ConflictingProposalIDs, ", "))},
	}
	for i := range p.Changes {
		c := &p.Changes[i]
		rows = append(rows, []string{
			fmt.Sprintf("Change %d", i),
			fmt.Sprintf("%s %s: %s", c.Operation, refLabel(c.Ref()), diffLabel(c.Diff())),
		})
	}
	for i, c := range p.Contradictions {
		rows = append(rows, []string{
			fmt.Sprintf("Contradiction %d", i),
			fmt.Sprintf("[%s] %s", c.Severity, c.Description),
		})
	}
	return output.Data{Headers: []string{"Property", "Value"}, Rows: rows}
}

// Preview is a previewed proposal with live diffs.
type Preview reconcile.PreviewResult

// Table implements output.Tabular.
func (v Preview) Table() output.Data {
	rows := make([][]string, 0, len(v.Changes))
	for _, c := range v.Changes {
		version := dash
		if c.Exists {
			version = strconv.FormatInt(c.Version, 10)
		}
		rows = append(rows, []string{
			strconv.Itoa(c.Index),
			string(c.Operation),
			refLabel(c.Ref),
			version,
			diffLabel(c.Diff),
		})
	}
	return output.Data{Headers: []string{"#", "Operation", "Entity", "Live Version", "Diff"}, Rows: rows}
}

// Contradictions is a detection result.
type Contradictions []proposal.Contradiction

// Table implements output.Tabular.
func (cs Contradictions) Table() output.Data {
	rows := make([][]string, len(cs))
	for i, c := range cs {
		rows[i] = []string{
			string(c.Severity),
			c.EntityName,
			orDash(c.FieldName),
			orDash(c.ExistingValue),
			orDash(c.ProposedValue),
			c.Description,
		}
	}
	return output.Data{Headers: []string{"Severity", "Entity", "Field", "Existing", "Proposed", "Description"}, Rows: rows}
}

// Batch is a batch apply or discard result.
type Batch reconcile.BatchResult

// Table implements output.Tabular.
func (b Batch) Table() output.Data {
	rows := make([][]string, len(b.Outcomes))
	for i, o := range b.Outcomes {
		rows[i] = []string{o.ProposalID, string(o.Status), orDash(string(o.Reason)), orDash(o.Message)}
	}
	return output.Data{Headers: []string{"Proposal", "Outcome", "Reason", "Message"}, Rows: rows}
}

func refLabel(r entity.Ref) string {
	if r.ID == "" {
		return string(r.Kind) + "/(new)"
	}
	return r.String()
}

func diffLabel(d []entity.FieldChange) string {
	if len(d) == 0 {
		return "no field changes"
	}
	parts := make([]string, len(d))
	for i, fc := range d {
		parts[i] = fc.Field
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return dash
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Applied is an apply result: one row per committed change.
type Applied reconcile.ApplyResult

// Table implements output.Tabular.
func (a Applied) Table() output.Data {
	rows := make([][]string, len(a.Records))
	for i, r := range a.Records {
		rows[i] = []string{
			strconv.Itoa(i),
			string(a.Proposal.Changes[i].Operation),
			r.Ref.String(),
			strconv.FormatInt(r.Version, 10),
			truncate(r.Hash, 12),
		}
	}
	return output.Data{
		Headers:         []string{"#", "Operation", "Entity", "Version", "Hash"},
		Rows:            rows,
		ColumnAlignment: []output.Align{output.AlignRight, output.AlignLeft, output.AlignLeft, output.AlignRight},
	}
}
