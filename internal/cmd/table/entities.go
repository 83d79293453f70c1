package table

import (
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/ratify/internal/cmd/output"
	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/reconcile"
)

// Entities is a canonical entity listing.
type Entities []*knowledge.Record

// Table implements output.Tabular.
func (es Entities) Table() output.Data {
	rows := make([][]string, len(es))
	for i, r := range es {
		status, _ := entity.Value(r.Entity, "status")
		rows[i] = []string{
			r.Ref.String(),
			truncate(r.Entity.Label(), 40),
			orDash(status),
			strconv.FormatInt(r.Version, 10),
			r.UpdatedAt.Format(time.DateTime),
		}
	}
	return output.Data{
		Headers:         []string{"Entity", "Label", "Status", "Version", "Updated"},
		Rows:            rows,
		ColumnAlignment: []output.Align{output.AlignLeft, output.AlignLeft, output.AlignLeft, output.AlignRight},
	}
}

// Entity is one canonical entity, rendered field by field.
type Entity struct {
	*knowledge.Record
}

// Table implements output.Tabular.
func (v Entity) Table() output.Data {
	r := v.Record
	rows := [][]string{
		{"Entity", r.Ref.String()},
		{"Version", strconv.FormatInt(r.Version, 10)},
		{"Hash", r.Hash},
	}
	for _, f := range r.Entity.Fields() {
		rows = append(rows, []string{output.Title(f.Name), orDash(f.Value)})
	}
	return output.Data{Headers: []string{"Field", "Value"}, Rows: rows}
}

// Edit is the result of a direct canonical write.
type Edit reconcile.EditResult

// Table implements output.Tabular.
func (v Edit) Table() output.Data {
	data := Entity{Record: v.Record}.Table()
	data.Rows = append([][]string{{"Operation", string(v.Operation)}}, data.Rows...)
	if n := len(v.Transitions); n > 0 {
		ids := make([]string, n)
		for i, t := range v.Transitions {
			ids[i] = t.ProposalID
		}
		data.Rows = append(data.Rows, []string{"Affected Proposals", strings.Join(ids, ", ")})
	}
	return data
}

// Evidence is a ledger listing.
type Evidence []ledger.Entry

// Table implements output.Tabular. Entries with several excerpts get one
// row per excerpt.
func (es Evidence) Table() output.Data {
	var rows [][]string
	for _, e := range es {
		if len(e.Evidence) == 0 {
			rows = append(rows, []string{strconv.FormatInt(e.Seq, 10), e.ProposalID, string(e.Operation), e.Ref.String(), dash, dash})
			continue
		}
		for _, ev := range e.Evidence {
			rows = append(rows, []string{
				strconv.FormatInt(e.Seq, 10),
				e.ProposalID,
				string(e.Operation),
				e.Ref.String(),
				ev.ChunkID,
				truncate(ev.Excerpt, 60),
			})
		}
	}
	return output.Data{Headers: []string{"Seq", "Proposal", "Operation", "Entity", "Chunk", "Excerpt"}, Rows: rows}
}
