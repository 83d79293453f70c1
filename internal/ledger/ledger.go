// Package ledger is the append-only evidence ledger. Each applied change
// produces exactly one entry linking the canonical write to the source
// excerpts that justified it.
package ledger

import (
	"context"
	"fmt"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Entry is one ledger record.
type Entry struct {
	Seq         int64               `json:"seq"`
	ProjectID   string              `json:"project_id"`
	ProposalID  string              `json:"proposal_id"`
	ChangeIndex int                 `json:"change_index"`
	Ref         entity.Ref          `json:"ref"`
	Operation   proposal.Operation  `json:"operation"`
	Evidence    []proposal.Evidence `json:"evidence"`
	RecordedAt  utc.Time            `json:"recorded_at"`
}

// Key identifies an entry for idempotent appends.
func (e *Entry) Key() string {
	return fmt.Sprintf("%s#%d", e.ProposalID, e.ChangeIndex)
}

func (e *Entry) clone() Entry {
	c := *e
	c.Evidence = proposal.CloneEvidence(e.Evidence)
	if c.Evidence == nil {
		c.Evidence = []proposal.Evidence{}
	}
	return c
}

// Query filters List. Zero fields match everything.
type Query struct {
	ProjectID  string
	ProposalID string
	Ref        *entity.Ref
}

func (q Query) matches(e *Entry) bool {
	if q.ProjectID != "" && e.ProjectID != q.ProjectID {
		return false
	}
	if q.ProposalID != "" && e.ProposalID != q.ProposalID {
		return false
	}
	return q.Ref == nil || *q.Ref == e.Ref
}

// Ledger is implemented by the memory and SQLite backends.
//
// Append is atomic: either every entry is recorded or none is. Entries whose
// (proposal id, change index) is already recorded are skipped, so a retried
// append never duplicates evidence.
type Ledger interface {
	Append(ctx context.Context, entries ...Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

func check(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreUnavailableError("append", "", err)
	}
	seen := map[string]bool{}
	for i := range entries {
		e := &entries[i]
		if e.ProjectID == "" || e.ProposalID == "" {
			return errors.NewValidationError(fmt.Sprintf("entries[%d]", i), e.Key(), "project and proposal ids are required")
		}
		if seen[e.Key()] {
			return errors.NewValidationError(fmt.Sprintf("entries[%d]", i), e.Key(), "duplicate change index in batch")
		}
		seen[e.Key()] = true
	}
	return nil
}
