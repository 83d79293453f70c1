package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// SQLite is a Ledger persisted in the evidence_ledger table.
type SQLite struct {
	db  *sql.DB
	now func() utc.Time
}

// NewSQLite wraps an opened database (see internal/database).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: utc.Now}
}

var _ Ledger = (*SQLite)(nil)

// Append records entries in one transaction.
func (s *SQLite) Append(ctx context.Context, entries ...Entry) (retErr error) {
	if err := check(ctx, entries); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStore("append", "", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().Time.Format(time.RFC3339Nano)
	for i := range entries {
		e := &entries[i]
		ev := e.Evidence
		if ev == nil {
			ev = []proposal.Evidence{}
		}
		blob, err := json.Marshal(ev)
		if err != nil {
			return errors.NewValidationError("evidence", e.Key(), err.Error())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_ledger
			   (project_id, proposal_id, change_index, kind, entity_id, operation, evidence, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (proposal_id, change_index) DO NOTHING`,
			e.ProjectID, e.ProposalID, e.ChangeIndex, string(e.Ref.Kind), e.Ref.ID,
			string(e.Operation), blob, now); err != nil {
			return errors.WrapStore("append", e.Ref.String(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapStore("append", "", err)
	}
	return nil
}

// List returns matching entries in append order.
func (s *SQLite) List(ctx context.Context, q Query) ([]Entry, error) {
	var kind, id string
	if q.Ref != nil {
		kind, id = string(q.Ref.Kind), q.Ref.ID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, project_id, proposal_id, change_index, kind, entity_id, operation, evidence, recorded_at
		 FROM evidence_ledger
		 WHERE (? = '' OR project_id = ?)
		   AND (? = '' OR proposal_id = ?)
		   AND (? = '' OR (kind = ? AND entity_id = ?))
		 ORDER BY seq`,
		q.ProjectID, q.ProjectID, q.ProposalID, q.ProposalID, kind, kind, id)
	if err != nil {
		return nil, errors.WrapStore("list", "", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			kind, op string
			blob     []byte
			recorded string
		)
		if err := rows.Scan(&e.Seq, &e.ProjectID, &e.ProposalID, &e.ChangeIndex,
			&kind, &e.Ref.ID, &op, &blob, &recorded); err != nil {
			return nil, errors.WrapStore("list", "", err)
		}
		e.Ref.Kind = entity.Kind(kind)
		e.Operation = proposal.Operation(op)
		if err := json.Unmarshal(blob, &e.Evidence); err != nil {
			return nil, errors.NewStoreUnavailableError("decode", e.Key(), err)
		}
		ts, err := time.Parse(time.RFC3339Nano, recorded)
		if err != nil {
			return nil, errors.NewStoreUnavailableError("decode", e.Key(), err)
		}
		e.RecordedAt = utc.New(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("list", "", err)
	}
	return out, nil
}
