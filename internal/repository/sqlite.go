package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// SQLite is a Repository persisted in the proposals table. The full
// proposal is stored as a JSON payload; status and project are indexed
// columns. created_at holds Unix nanoseconds and is the queue order.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an opened database (see internal/database).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

var _ Repository = (*SQLite)(nil)

// Create inserts p.
func (s *SQLite) Create(ctx context.Context, p *proposal.Proposal) error {
	if err := alive(ctx, "create", p.ID); err != nil {
		return err
	}
	if p.ID == "" {
		return errors.NewValidationError("id", "", "is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.NewValidationError("proposal", p.ID, err.Error())
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, project_id, status, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, string(p.Status), p.CreatedAt.Time.UnixNano(), payload)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return duplicate(p.ID)
		}
		return errors.WrapStore("create", p.ID, err)
	}
	return nil
}

// Get loads one proposal.
func (s *SQLite) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	var (
		created int64
		payload []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, payload FROM proposals WHERE id = ?`, id).Scan(&created, &payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.WrapStore("get", id, err)
	}
	return decode(id, created, payload)
}

// List loads a project's proposals in queue order.
func (s *SQLite) List(ctx context.Context, projectID string, statuses ...proposal.Status) ([]*proposal.Proposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, created_at, payload FROM proposals WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, errors.WrapStore("list", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	out := []*proposal.Proposal{}
	for rows.Next() {
		var (
			id, status string
			created    int64
			payload    []byte
		)
		if err := rows.Scan(&id, &status, &created, &payload); err != nil {
			return nil, errors.WrapStore("list", projectID, err)
		}
		if !wanted(statuses, proposal.Status(status)) {
			continue
		}
		p, err := decode(id, created, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("list", projectID, err)
	}
	return out, nil
}

// Save updates ps in a single transaction.
func (s *SQLite) Save(ctx context.Context, ps ...*proposal.Proposal) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStore("save", "", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range ps {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = ?`, p.ID).Scan(&status)
		if stderrors.Is(err, sql.ErrNoRows) {
			return notFound(p.ID)
		}
		if err != nil {
			return errors.WrapStore("save", p.ID, err)
		}
		if err := frozen(&proposal.Proposal{ID: p.ID, Status: proposal.Status(status)}); err != nil {
			return err
		}

		payload, err := json.Marshal(p)
		if err != nil {
			return errors.NewValidationError("proposal", p.ID, err.Error())
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, payload = ? WHERE id = ?`,
			string(p.Status), payload, p.ID); err != nil {
			return errors.WrapStore("save", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapStore("save", "", err)
	}
	return nil
}

// Restore rewrites ps in a single transaction without the terminal check.
func (s *SQLite) Restore(ctx context.Context, ps ...*proposal.Proposal) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStore("restore", "", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range ps {
		payload, err := json.Marshal(p)
		if err != nil {
			return errors.NewValidationError("proposal", p.ID, err.Error())
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, payload = ? WHERE id = ?`,
			string(p.Status), payload, p.ID)
		if err != nil {
			return errors.WrapStore("restore", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return notFound(p.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapStore("restore", "", err)
	}
	return nil
}

// decode restores a payload. The indexed created_at column is authoritative
// for queue order, so it overrides the payload's copy.
func decode(id string, created int64, payload []byte) (*proposal.Proposal, error) {
	var p proposal.Proposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.NewStoreUnavailableError("decode", id, err)
	}
	p.CreatedAt = utc.New(time.Unix(0, created))
	return &p, nil
}
