package knowledge

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// SQLite is a Store persisted in the entities table. Each commit is a
// single transaction; every mutation in it bumps the project revision.
type SQLite struct {
	db  *sql.DB
	now func() utc.Time
}

// NewSQLite wraps an opened database (see internal/database).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: utc.Now}
}

var _ Store = (*SQLite)(nil)

// Get returns the record for ref or NotFound.
func (s *SQLite) Get(ctx context.Context, projectID string, ref entity.Ref) (*Record, error) {
	if err := alive(ctx, "get", ref); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT data, hash, version, updated_at FROM entities WHERE project_id = ? AND kind = ? AND id = ?`,
		projectID, string(ref.Kind), ref.ID)
	rec, err := scanRecord(row, projectID, ref)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(ref)
	}
	if err != nil {
		return nil, errors.WrapStore("get", ref.String(), err)
	}
	return rec, nil
}

// Commit applies one mutation in a transaction.
func (s *SQLite) Commit(ctx context.Context, projectID string, mut Mutation) (*Record, error) {
	recs, err := s.CommitAll(ctx, projectID, []Mutation{mut})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// CommitAll applies muts in order inside a single transaction.
func (s *SQLite) CommitAll(ctx context.Context, projectID string, muts []Mutation) (out []*Record, retErr error) {
	for _, mut := range muts {
		if err := validate(mut); err != nil {
			return nil, err
		}
	}
	if len(muts) == 0 {
		return []*Record{}, nil
	}
	if err := alive(ctx, "commit", muts[0].Ref); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapStore("commit", muts[0].Ref.String(), err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	out = make([]*Record, 0, len(muts))
	for _, mut := range muts {
		rec, err := s.commitTx(ctx, tx, projectID, mut)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.WrapStore("commit", muts[0].Ref.String(), err)
	}
	return out, nil
}

func (s *SQLite) commitTx(ctx context.Context, tx *sql.Tx, projectID string, mut Mutation) (*Record, error) {
	ref := mut.Ref
	if mut.Op == proposal.OpCreate && ref.ID == "" {
		ref.ID = NewID()
	}

	existing, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT data, hash, version, updated_at FROM entities WHERE project_id = ? AND kind = ? AND id = ?`,
		projectID, string(ref.Kind), ref.ID), projectID, ref)
	exists := err == nil
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapStore("commit", ref.String(), err)
	}

	switch {
	case mut.Op == proposal.OpCreate && exists:
		return nil, errors.NewValidationError("entity_id", ref.ID, "already exists")
	case mut.Op != proposal.OpCreate && !exists:
		return nil, notFound(ref)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO revisions (project_id, seq) VALUES (?, 1)
		 ON CONFLICT (project_id) DO UPDATE SET seq = seq + 1
		 RETURNING seq`, projectID).Scan(&seq); err != nil {
		return nil, errors.WrapStore("commit", ref.String(), err)
	}
	now := s.now()

	if mut.Op == proposal.OpDelete {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE project_id = ? AND kind = ? AND id = ?`,
			projectID, string(ref.Kind), ref.ID); err != nil {
			return nil, errors.WrapStore("commit", ref.String(), err)
		}
		existing.Version = seq
		existing.UpdatedAt = now
		return existing, nil
	}

	data, err := entity.Encode(mut.After)
	if err != nil {
		return nil, errors.NewValidationError("after", nil, err.Error())
	}
	hash, err := entity.Hash(mut.After)
	if err != nil {
		return nil, errors.NewValidationError("after", nil, err.Error())
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (project_id, kind, id, data, hash, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, kind, id) DO UPDATE SET
		   data = excluded.data, hash = excluded.hash,
		   version = excluded.version, updated_at = excluded.updated_at`,
		projectID, string(ref.Kind), ref.ID, []byte(data), hash, seq, now.Time.Format(time.RFC3339Nano)); err != nil {
		return nil, errors.WrapStore("commit", ref.String(), err)
	}
	return &Record{
		ProjectID: projectID,
		Ref:       ref,
		Entity:    entity.Clone(mut.After),
		Hash:      hash,
		Version:   seq,
		UpdatedAt: now,
	}, nil
}

// List returns the project's records of kind, or all kinds when kind is
// empty, ordered by ref.
func (s *SQLite) List(ctx context.Context, projectID string, kind entity.Kind) ([]*Record, error) {
	if err := alive(ctx, "list", entity.Ref{Kind: kind}); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, id, data, hash, version, updated_at FROM entities
		 WHERE project_id = ? AND (? = '' OR kind = ?)
		 ORDER BY kind, id`, projectID, string(kind), string(kind))
	if err != nil {
		return nil, errors.WrapStore("list", string(kind), err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Record{}
	for rows.Next() {
		var k, id string
		var data []byte
		var hash, updated string
		var version int64
		if err := rows.Scan(&k, &id, &data, &hash, &version, &updated); err != nil {
			return nil, errors.WrapStore("list", string(kind), err)
		}
		rec, err := buildRecord(projectID, entity.Ref{Kind: entity.Kind(k), ID: id}, data, hash, version, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("list", string(kind), err)
	}
	return out, nil
}

func scanRecord(row *sql.Row, projectID string, ref entity.Ref) (*Record, error) {
	var data []byte
	var hash, updated string
	var version int64
	if err := row.Scan(&data, &hash, &version, &updated); err != nil {
		return nil, err
	}
	return buildRecord(projectID, ref, data, hash, version, updated)
}

func buildRecord(projectID string, ref entity.Ref, data []byte, hash string, version int64, updated string) (*Record, error) {
	e, err := entity.Decode(ref.Kind, data)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("decode", ref.String(), err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("decode", ref.String(), err)
	}
	return &Record{
		ProjectID: projectID,
		Ref:       ref,
		Entity:    e,
		Hash:      hash,
		Version:   version,
		UpdatedAt: utc.New(ts),
	}, nil
}
