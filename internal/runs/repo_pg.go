package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"grocery-backend/internal/grocery"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `
id, state, bucket, object_key, file_kind, ocr_text, completion_token,
items, error_code, error_message, created_at, transitioned_at`

// Create inserts a new run.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO runs (` + runColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	itemsPayload, err := marshalItems(run.Items)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		run.ID,
		string(run.State),
		run.Input.Bucket,
		run.Input.Key,
		run.Input.FileKind,
		run.OCRText,
		nullableString(run.CompletionToken),
		itemsPayload,
		run.ErrorCode,
		run.ErrorMessage,
		run.CreatedAt,
		run.TransitionedAt,
	)
	return err
}

// GetByID returns a run by its ID.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	const query = `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.DB.QueryRowContext(ctx, query, runID))
}

// Update replaces the stored run.
func (r *PGRepo) Update(ctx context.Context, run Run) error {
	const query = `
UPDATE runs SET
	state = $2, ocr_text = $3, completion_token = $4, items = $5,
	error_code = $6, error_message = $7, transitioned_at = $8
WHERE id = $1`
	itemsPayload, err := marshalItems(run.Items)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query,
		run.ID,
		string(run.State),
		run.OCRText,
		nullableString(run.CompletionToken),
		itemsPayload,
		run.ErrorCode,
		run.ErrorMessage,
		run.TransitionedAt,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveByToken transitions the run suspended on token, if any. The state
// guard in the WHERE clause makes the transition exactly-once: a second
// resolution matches zero rows.
func (r *PGRepo) ResolveByToken(ctx context.Context, token string, state State, items []grocery.Item, errCode, errMessage string, at time.Time) (Run, bool, error) {
	if token == "" {
		return Run{}, false, nil
	}
	const query = `
UPDATE runs SET
	state = $2, items = $3, error_code = $4, error_message = $5, transitioned_at = $6
WHERE completion_token = $1 AND state = $7
RETURNING ` + runColumns
	itemsPayload, err := marshalItems(items)
	if err != nil {
		return Run{}, false, err
	}
	run, err := scanRun(r.DB.QueryRowContext(ctx, query,
		token,
		string(state),
		itemsPayload,
		errCode,
		errMessage,
		at,
		string(StateDispatched),
	))
	if errors.Is(err, ErrNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// ListByState returns runs in the given state, oldest first.
func (r *PGRepo) ListByState(ctx context.Context, state State) ([]Run, error) {
	const query = `SELECT ` + runColumns + ` FROM runs WHERE state = $1 ORDER BY created_at`
	rows, err := r.DB.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (Run, error) {
	run, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

func scanRunRow(row rowScanner) (Run, error) {
	var (
		run        Run
		state      string
		token      sql.NullString
		itemsBytes []byte
	)
	if err := row.Scan(
		&run.ID,
		&state,
		&run.Input.Bucket,
		&run.Input.Key,
		&run.Input.FileKind,
		&run.OCRText,
		&token,
		&itemsBytes,
		&run.ErrorCode,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.TransitionedAt,
	); err != nil {
		return Run{}, err
	}
	run.State = State(state)
	run.CompletionToken = token.String
	if len(itemsBytes) > 0 {
		if err := json.Unmarshal(itemsBytes, &run.Items); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func marshalItems(items []grocery.Item) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repo = (*PGRepo)(nil)
