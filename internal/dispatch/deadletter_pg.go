package dispatch

import (
	"context"
	"database/sql"
	"time"
)

// PGDeadLetterStore implements DeadLetterStore using Postgres.
type PGDeadLetterStore struct {
	DB *sql.DB
}

// Put inserts or refreshes a dead-letter record.
func (s *PGDeadLetterStore) Put(ctx context.Context, dl DeadLetter) error {
	const query = `
INSERT INTO dead_letters (
	job_id, run_id, completion_token, body, reason, attempts,
	enqueued_at, dead_lettered_at, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (job_id) DO UPDATE SET
	reason = EXCLUDED.reason,
	attempts = EXCLUDED.attempts,
	dead_lettered_at = EXCLUDED.dead_lettered_at,
	expires_at = EXCLUDED.expires_at`
	_, err := s.DB.ExecContext(ctx, query,
		dl.JobID,
		dl.RunID,
		dl.Token,
		dl.Body,
		dl.Reason,
		dl.Attempts,
		dl.EnqueuedAt,
		dl.DeadLetterAt,
		dl.ExpiresAt,
	)
	return err
}

// List returns all unexpired records.
func (s *PGDeadLetterStore) List(ctx context.Context) ([]DeadLetter, error) {
	const query = `
SELECT job_id, run_id, completion_token, body, reason, attempts,
	enqueued_at, dead_lettered_at, expires_at
FROM dead_letters
WHERE expires_at > NOW()
ORDER BY dead_lettered_at DESC`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(
			&dl.JobID,
			&dl.RunID,
			&dl.Token,
			&dl.Body,
			&dl.Reason,
			&dl.Attempts,
			&dl.EnqueuedAt,
			&dl.DeadLetterAt,
			&dl.ExpiresAt,
		); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// PurgeExpired removes records past their retention window.
func (s *PGDeadLetterStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM dead_letters WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

var _ DeadLetterStore = (*PGDeadLetterStore)(nil)
