package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS video_usage (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	job_id      TEXT NOT NULL,
	model       TEXT NOT NULL,
	resolution  TEXT NOT NULL,
	seconds     INTEGER NOT NULL,
	cost        DOUBLE PRECISION NOT NULL,
	prompt      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_video_usage_user ON video_usage(user_id, created_at DESC);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO video_usage (id, user_id, job_id, model, resolution, seconds, cost, prompt, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, rec.JobID, rec.Model, rec.Resolution, rec.Seconds, rec.Cost, rec.Prompt, rec.CreatedAt)
	return err
}

func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, job_id, model, resolution, seconds, cost, prompt, created_at
FROM video_usage WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.JobID, &r.Model, &r.Resolution, &r.Seconds, &r.Cost, &r.Prompt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
