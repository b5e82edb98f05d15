package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	schema := `
		CREATE TABLE IF NOT EXISTS video_usage (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		job_id      TEXT NOT NULL,
		model       TEXT NOT NULL,
		resolution  TEXT NOT NULL,
		seconds     INTEGER NOT NULL,
		cost        REAL NOT NULL,
		prompt      TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_video_usage_user ON video_usage(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO video_usage (id, user_id, job_id, model, resolution, seconds, cost, prompt, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.JobID, rec.Model, rec.Resolution, rec.Seconds, rec.Cost, rec.Prompt, rec.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, job_id, model, resolution, seconds, cost, prompt, created_at
FROM video_usage WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
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

func (s *SQLiteStore) Close() error { return s.db.Close() }
