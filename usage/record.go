package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"soraq/queue"
)

var ErrUnknownDriver = errors.New("unknown usage driver")

// Record is one submission attributed to a signed-in user.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	JobID      string    `json:"jobId"`
	Model      string    `json:"model"`
	Resolution string    `json:"resolution"`
	Seconds    int       `json:"seconds"`
	Cost       float64   `json:"cost"`
	Prompt     string    `json:"prompt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is an append-only usage log.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Recent(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

// Open connects the configured backend. Driver "none" or "" returns a nil
// Store, which a Recorder treats as disabled.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "none":
		return nil, nil
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "redis":
		return NewRedisStore(ctx, dsn)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

// Recorder logs submissions when a session user is known. Failures are
// logged and never reach the caller.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Record(ctx context.Context, rec Record) {
	if !r.Enabled() || rec.UserID == "" {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		slog.Warn("failed to log usage", "user", rec.UserID, "job_id", rec.JobID, "error", err)
	}
}

// RecordSubmission logs a queue item that has just been accepted remotely.
func (r *Recorder) RecordSubmission(ctx context.Context, it queue.Item) {
	r.Record(ctx, Record{
		UserID:     it.SessionUser,
		JobID:      it.JobID,
		Model:      string(it.Model),
		Resolution: it.Size,
		Seconds:    it.Duration,
		Cost:       it.Cost,
		Prompt:     it.Prompt,
	})
}

// Recent returns the newest records for a user, newest first.
func (r *Recorder) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	if !r.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return r.store.Recent(ctx, userID, limit)
}

func (r *Recorder) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.store.Close()
}
