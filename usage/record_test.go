package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"soraq/pricing"
	"soraq/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	records    []Record
	insertFunc func(rec Record) error
	closed     bool
}

func (f *fakeStore) Insert(_ context.Context, rec Record) error {
	if f.insertFunc != nil {
		if err := f.insertFunc(rec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) Recent(_ context.Context, userID string, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].UserID == userID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func TestRecorder_SkipsWithoutSession(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)

	r.Record(context.Background(), Record{JobID: "video_1"})
	assert.Empty(t, store.records)
}

func TestRecorder_FillsIDAndTime(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store)
	fixed := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.RecordSubmission(context.Background(), queue.Item{
		SessionUser: "user-1",
		JobID:       "video_1",
		Model:       pricing.TierSora2Pro,
		Size:        "1792x1024",
		Duration:    12,
		Cost:        12,
		Prompt:      "city at night",
	})

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, fixed, rec.CreatedAt)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "sora-2-pro", rec.Model)
	assert.Equal(t, "1792x1024", rec.Resolution)
	assert.Equal(t, 12, rec.Seconds)
}

func TestRecorder_SwallowsStoreErrors(t *testing.T) {
	store := &fakeStore{insertFunc: func(Record) error { return errors.New("db down") }}
	r := NewRecorder(store)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Record{UserID: "u", JobID: "video_1"})
	})
	assert.Empty(t, store.records)
}

func TestRecorder_Disabled(t *testing.T) {
	var r *Recorder
	assert.False(t, r.Enabled())
	r.Record(context.Background(), Record{UserID: "u"})
	recs, err := r.Recent(context.Background(), "u", 10)
	assert.NoError(t, err)
	assert.Nil(t, recs)
	assert.NoError(t, r.Close())

	assert.False(t, NewRecorder(nil).Enabled())
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), "none", "")
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = Open(context.Background(), "mongo", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer store.Close()

	r := NewRecorder(store)
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, job := range []string{"video_1", "video_2", "video_3"} {
		r.Record(context.Background(), Record{
			UserID: "user-1", JobID: job, Model: "sora-2", Resolution: "1280x720",
			Seconds: 4, Cost: 0.8, Prompt: "p", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	r.Record(context.Background(), Record{UserID: "user-2", JobID: "video_x", CreatedAt: base})

	recs, err := r.Recent(context.Background(), "user-1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "video_3", recs[0].JobID)
	assert.Equal(t, "video_2", recs[1].JobID)
	assert.InDelta(t, 0.8, recs[0].Cost, 1e-9)
}
