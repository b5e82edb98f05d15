package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"soraq/ledger"
	"soraq/queue"
)

// Well-known keys. A missing key always means "empty/default".
const (
	KeyCredential = "openai_api_key"
	KeyTotalSpent = "total_spent"
	KeyHistory    = "video_history"
	KeyQueue      = "video_queue"
)

// Store is the client-local key/value file backing AppState. The whole file
// is rewritten atomically on every change.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// Open loads path if it exists. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if s.values == nil {
		s.values = map[string]json.RawMessage{}
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Get decodes key into v. It reports false when the key is absent.
func (s *Store) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode state key %s: %w", key, err)
	}
	return true, nil
}

// Set stores every pair in one write.
func (s *Store) Set(pairs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range pairs {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode state key %s: %w", k, err)
		}
		s.values[k] = raw
	}
	return s.flush()
}

func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return s.flush()
}

func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return WriteFile(s.path, append(data, '\n'), 0o600)
}

func (s *Store) Credential() string {
	var key string
	if _, err := s.Get(KeyCredential, &key); err != nil {
		slog.Warn("ignoring unreadable credential", "error", err)
		return ""
	}
	return key
}

func (s *Store) SetCredential(key string) error {
	return s.Set(map[string]any{KeyCredential: key})
}

func (s *Store) ClearCredential() error {
	return s.Delete(KeyCredential)
}

// Ledger returns the persisted spend, or an empty snapshot.
func (s *Store) Ledger() ledger.Snapshot {
	var snap ledger.Snapshot
	if _, err := s.Get(KeyTotalSpent, &snap.Total); err != nil {
		slog.Warn("ignoring unreadable total", "error", err)
		snap.Total = 0
	}
	if _, err := s.Get(KeyHistory, &snap.History); err != nil {
		slog.Warn("ignoring unreadable history", "error", err)
		snap.History = nil
	}
	return snap
}

// SaveLedger writes total and history together.
func (s *Store) SaveLedger(snap ledger.Snapshot) error {
	history := snap.History
	if history == nil {
		history = []ledger.Entry{}
	}
	return s.Set(map[string]any{
		KeyTotalSpent: snap.Total,
		KeyHistory:    history,
	})
}

// Queue returns the persisted queue snapshot exactly as saved; coercion of
// interrupted items is the queue manager's job. An undecodable queue is an
// error so the saved items are never replaced by an empty one.
func (s *Store) Queue() ([]queue.Item, error) {
	var items []queue.Item
	if _, err := s.Get(KeyQueue, &items); err != nil {
		return nil, fmt.Errorf("load %s from %s: %w", KeyQueue, s.path, err)
	}
	return items, nil
}

// SaveQueue persists the queue; an empty queue removes the key.
func (s *Store) SaveQueue(items []queue.Item) error {
	if len(items) == 0 {
		return s.Delete(KeyQueue)
	}
	return s.Set(map[string]any{KeyQueue: items})
}

// WriteFile replaces path atomically through a temp file in the same
// directory.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".soraq-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
