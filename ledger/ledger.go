// soraq/ledger/ledger.go
package ledger

import (
	"sync"
	"time"
	"unicode/utf8"

	"soraq/pricing"
)

const promptPreview = 50

// Entry is one charged job.
type Entry struct {
	ID        string  `json:"id"`
	Prompt    string  `json:"prompt"`
	Cost      float64 `json:"cost"`
	Timestamp string  `json:"timestamp"`
}

// Snapshot is the persisted form of a Book.
type Snapshot struct {
	Total   float64 `json:"total"`
	History []Entry `json:"history"`
}

// Book accumulates spend. Total always equals the sum of History costs:
// when the history is over its limit the two oldest entries are folded into
// one roll-up entry instead of being dropped.
type Book struct {
	mu      sync.Mutex
	total   float64
	history []Entry
	limit   int
	save    func(Snapshot) error
	now     func() time.Time
}

// NewBook creates an empty ledger. save is called with the new state after
// every change; limit <= 0 disables the history bound.
func NewBook(limit int, save func(Snapshot) error) *Book {
	return &Book{limit: limit, save: save, now: time.Now}
}

// Restore replaces the ledger state with a previously saved snapshot. The
// total is recomputed from the history so a hand-edited or stale total can
// not break the sum invariant; a snapshot with a total but no history keeps
// its total as a single roll-up entry.
func (b *Book) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append([]Entry(nil), s.History...)
	if len(b.history) == 0 && s.Total > 0 {
		b.history = []Entry{{Prompt: rollupPrompt, Cost: pricing.Round4(s.Total)}}
	}
	b.total = sum(b.history)
	b.compact()
}

// Append charges one job and persists the result.
func (b *Book) Append(jobID, prompt string, cost float64) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := Entry{
		ID:        jobID,
		Prompt:    Truncate(prompt),
		Cost:      pricing.Round4(cost),
		Timestamp: b.now().UTC().Format(time.RFC3339),
	}
	b.history = append(b.history, e)
	b.total = pricing.Round4(b.total + e.Cost)
	b.compact()
	return e, b.persist()
}

// Reset zeroes total and history together.
func (b *Book) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = 0
	b.history = nil
	return b.persist()
}

func (b *Book) Total() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

func (b *Book) snapshot() Snapshot {
	return Snapshot{Total: b.total, History: append([]Entry{}, b.history...)}
}

func (b *Book) persist() error {
	if b.save == nil {
		return nil
	}
	return b.save(b.snapshot())
}

const rollupPrompt = "(earlier jobs)"

func (b *Book) compact() {
	if b.limit <= 0 {
		return
	}
	for len(b.history) > b.limit && len(b.history) >= 2 {
		merged := Entry{
			Prompt:    rollupPrompt,
			Cost:      pricing.Round4(b.history[0].Cost + b.history[1].Cost),
			Timestamp: b.history[1].Timestamp,
		}
		b.history = append([]Entry{merged}, b.history[2:]...)
	}
}

func sum(entries []Entry) float64 {
	var t float64
	for _, e := range entries {
		t += e.Cost
	}
	return pricing.Round4(t)
}

// Truncate shortens a prompt for display in the history.
func Truncate(prompt string) string {
	if utf8.RuneCountInString(prompt) <= promptPreview {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:promptPreview]) + "..."
}
