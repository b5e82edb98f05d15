package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"soraq/config"
	"soraq/ledger"
	"soraq/pricing"
	"soraq/provider"
	"soraq/reference"
)

var (
	ErrNotFound        = errors.New("queue item not found")
	ErrNotPending      = errors.New("queue item is not pending")
	ErrNotInterrupted  = errors.New("queue item is not awaiting confirmation")
	ErrEmptyPrompt     = errors.New("prompt is required")
	ErrInvalidModel    = errors.New("unsupported model")
	ErrInvalidSize     = errors.New("unsupported size")
	ErrInvalidDuration = errors.New("unsupported duration")
)

// statusCheckFailure is shown when a job stops being tracked after a failed
// status request.
const statusCheckFailure = "Failed to check video status"

// Gateway submits jobs and reads their status.
type Gateway interface {
	StatusSource
	Create(ctx context.Context, req provider.CreateRequest) (*provider.Video, error)
}

// Preparer validates reference images up front and conforms them to the
// requested size before submission.
type Preparer interface {
	Validate(payload []byte) (string, error)
	Prepare(payload []byte, size string) ([]byte, error)
}

type Ledger interface {
	Append(jobID, prompt string, cost float64) (ledger.Entry, error)
}

// Snapshotter persists the full queue after every mutation.
type Snapshotter interface {
	SaveQueue(items []Item) error
}

// ArtifactCollector downloads the finished video and returns its local name.
type ArtifactCollector interface {
	Collect(ctx context.Context, apiKey, jobID string) (string, error)
}

// UsageRecorder is told about every successful submission.
type UsageRecorder interface {
	RecordSubmission(ctx context.Context, it Item)
}

// Manager owns the ordered generation queue and its single scheduler. At
// most one item is processing at any time.
type Manager struct {
	cfg        *config.Config
	gateway    Gateway
	poller     *Poller
	ledger     Ledger
	store      Snapshotter
	credential func() string
	preparer   Preparer
	artifacts  ArtifactCollector
	usage      UsageRecorder
	notify     func(Event)
	now        func() time.Time

	mu      sync.Mutex
	items   []*Item
	current *provider.VideoStatus

	wake chan struct{}
	done chan struct{}
}

func NewManager(cfg *config.Config, gateway Gateway, book Ledger, store Snapshotter, credential func() string) (*Manager, error) {
	if gateway == nil {
		return nil, errors.New("queue: gateway is required")
	}
	if book == nil {
		return nil, errors.New("queue: ledger is required")
	}
	if credential == nil {
		credential = func() string { return "" }
	}
	m := &Manager{
		cfg:        cfg,
		gateway:    gateway,
		poller:     NewPoller(gateway, cfg.PollInterval),
		ledger:     book,
		store:      store,
		credential: credential,
		preparer:   reference.NewPreparer(cfg.MaxReferenceSize, cfg.JPEGQuality),
		notify:     func(Event) {},
		now:        time.Now,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	return m, nil
}

func (m *Manager) SetPreparer(p Preparer)                   { m.preparer = p }
func (m *Manager) SetArtifactCollector(a ArtifactCollector) { m.artifacts = a }
func (m *Manager) SetUsageRecorder(u UsageRecorder)         { m.usage = u }

// SetNotifier registers the callback that receives queue and status events.
// It is called outside the manager lock.
func (m *Manager) SetNotifier(fn func(Event)) {
	if fn == nil {
		fn = func(Event) {}
	}
	m.notify = fn
}

// Start launches the scheduler. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	slog.Info("queue scheduler started", "poll_interval", m.cfg.PollInterval)
	go m.schedulerLoop(ctx)
	m.kick()
}

// Wait blocks until the scheduler started by Start has exited.
func (m *Manager) Wait() {
	<-m.done
}

// Enqueue validates the request and appends a new pending item to the tail.
// A reference image of an unsupported type or size is rejected here, before
// anything reaches the network.
func (m *Manager) Enqueue(req Request) (Item, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Item{}, ErrEmptyPrompt
	}
	if !pricing.ValidTier(req.Model) {
		return Item{}, fmt.Errorf("%w: %q", ErrInvalidModel, req.Model)
	}
	if !pricing.ValidSize(req.Size) {
		return Item{}, fmt.Errorf("%w: %q", ErrInvalidSize, req.Size)
	}
	if !pricing.ValidDuration(req.Seconds) {
		return Item{}, fmt.Errorf("%w: %d", ErrInvalidDuration, req.Seconds)
	}
	if len(req.Reference) > 0 && m.preparer != nil {
		if _, err := m.preparer.Validate(req.Reference); err != nil {
			return Item{}, err
		}
	}

	now := m.now()
	it := &Item{
		ID:               fmt.Sprintf("%s_%d", shortuuid.New(), now.Unix()),
		Prompt:           prompt,
		Model:            req.Model,
		Size:             req.Size,
		Duration:         req.Seconds,
		Reference:        req.Reference,
		ReferenceName:    req.ReferenceName,
		ReferenceVideoID: req.ReferenceVideoID,
		Status:           StatusPending,
		SessionUser:      req.SessionUser,
		AddedAt:          now,
		Cost:             pricing.CostForSize(req.Model, req.Size, req.Seconds),
	}

	m.mu.Lock()
	m.items = append(m.items, it)
	snap := it.clone()
	m.persistLocked()
	m.mu.Unlock()

	slog.Info("queue item added", "id", it.ID, "model", it.Model, "size", it.Size, "seconds", it.Duration)
	m.notify(Event{Type: EventItem, Item: &snap})
	m.kick()
	return snap, nil
}

// Reorder swaps a pending item with its neighbor. Moving past either end is
// a no-op.
func (m *Manager) Reorder(id string, dir Direction) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	if m.items[idx].Status != StatusPending {
		m.mu.Unlock()
		return ErrNotPending
	}
	target := idx - 1
	if dir == Down {
		target = idx + 1
	}
	if target < 0 || target >= len(m.items) {
		m.mu.Unlock()
		return nil
	}
	m.items[idx], m.items[target] = m.items[target], m.items[idx]
	m.persistLocked()
	m.mu.Unlock()

	m.notify(Event{Type: EventQueue})
	return nil
}

// Remove deletes a pending item. Terminal items leave only through
// ClearCompleted.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	if m.items[idx].Status != StatusPending {
		m.mu.Unlock()
		return ErrNotPending
	}
	m.items = append(m.items[:idx], m.items[idx+1:]...)
	m.persistLocked()
	m.mu.Unlock()

	slog.Info("queue item removed", "id", id)
	m.notify(Event{Type: EventQueue})
	return nil
}

// ClearCompleted drops every completed or failed item and returns how many
// were removed. Relative order of the rest is kept.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	kept := m.items[:0]
	removed := 0
	for _, it := range m.items {
		if it.Status.IsTerminal() {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(m.items); i++ {
		m.items[i] = nil
	}
	m.items = kept
	if removed > 0 {
		m.persistLocked()
	}
	m.mu.Unlock()

	if removed > 0 {
		m.notify(Event{Type: EventQueue})
	}
	return removed
}

// Confirm releases an item that was interrupted mid-processing and is
// waiting for the user before it is submitted again.
func (m *Manager) Confirm(id string) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	it := m.items[idx]
	if it.Status != StatusPending || !it.Interrupted {
		m.mu.Unlock()
		return ErrNotInterrupted
	}
	it.Interrupted = false
	snap := it.clone()
	m.persistLocked()
	m.mu.Unlock()

	m.notify(Event{Type: EventItem, Item: &snap})
	m.kick()
	return nil
}

// Restore loads a persisted queue. Items that were processing when the
// previous session ended go back to pending; with ConfirmResubmit set they
// also wait for Confirm. Reference payloads never survive a restart.
// Nothing is written until the queue actually changes.
func (m *Manager) Restore(items []Item) {
	m.mu.Lock()
	m.items = m.items[:0]
	for i := range items {
		it := items[i]
		it.Reference = nil
		it.HasReference = false
		it.Progress = nil
		if it.Status == StatusProcessing {
			it.Status = StatusPending
			it.StartedAt = nil
			it.Interrupted = m.cfg.ConfirmResubmit
			slog.Warn("queue item was interrupted and will be resubmitted", "id", it.ID, "job_id", it.JobID, "needs_confirm", it.Interrupted)
		}
		m.items = append(m.items, &it)
	}
	m.mu.Unlock()
}

// List returns a copy of the queue in order.
func (m *Manager) List() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) Get(id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.indexLocked(id); idx >= 0 {
		return m.items[idx].clone(), true
	}
	return Item{}, false
}

// Current returns the latest status of the tracked job, if any.
func (m *Manager) Current() (provider.VideoStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return provider.VideoStatus{}, false
	}
	return *m.current, true
}

func (m *Manager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) schedulerLoop(ctx context.Context) {
	defer close(m.done)
	for {
		for ctx.Err() == nil {
			it, ok := m.claimNext()
			if !ok {
				break
			}
			m.process(ctx, it)
		}

		select {
		case <-ctx.Done():
			slog.Info("queue scheduler shutting down")
			return
		case <-m.wake:
		}
	}
}

// claimNext moves the first eligible pending item to processing. It claims
// nothing while another item is processing.
func (m *Manager) claimNext() (Item, bool) {
	m.mu.Lock()
	var next *Item
	for _, it := range m.items {
		if it.Status == StatusProcessing {
			m.mu.Unlock()
			return Item{}, false
		}
		if next == nil && it.Status == StatusPending && !it.Interrupted {
			next = it
		}
	}
	if next == nil {
		m.mu.Unlock()
		return Item{}, false
	}
	next.Status = StatusProcessing
	started := m.now()
	next.StartedAt = &started
	next.Error = ""
	next.Progress = nil
	claimed := *next
	snap := next.clone()
	m.persistLocked()
	m.mu.Unlock()

	m.notify(Event{Type: EventItem, Item: &snap})
	return claimed, true
}

// process runs one item through submit, poll and bookkeeping. On shutdown
// the item is left processing so the next session sees it as interrupted.
func (m *Manager) process(ctx context.Context, it Item) {
	log := slog.With("id", it.ID)
	log.Info("processing queue item")

	apiKey := m.credential()
	if err := provider.ValidateCredential(apiKey); err != nil {
		m.fail(it.ID, err.Error())
		return
	}

	req := provider.CreateRequest{
		APIKey:  apiKey,
		Prompt:  it.Prompt,
		Model:   string(it.Model),
		Size:    it.Size,
		Seconds: it.Duration,
	}
	if len(it.Reference) > 0 {
		prepared, err := m.preparer.Prepare(it.Reference, it.Size)
		if err != nil {
			m.fail(it.ID, err.Error())
			return
		}
		req.Reference = prepared
		req.ReferenceName = it.ReferenceName
		req.ReferenceType = reference.OutputType
	}

	video, err := m.gateway.Create(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("submission interrupted by shutdown")
			return
		}
		m.fail(it.ID, err.Error())
		return
	}
	log = log.With("job_id", video.ID)
	log.Info("job submitted")

	m.mu.Lock()
	if idx := m.indexLocked(it.ID); idx >= 0 {
		m.items[idx].JobID = video.ID
		m.items[idx].Reference = nil
		it = *m.items[idx]
		m.persistLocked()
	}
	m.mu.Unlock()

	m.publish(video.StatusView())
	if m.usage != nil {
		m.usage.RecordSubmission(ctx, it)
	}

	final, err := m.poller.Poll(ctx, apiKey, video.ID, m.publish)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("stopped tracking job on shutdown")
			return
		}
		log.Error("status check failed", "error", err)
		m.fail(it.ID, statusCheckFailure)
		return
	}

	switch final.Status {
	case provider.StatusCompleted:
		artifact := ""
		if m.artifacts != nil {
			name, err := m.artifacts.Collect(ctx, apiKey, video.ID)
			if err != nil {
				log.Warn("could not retrieve video", "error", err)
			} else {
				artifact = name
			}
		}
		if _, err := m.ledger.Append(video.ID, it.Prompt, it.Cost); err != nil {
			log.Error("could not persist usage ledger", "error", err)
		}
		m.finish(it.ID, func(i *Item) {
			i.Status = StatusCompleted
			i.ArtifactFile = artifact
		})
		log.Info("queue item completed", "cost", it.Cost)
	default:
		m.fail(it.ID, final.FailureMessage())
	}
}

func (m *Manager) fail(id, msg string) {
	slog.Warn("queue item failed", "id", id, "error", msg)
	m.finish(id, func(i *Item) {
		i.Status = StatusFailed
		i.Error = msg
	})
}

func (m *Manager) finish(id string, apply func(*Item)) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	it := m.items[idx]
	apply(it)
	completed := m.now()
	it.CompletedAt = &completed
	snap := it.clone()
	m.persistLocked()
	m.mu.Unlock()

	m.notify(Event{Type: EventItem, Item: &snap})
}

// publish records the latest remote status and attaches progress to the
// matching item.
func (m *Manager) publish(vs provider.VideoStatus) {
	m.mu.Lock()
	m.current = &vs
	for _, it := range m.items {
		if it.JobID == vs.ID && it.Status == StatusProcessing {
			if vs.Progress != nil {
				p := *vs.Progress
				it.Progress = &p
			}
			break
		}
	}
	m.mu.Unlock()

	m.notify(Event{Type: EventStatus, Status: &vs})
}

func (m *Manager) indexLocked(id string) int {
	for i, it := range m.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []Item {
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it.clone())
	}
	return out
}

func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveQueue(m.snapshotLocked()); err != nil {
		slog.Error("could not persist queue", "error", err)
	}
}
