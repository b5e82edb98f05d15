package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soraq/provider"
)

// ErrStatusCheck means a status request failed and the job is no longer
// tracked. There is no retry.
var ErrStatusCheck = errors.New("status check failed")

// StatusSource is the status half of the generation gateway.
type StatusSource interface {
	Retrieve(ctx context.Context, apiKey, id string) (*provider.Video, error)
}

// DefaultPollInterval is used when no positive interval is configured.
const DefaultPollInterval = 3 * time.Second

// Poller follows one remote job until it reaches a terminal state.
type Poller struct {
	source   StatusSource
	interval time.Duration
}

func NewPoller(source StatusSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{source: source, interval: interval}
}

// Poll queries the job every interval and hands each normalized status to
// publish. It returns the terminal status, ctx.Err() when canceled, or an
// ErrStatusCheck-wrapped error on the first failed request. There is no
// overall deadline.
func (p *Poller) Poll(ctx context.Context, apiKey, jobID string, publish func(provider.VideoStatus)) (provider.VideoStatus, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return provider.VideoStatus{ID: jobID}, ctx.Err()
		case <-ticker.C:
		}

		v, err := p.source.Retrieve(ctx, apiKey, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return provider.VideoStatus{ID: jobID}, ctx.Err()
			}
			return provider.VideoStatus{ID: jobID}, fmt.Errorf("%w: %v", ErrStatusCheck, err)
		}

		vs := v.StatusView()
		if vs.ID == "" {
			vs.ID = jobID
		}
		if publish != nil {
			publish(vs)
		}
		if vs.Status.IsTerminal() {
			return vs, nil
		}
	}
}
