package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"soraq/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_FollowsToTerminal(t *testing.T) {
	gw := &mockGateway{retrieveFunc: scripted(map[string][]provider.Video{
		"video_1": {
			{Status: provider.StatusQueued},
			{Status: provider.StatusInProgress, Progress: intPtr(40)},
			{Status: provider.StatusInProgress, Progress: intPtr(140)},
			{Status: provider.StatusCompleted},
		},
	})}
	p := NewPoller(gw, time.Millisecond)

	var seen []provider.VideoStatus
	final, err := p.Poll(context.Background(), testKey, "video_1", func(vs provider.VideoStatus) {
		seen = append(seen, vs)
	})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusCompleted, final.Status)
	require.Len(t, seen, 4)
	assert.Equal(t, 40, *seen[1].Progress)
	assert.Equal(t, 100, *seen[2].Progress)
	assert.Equal(t, "video_1", seen[3].ID)
}

func TestPoller_StopsOnTransportError(t *testing.T) {
	calls := 0
	gw := &mockGateway{retrieveFunc: func(ctx context.Context, apiKey, id string) (*provider.Video, error) {
		calls++
		return nil, errors.New("timeout")
	}}
	p := NewPoller(gw, time.Millisecond)

	_, err := p.Poll(context.Background(), testKey, "video_1", nil)
	assert.ErrorIs(t, err, ErrStatusCheck)
	assert.Equal(t, 1, calls)
}

func TestPoller_Canceled(t *testing.T) {
	gw := &mockGateway{retrieveFunc: func(ctx context.Context, apiKey, id string) (*provider.Video, error) {
		return &provider.Video{ID: id, Status: provider.StatusInProgress}, nil
	}}
	p := NewPoller(gw, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Poll(ctx, testKey, "video_1", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
