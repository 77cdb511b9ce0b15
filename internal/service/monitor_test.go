package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
)

type scriptedPinger struct {
	results []error
	calls   atomic.Int32
}

func (p *scriptedPinger) Ping(context.Context) error {
	i := int(p.calls.Add(1)) - 1
	if i >= len(p.results) {
		return nil
	}
	return p.results[i]
}

func TestMonitor_Transitions(t *testing.T) {
	down := errors.New("connection refused")
	p := &scriptedPinger{results: []error{down, down, nil, nil}}
	m := NewMonitor(p, time.Second, newTestLogger())

	var reconnects atomic.Int32
	m.OnReconnect(func(context.Context) { reconnects.Add(1) })

	assert.True(t, m.Online())
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
	assert.False(t, m.Probe(context.Background()))
	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Probe(context.Background()))

	assert.True(t, m.Online())
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestMonitor_MarkOfflineThenProbeReconnects(t *testing.T) {
	m := NewMonitor(&scriptedPinger{}, time.Second, newTestLogger())
	var reconnects atomic.Int32
	m.OnReconnect(func(context.Context) { reconnects.Add(1) })

	m.MarkOffline()
	m.MarkOffline()
	assert.False(t, m.Online())

	m.Probe(context.Background())
	assert.True(t, m.Online())
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	p := &scriptedPinger{}
	m := NewMonitor(p, 5*time.Millisecond, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_ReconnectFlushesQueue(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	_, err := repo.QueueReview(context.Background(), domain.ReviewDraft{RestaurantID: 1, Name: "A", Rating: 3})
	require.NoError(t, err)
	gw.On("PostReview", mock.Anything, mock.Anything).Return(domain.Review{ID: 9, RestaurantID: 1, Name: "A", Rating: 3}, nil)
	gw.On("RestaurantReviews", mock.Anything, int64(1)).Return([]domain.Review{{ID: 9, RestaurantID: 1, Rating: 3}}, nil)

	m := NewMonitor(&scriptedPinger{}, time.Second, newTestLogger())
	svc := newTestService(t, gw, repo, m)
	m.OnReconnect(func(ctx context.Context) { _, _ = svc.SyncPending(ctx) })

	m.MarkOffline()
	m.Probe(context.Background())

	left, err := repo.PendingReviews(context.Background())
	require.NoError(t, err)
	assert.Empty(t, left)
	gw.AssertExpectations(t)
}
