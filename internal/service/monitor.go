package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tophergates/mws-restaurant-reviews/pkg/logger"
)

// Pinger probes the restaurant API.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor tracks whether the restaurant API is reachable and runs a callback
// on every offline to online transition.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	online atomic.Bool

	mu          sync.Mutex
	onReconnect func(ctx context.Context)
}

// NewMonitor creates a monitor that starts in the online state.
func NewMonitor(pinger Pinger, interval time.Duration, log *slog.Logger) *Monitor {
	m := &Monitor{
		pinger:   pinger,
		interval: interval,
		timeout:  interval,
		logger:   logger.Component(log, "connectivity"),
	}
	m.online.Store(true)
	apiOnline.Set(1)
	return m
}

// OnReconnect sets the callback run after the API comes back.
func (m *Monitor) OnReconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = fn
}

// Online reports the last known state.
func (m *Monitor) Online() bool { return m.online.Load() }

// MarkOffline records a failed API call observed elsewhere.
func (m *Monitor) MarkOffline() {
	if m.online.Swap(false) {
		apiOnline.Set(0)
		m.logger.Warn("restaurant API went offline")
	}
}

// Probe pings the API once and updates the state. The reconnect callback
// runs synchronously when the API comes back.
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.pinger.Ping(pctx)
	if err != nil {
		if m.online.Swap(false) {
			apiOnline.Set(0)
			m.logger.WarnContext(ctx, "restaurant API went offline", slog.String("error", err.Error()))
		}
		return false
	}

	if !m.online.Swap(true) {
		apiOnline.Set(1)
		m.logger.InfoContext(ctx, "restaurant API is back online")

		m.mu.Lock()
		fn := m.onReconnect
		m.mu.Unlock()
		if fn != nil {
			fn(ctx)
		}
	}
	return true
}

// Run probes on every tick until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
