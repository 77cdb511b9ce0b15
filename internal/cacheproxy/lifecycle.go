package cacheproxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"
)

// Lifecycle states.
const (
	StateNew        = "new"
	StateInstalling = "installing"
	StateInstalled  = "installed"
	StateActivating = "activating"
	StateActivated  = "activated"
	StateRedundant  = "redundant"
)

const (
	eventInstall       = "install"
	eventInstallDone   = "install_done"
	eventInstallFailed = "install_failed"
	eventActivate      = "activate"
	eventActivateDone  = "activate_done"
	eventActivateAbort = "activate_abort"
)

func newLifecycle(logger *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateNew,
		fsm.Events{
			{Name: eventInstall, Src: []string{StateNew}, Dst: StateInstalling},
			{Name: eventInstallDone, Src: []string{StateInstalling}, Dst: StateInstalled},
			{Name: eventInstallFailed, Src: []string{StateInstalling}, Dst: StateRedundant},
			{Name: eventActivate, Src: []string{StateInstalled}, Dst: StateActivating},
			{Name: eventActivateDone, Src: []string{StateActivating}, Dst: StateActivated},
			{Name: eventActivateAbort, Src: []string{StateActivating}, Dst: StateInstalled},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				logger.DebugContext(ctx, "cache proxy state changed",
					slog.String("from", e.Src),
					slog.String("to", e.Dst),
					slog.String("event", e.Event),
				)
			},
		},
	)
}

// transition fires a lifecycle event, reporting the current state when the
// event is not allowed.
func (p *Proxy) transition(ctx context.Context, event string) error {
	if err := p.lifecycle.Event(ctx, event); err != nil {
		return fmt.Errorf("cache proxy %s in state %s: %w", event, p.lifecycle.Current(), err)
	}
	return nil
}

// State returns the current lifecycle state.
func (p *Proxy) State() string {
	return p.lifecycle.Current()
}

// Activated reports whether requests are served through the caches.
func (p *Proxy) Activated() bool {
	return p.lifecycle.Is(StateActivated)
}
