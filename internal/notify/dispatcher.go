// Package notify delivers in-headset alerts through XSOverlay. A WebSocket
// transport is preferred; a legacy UDP datagram transport covers installs
// where the WebSocket API is disabled.
package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Transport delivers one rendered payload to the overlay.
type Transport interface {
	// Send delivers the payload. Best effort; the caller does not retry.
	Send(ctx context.Context, p Payload) error
	// Ready reports whether the transport can deliver right now.
	Ready() bool
}

// Dispatcher routes alerts to exactly one transport per call and owns the
// global pause switch. Pausing is a delivery gate only; transports keep
// their connections and state.
type Dispatcher struct {
	primary   Transport
	secondary Transport
	paused    atomic.Bool
	logger    *slog.Logger

	onPause func(bool)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithOnPause sets a callback invoked whenever the pause state changes.
func WithOnPause(fn func(paused bool)) DispatcherOption {
	return func(d *Dispatcher) { d.onPause = fn }
}

// NewDispatcher creates a dispatcher. secondary may be nil; primary must not.
func NewDispatcher(primary, secondary Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		primary:   primary,
		secondary: secondary,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify delivers one alert. Paused dispatchers drop silently. The primary
// transport is used whenever it reports ready; otherwise the secondary gets
// the payload. Never both.
func (d *Dispatcher) Notify(ctx context.Context, kind Kind, displayName string) {
	if d.paused.Load() {
		d.logger.Debug("notifications paused, alert dropped",
			"kind", kind.String(),
			"display_name", displayName,
		)
		return
	}

	payload := BuildPayload(kind, displayName)

	t := d.primary
	if !t.Ready() && d.secondary != nil {
		t = d.secondary
	}
	if err := t.Send(ctx, payload); err != nil {
		d.logger.Warn("notification delivery failed",
			"kind", kind.String(),
			"error", err,
		)
	}
}

// SetPaused sets the pause state and reports whether it changed.
func (d *Dispatcher) SetPaused(paused bool) bool {
	changed := d.paused.Swap(paused) != paused
	if changed && d.onPause != nil {
		d.onPause(paused)
	}
	return changed
}

// Toggle flips the pause state and returns the new value.
func (d *Dispatcher) Toggle() bool {
	for {
		old := d.paused.Load()
		if d.paused.CompareAndSwap(old, !old) {
			if d.onPause != nil {
				d.onPause(!old)
			}
			return !old
		}
	}
}

// Paused reports the current pause state.
func (d *Dispatcher) Paused() bool {
	return d.paused.Load()
}
