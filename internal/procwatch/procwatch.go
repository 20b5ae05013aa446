// Package procwatch notices when the game client process goes away. The log
// stops mid-session on a crash, so the process exit is the only signal that
// the session actually ended.
package procwatch

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the probe runs.
const DefaultPollInterval = 5 * time.Second

// Probe reports whether the watched process is currently running.
type Probe interface {
	Running() (bool, error)
}

// Watcher polls a Probe and invokes a callback on the running-to-gone
// transition. It never fires before the process has been seen at least once,
// so starting the watcher before the game does is fine.
type Watcher struct {
	probe    Probe
	interval time.Duration
	onExit   func()
	logger   *slog.Logger

	seen bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the probe interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher. onExit is invoked on the watcher goroutine every
// time the process transitions from running to gone.
func New(probe Probe, onExit func(), opts ...Option) *Watcher {
	w := &Watcher{
		probe:    probe,
		interval: DefaultPollInterval,
		onExit:   onExit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. Blocks; run in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) tick() {
	running, err := w.probe.Running()
	if err != nil {
		w.logger.Warn("process probe failed", "error", err)
		return
	}

	switch {
	case running && !w.seen:
		w.seen = true
		w.logger.Info("game client detected")
	case !running && w.seen:
		w.seen = false
		if w.onExit != nil {
			w.onExit()
		}
	}
}
