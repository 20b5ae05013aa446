package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/graaaaa/vrcwatch/internal/event"
)

// Defaults for the queue.
const (
	DefaultMinDelay  = 2 * time.Second
	DefaultQueueSize = 256
)

// Store defines the persistence operations the queue needs.
type Store interface {
	GetIdentity(ctx context.Context, playerID string) (*event.Identity, error)
	UpsertEnrichedIdentity(ctx context.Context, id *event.Identity) (*event.Identity, error)
}

// Alert describes an identity that warrants a notification after enrichment.
type Alert struct {
	Flagged     bool
	DisplayName string
}

// Task is a pending enrichment request.
type Task struct {
	PlayerID    string
	DisplayName string
	// Force bypasses the skip policy (manual re-enrich trigger).
	Force bool
}

// Queue is the single-flight, rate-limited enrichment pipeline. Requests are
// served strictly one at a time with a minimum inter-request delay; the
// pending set is transient and safe to drop on restart.
type Queue struct {
	client  Client
	store   Store
	limiter *rate.Limiter
	logger  *slog.Logger

	tasks  chan Task
	doneCh chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}

	onIdentity func(*event.Identity)
	onAlert    func(Alert)
	onDepth    func(int)
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueSize sets the task channel capacity.
func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.tasks = make(chan Task, n)
		}
	}
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithOnIdentity sets the callback invoked after an identity is upgraded.
func WithOnIdentity(fn func(*event.Identity)) QueueOption {
	return func(q *Queue) { q.onIdentity = fn }
}

// WithOnAlert sets the callback invoked for newcomer or flagged identities.
func WithOnAlert(fn func(Alert)) QueueOption {
	return func(q *Queue) { q.onAlert = fn }
}

// WithOnDepth sets the callback invoked after every enqueue and completion.
func WithOnDepth(fn func(int)) QueueOption {
	return func(q *Queue) { q.onDepth = fn }
}

// NewQueue creates an enrichment queue. minDelay is the minimum spacing
// between outbound requests; it is a hard budget from the upstream service,
// not a tunable for throughput.
func NewQueue(client Client, store Store, minDelay time.Duration, opts ...QueueOption) *Queue {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	q := &Queue{
		client:  client,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(minDelay), 1),
		logger:  slog.Default(),
		tasks:   make(chan Task, DefaultQueueSize),
		doneCh:  make(chan struct{}),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue requests enrichment for a sighted player. The skip policy applies:
// players with a non-placeholder tier above newcomer are already known well
// enough. Newcomers are re-checked on every sighting because their tier can
// change without this system otherwise learning about it.
// Non-blocking; returns immediately.
func (q *Queue) Enqueue(ctx context.Context, playerID, displayName string) {
	if playerID == "" {
		return
	}

	cached, err := q.store.GetIdentity(ctx, playerID)
	if err == nil && !cached.Placeholder() && cached.Tier != event.TierNewcomer {
		return
	}

	q.push(Task{PlayerID: playerID, DisplayName: displayName})
}

// Force requests enrichment regardless of the cached tier (manual trigger).
func (q *Queue) Force(playerID, displayName string) {
	if playerID == "" {
		return
	}
	q.push(Task{PlayerID: playerID, DisplayName: displayName, Force: true})
}

func (q *Queue) push(task Task) {
	q.mu.Lock()
	if _, exists := q.pending[task.PlayerID]; exists {
		q.mu.Unlock()
		return
	}
	q.pending[task.PlayerID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		q.notifyDepth()
	default:
		q.forget(task.PlayerID)
		q.logger.Warn("enrichment queue full, task dropped", "player_id", task.PlayerID)
	}
}

func (q *Queue) forget(playerID string) {
	q.mu.Lock()
	delete(q.pending, playerID)
	q.mu.Unlock()
}

// Depth returns the number of pending tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) notifyDepth() {
	if q.onDepth != nil {
		q.onDepth(q.Depth())
	}
}

// Run processes tasks until ctx is cancelled. Requests are never issued in
// parallel regardless of queue depth. Blocks; run in a goroutine.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			if err := q.limiter.Wait(ctx); err != nil {
				q.forget(task.PlayerID)
				return
			}
			q.process(ctx, task)
			q.forget(task.PlayerID)
			q.notifyDepth()
		}
	}
}

// Done is closed when the run loop has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.doneCh
}

// process performs one lookup and applies its result. Failures drop the
// task without retry; a future sighting re-enqueues it if it still qualifies.
func (q *Queue) process(ctx context.Context, task Task) {
	profile, err := q.client.GetProfile(ctx, task.PlayerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			q.logger.Debug("player not found upstream", "player_id", task.PlayerID)
			return
		}
		q.logger.Warn("enrichment failed",
			"player_id", task.PlayerID,
			"error", err,
		)
		return
	}

	identity := &event.Identity{
		PlayerID:    task.PlayerID,
		DisplayName: profile.DisplayName,
		Tags:        profile.Tags,
		Tier:        TierFromTags(profile.Tags),
		Flagged:     FlaggedFromTags(profile.Tags),
		LastUpdated: time.Now(),
	}
	if identity.DisplayName == "" {
		identity.DisplayName = task.DisplayName
	}

	// The lookup already succeeded; finish the write even if shutdown
	// began while it was in flight.
	updated, err := q.store.UpsertEnrichedIdentity(context.WithoutCancel(ctx), identity)
	if err != nil {
		q.logger.Error("persist enriched identity",
			"player_id", task.PlayerID,
			"error", err,
		)
		return
	}

	q.logger.Debug("identity enriched",
		"player_id", updated.PlayerID,
		"tier", updated.Tier,
		"flagged", updated.Flagged,
	)

	if q.onIdentity != nil {
		q.onIdentity(updated)
	}
	if (updated.Tier == event.TierNewcomer || updated.Flagged) && q.onAlert != nil {
		q.onAlert(Alert{Flagged: updated.Flagged, DisplayName: updated.DisplayName})
	}
}
