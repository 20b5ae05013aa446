package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
	"github.com/graaaaa/vrcwatch/internal/store"
)

// SessionSource exposes the live session state.
type SessionSource interface {
	ActiveSession() *event.Session
	PlayerCount() int
}

// DepthSource exposes the enrichment queue depth.
type DepthSource interface {
	Depth() int
}

// PauseSource exposes the notification pause state.
type PauseSource interface {
	Paused() bool
}

// StatsStore defines the store operations the status and snapshot services need.
type StatsStore interface {
	GetBasicStats(ctx context.Context, since, until time.Time) (*store.BasicStats, error)
	RecentEvents(ctx context.Context, limit int) ([]event.Event, error)
}

// StatusResult represents the current pipeline state.
type StatusResult struct {
	ActiveSession       *event.Session    `json:"active_session"`
	SessionElapsedSec   int64             `json:"session_elapsed_sec"`
	PlayerCount         int               `json:"player_count"`
	QueueDepth          int               `json:"queue_depth"`
	NotificationsPaused bool              `json:"notifications_paused"`
	Stats               *store.BasicStats `json:"stats,omitempty"`
}

// StatusUsecase defines the status use case.
type StatusUsecase interface {
	Handle(ctx context.Context) (StatusResult, error)
}

// StatusService implements StatusUsecase by combining the live sources.
type StatusService struct {
	Sessions SessionSource
	Queue    DepthSource
	Notify   PauseSource
	Store    StatsStore

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Handle returns the current pipeline state.
func (s *StatusService) Handle(ctx context.Context) (StatusResult, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	res := StatusResult{
		ActiveSession:       s.Sessions.ActiveSession(),
		PlayerCount:         s.Sessions.PlayerCount(),
		QueueDepth:          s.Queue.Depth(),
		NotificationsPaused: s.Notify.Paused(),
	}
	if res.ActiveSession != nil {
		res.SessionElapsedSec = int64(now().Sub(res.ActiveSession.JoinedAt).Seconds())
	}

	since, until := store.GetTodayBoundary()
	stats, err := s.Store.GetBasicStats(ctx, since, until)
	if err != nil {
		return StatusResult{}, err
	}
	res.Stats = stats
	return res, nil
}

// Snapshot is the state-of-the-world payload a new live subscriber receives.
type Snapshot struct {
	StatusResult
	RecentEvents []event.Event `json:"recent_events"`
}

// SnapshotService builds snapshot messages for the fan-out hub.
type SnapshotService struct {
	Status     *StatusService
	EventCount int
	Logger     *slog.Logger
}

// Message implements the hub's snapshot hook. A failed build returns nil so
// the subscriber simply starts with live traffic.
func (s *SnapshotService) Message() *event.Message {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := s.Status.Handle(ctx)
	if err != nil {
		logger.Warn("build snapshot status", "error", err)
		return nil
	}

	recent, err := s.Status.Store.RecentEvents(ctx, s.EventCount)
	if err != nil {
		logger.Warn("build snapshot events", "error", err)
		return nil
	}

	msg, err := event.NewMessage(event.MsgSnapshot, Snapshot{
		StatusResult: status,
		RecentEvents: recent,
	})
	if err != nil {
		logger.Warn("marshal snapshot", "error", err)
		return nil
	}
	return msg
}
