package app

import (
	"context"
	"testing"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
	"github.com/graaaaa/vrcwatch/internal/store"
)

type fakeSessions struct {
	session *event.Session
	players int
}

func (f *fakeSessions) ActiveSession() *event.Session { return f.session }
func (f *fakeSessions) PlayerCount() int              { return f.players }

type fakeDepth int

func (f fakeDepth) Depth() int { return int(f) }

type fakePause bool

func (f fakePause) Paused() bool { return bool(f) }

type fakeStatsStore struct {
	stats  *store.BasicStats
	events []event.Event
}

func (f *fakeStatsStore) GetBasicStats(ctx context.Context, since, until time.Time) (*store.BasicStats, error) {
	return f.stats, nil
}

func (f *fakeStatsStore) RecentEvents(ctx context.Context, limit int) ([]event.Event, error) {
	return f.events, nil
}

func TestStatusService_Handle(t *testing.T) {
	joined := time.Now().Add(-90 * time.Second)
	svc := &StatusService{
		Sessions: &fakeSessions{
			session: &event.Session{ID: "s1", WorldName: "Alpha", JoinedAt: joined},
			players: 4,
		},
		Queue:  fakeDepth(2),
		Notify: fakePause(true),
		Store:  &fakeStatsStore{stats: &store.BasicStats{JoinCount: 7}},
	}

	res, err := svc.Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ActiveSession == nil || res.ActiveSession.ID != "s1" {
		t.Errorf("active session = %+v", res.ActiveSession)
	}
	if res.SessionElapsedSec < 89 || res.SessionElapsedSec > 91 {
		t.Errorf("elapsed = %d, want ~90", res.SessionElapsedSec)
	}
	if res.PlayerCount != 4 || res.QueueDepth != 2 || !res.NotificationsPaused {
		t.Errorf("result = %+v", res)
	}
	if res.Stats == nil || res.Stats.JoinCount != 7 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestStatusService_HandleIdle(t *testing.T) {
	svc := &StatusService{
		Sessions: &fakeSessions{},
		Queue:    fakeDepth(0),
		Notify:   fakePause(false),
		Store:    &fakeStatsStore{stats: &store.BasicStats{}},
	}

	res, err := svc.Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ActiveSession != nil || res.SessionElapsedSec != 0 {
		t.Errorf("idle result = %+v", res)
	}
}

func TestSnapshotService_Message(t *testing.T) {
	svc := &SnapshotService{
		Status: &StatusService{
			Sessions: &fakeSessions{players: 1},
			Queue:    fakeDepth(0),
			Notify:   fakePause(false),
			Store: &fakeStatsStore{
				stats:  &store.BasicStats{JoinCount: 3},
				events: []event.Event{{ID: 1, Type: event.TypeSessionOpen}},
			},
		},
		EventCount: 50,
	}

	msg := svc.Message()
	if msg == nil {
		t.Fatal("snapshot message must not be nil")
	}
	if msg.Kind != event.MsgSnapshot {
		t.Errorf("kind = %q, want snapshot", msg.Kind)
	}
}
