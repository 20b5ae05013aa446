package track

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
	"github.com/graaaaa/vrcwatch/internal/tail"
)

// fakeStore records every write the tracker issues.
type fakeStore struct {
	mu            sync.Mutex
	opens         []*event.Session
	closes        []string
	joins         []string
	leaves        []string
	parseFailures []string

	// adopt, when set, is returned by RecordSessionOpen with inserted=false
	// (the duplicate-join path).
	adopt *event.Session

	// stale, when set, is returned by OpenSession (the unclean-exit path).
	stale       *event.Session
	staleQuery  int
	closeSweeps int

	nextID int64
}

func (f *fakeStore) RecordSessionOpen(ctx context.Context, sess *event.Session, ingestedAt time.Time) (*event.Session, *event.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adopt != nil {
		return f.adopt, nil, false, nil
	}
	cpy := *sess
	f.opens = append(f.opens, &cpy)
	f.nextID++
	ev := &event.Event{ID: f.nextID, Ts: sess.JoinedAt, Type: event.TypeSessionOpen, SessionID: sess.ID}
	return &cpy, ev, true, nil
}

func (f *fakeStore) RecordSessionClose(ctx context.Context, sessionID string, leftAt, ingestedAt time.Time) (*event.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, sessionID)
	f.nextID++
	return &event.Event{ID: f.nextID, Ts: leftAt, Type: event.TypeSessionClose, SessionID: sessionID}, true, nil
}

func (f *fakeStore) RecordPlayerJoin(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time) (*event.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, playerID)
	f.nextID++
	ev := &event.Event{ID: f.nextID, Ts: ts, Type: event.TypePlayerJoin, SessionID: sessionID,
		PlayerID: event.StringPtr(playerID), PlayerName: event.StringPtr(playerName)}
	return ev, true, nil
}

func (f *fakeStore) RecordPlayerLeave(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time) (*event.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, playerID)
	f.nextID++
	ev := &event.Event{ID: f.nextID, Ts: ts, Type: event.TypePlayerLeft, SessionID: sessionID,
		PlayerID: event.StringPtr(playerID), PlayerName: event.StringPtr(playerName)}
	return ev, true, nil
}

func (f *fakeStore) OpenSession(ctx context.Context) (*event.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleQuery++
	if f.stale == nil {
		return nil, fmt.Errorf("no open session")
	}
	return f.stale, nil
}

func (f *fakeStore) CloseOpenSessions(ctx context.Context, leftAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSweeps++
	if f.stale == nil {
		return 0, nil
	}
	f.stale = nil
	return 1, nil
}

func (f *fakeStore) InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parseFailures = append(f.parseFailures, rawLine)
	return true, nil
}

type fakeEnricher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeEnricher) Enqueue(ctx context.Context, playerID, displayName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, playerID)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*event.Message
}

func (f *fakePublisher) Publish(msg *event.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakePublisher) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.Kind
	}
	return out
}

func logLine(body string) tail.Line {
	return tail.Line{Text: "2024.01.02 03:04:05 Log        -  [Behaviour] " + body}
}

func backfillLine(body string) tail.Line {
	l := logLine(body)
	l.Backfill = true
	return l
}

// joinRoom walks the tracker through a full three-marker join.
func joinRoom(ctx context.Context, tr *Tracker, name, worldID string) {
	tr.handleLine(ctx, logLine("Entering Room: "+name))
	tr.handleLine(ctx, logLine("Joining "+worldID+":12345"))
	tr.handleLine(ctx, logLine("Successfully joined room"))
}

func newTracker(st *fakeStore, en *fakeEnricher, pub *fakePublisher) *Tracker {
	// Pass true nil interfaces when the fakes are nil pointers; a typed nil
	// would defeat the tracker's nil checks.
	var enricher Enricher
	if en != nil {
		enricher = en
	}
	var publisher Publisher
	if pub != nil {
		publisher = pub
	}
	var n int
	return New(st, enricher, publisher, WithSessionIDFunc(func() string {
		n++
		return fmt.Sprintf("sess-%d", n)
	}))
}

func TestTracker_PrepareClosesStaleSession(t *testing.T) {
	st := &fakeStore{stale: &event.Session{
		ID:        "sess-old",
		WorldID:   "wrld_x",
		WorldName: "Left Behind",
		JoinedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}}
	tr := newTracker(st, nil, nil)

	if err := tr.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if st.staleQuery != 1 {
		t.Errorf("open-session lookups = %d, want 1", st.staleQuery)
	}
	if st.closeSweeps != 1 {
		t.Errorf("close sweeps = %d, want 1", st.closeSweeps)
	}
	if st.stale != nil {
		t.Error("stale session must be closed by Prepare")
	}
}

func TestTracker_PrepareWithCleanStore(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)

	if err := tr.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if st.closeSweeps != 1 {
		t.Errorf("close sweeps = %d, want 1", st.closeSweeps)
	}
}

func TestTracker_ThreeMarkerJoin(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)
	ctx := context.Background()

	tr.handleLine(ctx, logLine("Entering Room: The Black Cat"))
	if tr.ActiveSession() != nil {
		t.Fatal("room name alone must not open a session")
	}
	tr.handleLine(ctx, logLine("Joining wrld_abc:77"))
	if tr.ActiveSession() != nil {
		t.Fatal("room id alone must not open a session")
	}
	tr.handleLine(ctx, logLine("Successfully joined room"))

	sess := tr.ActiveSession()
	if sess == nil {
		t.Fatal("confirm must open the session")
	}
	if sess.WorldID != "wrld_abc" || sess.WorldName != "The Black Cat" || sess.InstanceID != "77" {
		t.Errorf("session = %+v", sess)
	}
	if len(st.opens) != 1 {
		t.Errorf("opens = %d, want 1", len(st.opens))
	}
}

func TestTracker_ConfirmWithoutDestination(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)

	tr.handleLine(context.Background(), logLine("Successfully joined room"))
	if tr.ActiveSession() != nil || len(st.opens) != 0 {
		t.Error("bare confirm must be ignored")
	}
}

func TestTracker_DuplicateConfirmIsNoOp(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	first := tr.ActiveSession()

	// The client occasionally logs the markers twice for one join.
	joinRoom(ctx, tr, "Alpha", "wrld_1")

	if len(st.opens) != 1 {
		t.Fatalf("opens = %d, want 1", len(st.opens))
	}
	if len(st.closes) != 0 {
		t.Errorf("closes = %d, want 0", len(st.closes))
	}
	if got := tr.ActiveSession(); got.ID != first.ID {
		t.Errorf("session id changed on duplicate confirm: %s -> %s", first.ID, got.ID)
	}
}

func TestTracker_NewDestinationClosesPrevious(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	first := tr.ActiveSession()
	joinRoom(ctx, tr, "Beta", "wrld_2")

	if len(st.opens) != 2 {
		t.Fatalf("opens = %d, want 2", len(st.opens))
	}
	if len(st.closes) != 1 || st.closes[0] != first.ID {
		t.Errorf("closes = %v, want [%s]", st.closes, first.ID)
	}
	if got := tr.ActiveSession(); got.WorldID != "wrld_2" {
		t.Errorf("active world = %s, want wrld_2", got.WorldID)
	}
}

func TestTracker_PlayerJoin(t *testing.T) {
	st := &fakeStore{}
	en := &fakeEnricher{}
	pub := &fakePublisher{}
	tr := newTracker(st, en, pub)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	tr.handleLine(ctx, logLine("OnPlayerJoined Nova (usr_p1)"))

	if len(st.joins) != 1 || st.joins[0] != "usr_p1" {
		t.Fatalf("joins = %v", st.joins)
	}
	if len(en.ids) != 1 || en.ids[0] != "usr_p1" {
		t.Errorf("enqueued = %v, want [usr_p1]", en.ids)
	}
	if tr.PlayerCount() != 1 {
		t.Errorf("player count = %d, want 1", tr.PlayerCount())
	}
}

func TestTracker_PlayerJoinOutsideSessionIgnored(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)

	tr.handleLine(context.Background(), logLine("OnPlayerJoined Nova (usr_p1)"))
	if len(st.joins) != 0 || tr.PlayerCount() != 0 {
		t.Error("join outside a session must be ignored")
	}
}

func TestTracker_BackfillSuppressesEnrichment(t *testing.T) {
	st := &fakeStore{}
	en := &fakeEnricher{}
	tr := newTracker(st, en, nil)
	ctx := context.Background()

	tr.handleLine(ctx, backfillLine("Entering Room: Alpha"))
	tr.handleLine(ctx, backfillLine("Joining wrld_1:1"))
	tr.handleLine(ctx, backfillLine("Successfully joined room"))
	tr.handleLine(ctx, backfillLine("OnPlayerJoined Nova (usr_p1)"))

	if len(st.joins) != 1 {
		t.Errorf("backfill joins must still be recorded, got %d", len(st.joins))
	}
	if len(en.ids) != 0 {
		t.Errorf("backfill joins must not be enriched, got %v", en.ids)
	}
}

func TestTracker_LegacyJoinWithoutID(t *testing.T) {
	st := &fakeStore{}
	en := &fakeEnricher{}
	tr := newTracker(st, en, nil)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	tr.handleLine(ctx, logLine("OnPlayerJoined OldTimer"))

	if tr.PlayerCount() != 1 {
		t.Errorf("player count = %d, want 1", tr.PlayerCount())
	}
	if len(st.joins) != 0 || len(en.ids) != 0 {
		t.Error("joins without a player id have nothing to persist or enrich")
	}

	tr.handleLine(ctx, logLine("OnPlayerLeft OldTimer"))
	if tr.PlayerCount() != 0 {
		t.Errorf("player count after leave = %d, want 0", tr.PlayerCount())
	}
}

func TestTracker_PlayerLeave(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	tr.handleLine(ctx, logLine("OnPlayerJoined Nova (usr_p1)"))
	tr.handleLine(ctx, logLine("OnPlayerLeft Nova (usr_p1)"))

	if len(st.leaves) != 1 || st.leaves[0] != "usr_p1" {
		t.Fatalf("leaves = %v", st.leaves)
	}
	if tr.PlayerCount() != 0 {
		t.Errorf("player count = %d, want 0", tr.PlayerCount())
	}
}

func TestTracker_RoomLeftClosesSession(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	sess := tr.ActiveSession()
	tr.handleLine(ctx, logLine("OnPlayerJoined Nova (usr_p1)"))
	tr.handleLine(ctx, logLine("OnLeftRoom"))

	if len(st.closes) != 1 || st.closes[0] != sess.ID {
		t.Fatalf("closes = %v, want [%s]", st.closes, sess.ID)
	}
	if tr.ActiveSession() != nil {
		t.Error("session must be cleared")
	}
	if tr.PlayerCount() != 0 {
		t.Error("roster must be cleared with the session")
	}
}

func TestTracker_ProcessExitClosesSession(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := make(chan tail.Line)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx, lines)
	}()

	lines <- logLine("Entering Room: Alpha")
	lines <- logLine("Joining wrld_1:1")
	lines <- logLine("Successfully joined room")
	tr.ProcessExited()

	deadline := time.After(2 * time.Second)
	for tr.ActiveSession() != nil {
		select {
		case <-deadline:
			t.Fatal("process exit never closed the session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(lines)
	<-done
	if len(st.closes) != 1 {
		t.Errorf("closes = %d, want 1", len(st.closes))
	}
}

func TestTracker_MangledLineRecordsParseFailure(t *testing.T) {
	st := &fakeStore{}
	tr := newTracker(st, nil, nil)

	mangled := "2024.01.02 03:04:05 Log        -  [Behaviour] OnPlayerJoined "
	tr.handleLine(context.Background(), tail.Line{Text: mangled})

	if len(st.parseFailures) != 1 {
		t.Fatalf("parse failures = %d, want 1", len(st.parseFailures))
	}
	if st.parseFailures[0] != mangled {
		t.Errorf("recorded line = %q", st.parseFailures[0])
	}
}

// The canonical session lifecycle: join a room, one player passes through,
// leave. Checks the broadcast stream a subscriber would observe.
func TestTracker_SessionLifecycleBroadcasts(t *testing.T) {
	st := &fakeStore{}
	pub := &fakePublisher{}
	tr := newTracker(st, &fakeEnricher{}, pub)
	ctx := context.Background()

	joinRoom(ctx, tr, "Alpha", "wrld_1")
	tr.handleLine(ctx, logLine("OnPlayerJoined Nova (usr_p1)"))
	tr.handleLine(ctx, logLine("OnPlayerLeft Nova (usr_p1)"))
	tr.handleLine(ctx, logLine("OnLeftRoom"))

	want := []string{
		event.MsgEvent,       // session_open
		event.MsgPlayerCount, // 0
		event.MsgEvent,       // player_join
		event.MsgPlayerCount, // 1
		event.MsgEvent,       // player_left
		event.MsgPlayerCount, // 0
		event.MsgEvent,       // session_close
		event.MsgSessionClosed,
		event.MsgPlayerCount, // 0
	}
	got := pub.kinds()
	if len(got) != len(want) {
		t.Fatalf("message kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	// Spot-check the player counts in order.
	var counts []int
	pub.mu.Lock()
	for _, m := range pub.msgs {
		if m.Kind == event.MsgPlayerCount {
			var d event.PlayerCountData
			if err := json.Unmarshal(m.Data, &d); err != nil {
				pub.mu.Unlock()
				t.Fatalf("decode count: %v", err)
			}
			counts = append(counts, d.Count)
		}
	}
	pub.mu.Unlock()
	wantCounts := []int{0, 1, 0, 0}
	for i := range wantCounts {
		if counts[i] != wantCounts[i] {
			t.Fatalf("counts = %v, want %v", counts, wantCounts)
		}
	}
}

// A restart mid-session re-reads the join as backfill; the store adopts the
// prior session and the tracker keeps attaching to it.
func TestTracker_BackfillAdoptsPriorSession(t *testing.T) {
	prior := &event.Session{ID: "prior-session", WorldID: "wrld_1", WorldName: "Alpha", InstanceID: "1"}
	st := &fakeStore{adopt: prior}
	tr := newTracker(st, nil, nil)
	ctx := context.Background()

	tr.handleLine(ctx, backfillLine("Entering Room: Alpha"))
	tr.handleLine(ctx, backfillLine("Joining wrld_1:1"))
	tr.handleLine(ctx, backfillLine("Successfully joined room"))

	sess := tr.ActiveSession()
	if sess == nil || sess.ID != "prior-session" {
		t.Fatalf("session = %+v, want adopted prior-session", sess)
	}
}
