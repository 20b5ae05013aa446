// Package track turns classified log lines into session and player state.
// The Tracker is the single writer for the whole pipeline: it applies each
// line in order, persists the outcome, feeds the enrichment queue, and
// broadcasts what changed.
package track

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graaaaa/vrcwatch/internal/event"
	"github.com/graaaaa/vrcwatch/internal/parse"
	"github.com/graaaaa/vrcwatch/internal/tail"
)

// Store is the persistence surface the tracker writes through.
type Store interface {
	RecordSessionOpen(ctx context.Context, sess *event.Session, ingestedAt time.Time) (*event.Session, *event.Event, bool, error)
	RecordSessionClose(ctx context.Context, sessionID string, leftAt, ingestedAt time.Time) (*event.Event, bool, error)
	RecordPlayerJoin(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time) (*event.Event, bool, error)
	RecordPlayerLeave(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time) (*event.Event, bool, error)
	OpenSession(ctx context.Context) (*event.Session, error)
	CloseOpenSessions(ctx context.Context, leftAt time.Time) (int64, error)
	InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error)
}

// Enricher receives join sightings that may need an identity lookup.
type Enricher interface {
	Enqueue(ctx context.Context, playerID, displayName string)
}

// Publisher fans messages out to live subscribers.
type Publisher interface {
	Publish(msg *event.Message)
}

// phase is the tracker's position in the join lifecycle.
type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseInSession
)

// pendingRoom buffers the destination markers seen before the join confirm.
type pendingRoom struct {
	name       string
	worldID    string
	instanceID string
}

// Tracker is the session state machine. All line handling happens on the
// Run goroutine; the mutex only guards the reads the status surface needs.
type Tracker struct {
	store     Store
	enricher  Enricher
	publisher Publisher
	logger    *slog.Logger

	now          func() time.Time
	newSessionID func() string

	procExit chan struct{}

	mu      sync.Mutex
	phase   phase
	pending pendingRoom
	session *event.Session
	roster  map[string]string // roster key -> display name
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithNow sets the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSessionIDFunc sets the session id generator (for testing).
func WithSessionIDFunc(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.newSessionID = fn
		}
	}
}

// New creates a tracker. enricher and publisher may be nil in tests.
func New(store Store, enricher Enricher, publisher Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		store:        store,
		enricher:     enricher,
		publisher:    publisher,
		logger:       slog.Default(),
		now:          time.Now,
		newSessionID: uuid.NewString,
		procExit:     make(chan struct{}, 1),
		roster:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Prepare closes any session left open by an earlier run, restoring the
// at-most-one-open-session invariant before tailing begins. The stale
// session, if any, is named in the log so an unclean exit is visible.
func (t *Tracker) Prepare(ctx context.Context) error {
	if stale, err := t.store.OpenSession(ctx); err == nil && stale != nil {
		t.logger.Info("session left open by previous run",
			"session_id", stale.ID,
			"world_name", stale.WorldName,
			"joined_at", stale.JoinedAt,
		)
	}

	n, err := t.store.CloseOpenSessions(ctx, t.now())
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Info("closed stale sessions from previous run", "count", n)
	}
	return nil
}

// Run consumes lines until the channel closes or ctx is cancelled.
// Blocks; run in a goroutine.
func (t *Tracker) Run(ctx context.Context, lines <-chan tail.Line) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.procExit:
			t.handleProcessExit(ctx)
		case line, ok := <-lines:
			if !ok {
				return
			}
			t.handleLine(ctx, line)
		}
	}
}

// ProcessExited signals that the game client is gone. Safe to call from any
// goroutine; the session close runs on the tracker goroutine.
func (t *Tracker) ProcessExited() {
	select {
	case t.procExit <- struct{}{}:
	default:
	}
}

// ActiveSession returns the current session, or nil.
func (t *Tracker) ActiveSession() *event.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	cpy := *t.session
	return &cpy
}

// PlayerCount returns the current roster size.
func (t *Tracker) PlayerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.roster)
}

func (t *Tracker) handleLine(ctx context.Context, line tail.Line) {
	cl, err := parse.Classify(line.Text)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			if _, ierr := t.store.InsertParseFailure(ctx, perr.Line, perr.Err.Error()); ierr != nil {
				t.logger.Warn("record parse failure", "error", ierr)
			}
		}
		t.logger.Debug("mangled log line skipped", "error", err)
		return
	}

	switch cl.Kind {
	case parse.KindRoomName:
		t.mu.Lock()
		t.pending.name = cl.RoomName
		if t.phase != phaseInSession {
			t.phase = phaseJoining
		}
		t.mu.Unlock()

	case parse.KindRoomID:
		t.mu.Lock()
		t.pending.worldID = cl.WorldID
		t.pending.instanceID = cl.InstanceID
		if t.phase != phaseInSession {
			t.phase = phaseJoining
		}
		t.mu.Unlock()

	case parse.KindJoinConfirm:
		t.handleJoinConfirm(ctx, cl)

	case parse.KindPlayerJoin:
		t.handlePlayerJoin(ctx, cl, line.Backfill)

	case parse.KindPlayerLeft:
		t.handlePlayerLeft(ctx, cl)

	case parse.KindRoomLeft:
		t.closeSession(ctx, cl.Ts)
	}
}

func (t *Tracker) handleJoinConfirm(ctx context.Context, cl parse.Line) {
	t.mu.Lock()
	pending := t.pending
	current := t.session
	t.mu.Unlock()

	if pending.worldID == "" {
		// A confirm with no destination markers before it carries nothing
		// actionable.
		t.logger.Debug("join confirm without destination, ignored")
		return
	}

	// The client sometimes logs the confirm twice for one join.
	if current != nil &&
		current.WorldID == pending.worldID &&
		current.InstanceID == pending.instanceID {
		t.logger.Debug("duplicate join confirm for active session", "session_id", current.ID)
		return
	}

	// A new destination while a session is open implies the old one ended,
	// even if its leave line was lost.
	if current != nil {
		t.closeSession(ctx, cl.Ts)
	}

	sess := &event.Session{
		ID:         t.newSessionID(),
		WorldID:    pending.worldID,
		WorldName:  pending.name,
		InstanceID: pending.instanceID,
		JoinedAt:   cl.Ts,
	}

	adopted, ev, inserted, err := t.store.RecordSessionOpen(ctx, sess, t.now())
	if err != nil {
		t.logger.Error("record session open", "world_id", sess.WorldID, "error", err)
		return
	}

	t.mu.Lock()
	t.session = adopted
	t.phase = phaseInSession
	t.roster = make(map[string]string)
	t.pending = pendingRoom{}
	t.mu.Unlock()

	t.logger.Info("session opened",
		"session_id", adopted.ID,
		"world_id", adopted.WorldID,
		"world_name", adopted.WorldName,
	)
	if inserted {
		t.publishEvent(ev)
	}
	t.publishPlayerCount()
}

// rosterKey prefers the stable player id; ancient logs omit it.
func rosterKey(cl parse.Line) string {
	if cl.PlayerID != "" {
		return cl.PlayerID
	}
	return "name:" + cl.PlayerName
}

func (t *Tracker) handlePlayerJoin(ctx context.Context, cl parse.Line, backfill bool) {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		t.logger.Debug("player join outside session, ignored", "player", cl.PlayerName)
		return
	}
	sessionID := t.session.ID
	t.roster[rosterKey(cl)] = cl.PlayerName
	t.mu.Unlock()

	if cl.PlayerID == "" {
		// Roster only; without a stable id there is nothing to persist or
		// enrich.
		t.logger.Debug("player join without id", "player", cl.PlayerName)
		t.publishPlayerCount()
		return
	}

	ev, inserted, err := t.store.RecordPlayerJoin(ctx, sessionID, cl.PlayerID, cl.PlayerName, cl.Ts, t.now())
	if err != nil {
		t.logger.Error("record player join", "player_id", cl.PlayerID, "error", err)
	}

	if inserted && !backfill && t.enricher != nil {
		t.enricher.Enqueue(ctx, cl.PlayerID, cl.PlayerName)
	}
	if inserted {
		t.publishEvent(ev)
	}
	t.publishPlayerCount()
}

func (t *Tracker) handlePlayerLeft(ctx context.Context, cl parse.Line) {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		t.logger.Debug("player leave outside session, ignored", "player", cl.PlayerName)
		return
	}
	sessionID := t.session.ID
	delete(t.roster, rosterKey(cl))
	t.mu.Unlock()

	if cl.PlayerID == "" {
		t.publishPlayerCount()
		return
	}

	ev, inserted, err := t.store.RecordPlayerLeave(ctx, sessionID, cl.PlayerID, cl.PlayerName, cl.Ts, t.now())
	if err != nil {
		t.logger.Error("record player leave", "player_id", cl.PlayerID, "error", err)
	}
	if inserted {
		t.publishEvent(ev)
	}
	t.publishPlayerCount()
}

func (t *Tracker) handleProcessExit(ctx context.Context) {
	t.logger.Info("game client exited")
	t.closeSession(ctx, t.now())
}

// closeSession ends the active session, if any, at ts.
func (t *Tracker) closeSession(ctx context.Context, ts time.Time) {
	t.mu.Lock()
	current := t.session
	t.session = nil
	t.roster = make(map[string]string)
	t.phase = phaseIdle
	t.pending = pendingRoom{}
	t.mu.Unlock()

	if current == nil {
		return
	}

	ev, inserted, err := t.store.RecordSessionClose(ctx, current.ID, ts, t.now())
	if err != nil {
		t.logger.Error("record session close", "session_id", current.ID, "error", err)
		return
	}

	t.logger.Info("session closed", "session_id", current.ID, "world_name", current.WorldName)
	if inserted {
		t.publishEvent(ev)
	}
	closed := *current
	closed.LeftAt = &ts
	if msg, merr := event.NewMessage(event.MsgSessionClosed, event.SessionClosedData{Session: closed}); merr == nil {
		t.publish(msg)
	}
	t.publishPlayerCount()
}

func (t *Tracker) publish(msg *event.Message) {
	if t.publisher != nil {
		t.publisher.Publish(msg)
	}
}

func (t *Tracker) publishEvent(ev *event.Event) {
	if ev == nil {
		return
	}
	msg, err := event.NewMessage(event.MsgEvent, ev)
	if err != nil {
		t.logger.Warn("marshal event message", "error", err)
		return
	}
	t.publish(msg)
}

func (t *Tracker) publishPlayerCount() {
	msg, err := event.NewMessage(event.MsgPlayerCount, event.PlayerCountData{Count: t.PlayerCount()})
	if err != nil {
		return
	}
	t.publish(msg)
}
