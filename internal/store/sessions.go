package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
)

// RecordSessionOpen durably records the start of a world session and its
// session_open timeline event.
//
// When the same join was already recorded (backfill re-read after a restart),
// no new rows are written; instead the previously recorded session is adopted
// and returned with left_at cleared, so the caller keeps attaching player
// events to the original session. The bool reports whether a new event row
// was inserted.
func (s *Store) RecordSessionOpen(ctx context.Context, sess *event.Session, ingestedAt time.Time) (*event.Session, *event.Event, bool, error) {
	ev := &event.Event{
		Ts:         sess.JoinedAt,
		Type:       event.TypeSessionOpen,
		SessionID:  sess.ID,
		WorldID:    event.StringPtr(sess.WorldID),
		WorldName:  event.StringPtr(sess.WorldName),
		IngestedAt: ingestedAt,
	}
	if sess.InstanceID != "" {
		ev.InstanceID = event.StringPtr(sess.InstanceID)
	}

	var (
		adopted  *event.Session
		inserted bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// A prior run may already have recorded this join.
		var priorSessionID string
		err := tx.QueryRowContext(ctx,
			`SELECT session_id FROM events WHERE dedupe_key = ?`, dedupeKey(ev),
		).Scan(&priorSessionID)
		switch {
		case err == nil:
			prior, err := sessionByIDTx(ctx, tx, priorSessionID)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE world_sessions SET left_at = NULL WHERE id = ?`, priorSessionID,
			); err != nil {
				return fmt.Errorf("reopen session: %w", err)
			}
			prior.LeftAt = nil
			adopted = prior
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			return fmt.Errorf("lookup prior session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO world_sessions (id, world_id, world_name, instance_id, joined_at, left_at)
			VALUES (?, ?, ?, ?, ?, NULL)`,
			sess.ID, sess.WorldID, sess.WorldName, nullString(sess.InstanceID), formatTime(sess.JoinedAt),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		ok, err := insertEventTx(ctx, tx, ev)
		if err != nil {
			return err
		}
		inserted = ok
		adopted = sess
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	if !inserted {
		return adopted, nil, false, nil
	}
	return adopted, ev, true, nil
}

// RecordSessionClose marks the session as left and records the session_close
// timeline event in the same transaction.
func (s *Store) RecordSessionClose(ctx context.Context, sessionID string, leftAt, ingestedAt time.Time) (*event.Event, bool, error) {
	var (
		ev       *event.Event
		inserted bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := sessionByIDTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE world_sessions SET left_at = ? WHERE id = ?`,
			formatTime(leftAt), sessionID,
		); err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		ev = &event.Event{
			Ts:         leftAt,
			Type:       event.TypeSessionClose,
			SessionID:  sessionID,
			WorldID:    event.StringPtr(sess.WorldID),
			WorldName:  event.StringPtr(sess.WorldName),
			IngestedAt: ingestedAt,
		}
		inserted, err = insertEventTx(ctx, tx, ev)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		return nil, false, nil
	}
	return ev, true, nil
}

const sessionColumns = `id, world_id, world_name, instance_id, joined_at, left_at`

func sessionByIDTx(ctx context.Context, tx *sql.Tx, id string) (*event.Session, error) {
	var r sessionRow
	err := tx.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM world_sessions WHERE id = ?", id,
	).Scan(&r.ID, &r.WorldID, &r.WorldName, &r.InstanceID, &r.JoinedAt, &r.LeftAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r.toSession()
}

// OpenSession returns the most recently opened session that has no left_at,
// or ErrNotFound. Used only on startup; the in-memory state machine is
// authoritative while running.
func (s *Store) OpenSession(ctx context.Context) (*event.Session, error) {
	var r sessionRow
	err := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM world_sessions WHERE left_at IS NULL ORDER BY joined_at DESC LIMIT 1",
	).Scan(&r.ID, &r.WorldID, &r.WorldName, &r.InstanceID, &r.JoinedAt, &r.LeftAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return r.toSession()
}

// CloseOpenSessions stamps left_at on every open session. Called at startup
// so the single-open-session invariant holds before tailing begins.
func (s *Store) CloseOpenSessions(ctx context.Context, leftAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE world_sessions SET left_at = ? WHERE left_at IS NULL`,
		formatTime(leftAt),
	)
	if err != nil {
		return 0, fmt.Errorf("close open sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
