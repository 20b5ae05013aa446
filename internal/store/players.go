package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
)

// Encounter directions.
const (
	DirectionJoined = "joined"
	DirectionLeft   = "left"
)

// Encounter links a cached identity to a session sighting.
type Encounter struct {
	ID        int64     `json:"id"`
	PlayerID  string    `json:"player_id"`
	SessionID string    `json:"session_id"`
	Direction string    `json:"direction"`
	Ts        time.Time `json:"ts"`
}

// RecordPlayerJoin records a player joining the session. One transaction
// covers the identity placeholder, the player_join event, the encounter row,
// and the encounter count bump, all-or-nothing.
// Returns inserted=false (and writes nothing) when the event is a duplicate.
func (s *Store) RecordPlayerJoin(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time) (*event.Event, bool, error) {
	return s.recordPlayerEvent(ctx, sessionID, playerID, playerName, ts, ingestedAt, event.TypePlayerJoin)
}

// RecordPlayerLeave records a player leaving the session, with the same
// transactional shape as RecordPlayerJoin. Leaves do not bump the encounter
// count; only observed joins do.
func (s *Store) RecordPlayerLeave(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time) (*event.Event, bool, error) {
	return s.recordPlayerEvent(ctx, sessionID, playerID, playerName, ts, ingestedAt, event.TypePlayerLeft)
}

func (s *Store) recordPlayerEvent(ctx context.Context, sessionID, playerID, playerName string, ts, ingestedAt time.Time, eventType string) (*event.Event, bool, error) {
	if playerID == "" {
		return nil, false, fmt.Errorf("%w: empty player id", ErrInvalidEvent)
	}

	ev := &event.Event{
		Ts:         ts,
		Type:       eventType,
		SessionID:  sessionID,
		PlayerID:   event.StringPtr(playerID),
		PlayerName: event.StringPtr(playerName),
		IngestedAt: ingestedAt,
	}

	direction := DirectionJoined
	if eventType == event.TypePlayerLeft {
		direction = DirectionLeft
	}

	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := insertEventTx(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !ok {
			// Duplicate observation: the identity, encounter, and count
			// from the first recording already stand.
			return nil
		}
		inserted = true

		if err := ensureIdentityTx(ctx, tx, playerID, playerName, ts); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO encounters (player_id, session_id, direction, ts)
			VALUES (?, ?, ?, ?)`,
			playerID, sessionID, direction, formatTime(ts),
		); err != nil {
			return fmt.Errorf("insert encounter: %w", err)
		}

		if eventType == event.TypePlayerJoin {
			if _, err := tx.ExecContext(ctx, `
				UPDATE identities SET encounter_count = encounter_count + 1
				WHERE player_id = ?`, playerID,
			); err != nil {
				return fmt.Errorf("bump encounter count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		return nil, false, nil
	}
	return ev, true, nil
}

// EncountersForPlayer returns the most recent sightings of a player,
// newest first, bounded by limit.
func (s *Store) EncountersForPlayer(ctx context.Context, playerID string, limit int) ([]Encounter, error) {
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, session_id, direction, ts
		FROM encounters
		WHERE player_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query encounters: %w", err)
	}
	defer rows.Close()

	var items []Encounter
	for rows.Next() {
		var (
			e  Encounter
			ts string
		)
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.SessionID, &e.Direction, &ts); err != nil {
			return nil, fmt.Errorf("scan encounter: %w", err)
		}
		t, err := time.Parse(TimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse encounter ts %q: %w", ts, err)
		}
		e.Ts = t
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// CountEncounters returns the number of encounter rows for a player.
func (s *Store) CountEncounters(ctx context.Context, playerID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM encounters WHERE player_id = ?`, playerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count encounters: %w", err)
	}
	return count, nil
}
