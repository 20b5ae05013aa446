package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
)

// eventRow is the internal type representing an events table row.
type eventRow struct {
	ID            int64
	Ts            string
	Type          string
	SessionID     string
	PlayerName    sql.NullString
	PlayerID      sql.NullString
	WorldID       sql.NullString
	WorldName     sql.NullString
	InstanceID    sql.NullString
	DedupeKey     string
	IngestedAt    string
	SchemaVersion int
}

// toEvent converts a database row to an Event.
func (r *eventRow) toEvent() (*event.Event, error) {
	ts, err := time.Parse(TimeFormat, r.Ts)
	if err != nil {
		return nil, fmt.Errorf("parse ts %q: %w", r.Ts, err)
	}

	ingestedAt, err := time.Parse(TimeFormat, r.IngestedAt)
	if err != nil {
		return nil, fmt.Errorf("parse ingested_at %q: %w", r.IngestedAt, err)
	}

	e := &event.Event{
		ID:         r.ID,
		Ts:         ts,
		Type:       r.Type,
		SessionID:  r.SessionID,
		IngestedAt: ingestedAt,
	}

	if r.PlayerName.Valid {
		e.PlayerName = &r.PlayerName.String
	}
	if r.PlayerID.Valid {
		e.PlayerID = &r.PlayerID.String
	}
	if r.WorldID.Valid {
		e.WorldID = &r.WorldID.String
	}
	if r.WorldName.Valid {
		e.WorldName = &r.WorldName.String
	}
	if r.InstanceID.Valid {
		e.InstanceID = &r.InstanceID.String
	}
	return e, nil
}

// scanEvent scans one row from a query over the standard event column list.
func scanEvent(scan func(dest ...any) error) (*event.Event, error) {
	var r eventRow
	if err := scan(
		&r.ID, &r.Ts, &r.Type, &r.SessionID, &r.PlayerName, &r.PlayerID,
		&r.WorldID, &r.WorldName, &r.InstanceID, &r.DedupeKey,
		&r.IngestedAt, &r.SchemaVersion,
	); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return r.toEvent()
}

// sessionRow is the internal type representing a world_sessions table row.
type sessionRow struct {
	ID         string
	WorldID    string
	WorldName  string
	InstanceID sql.NullString
	JoinedAt   string
	LeftAt     sql.NullString
}

// toSession converts a database row to a Session.
func (r *sessionRow) toSession() (*event.Session, error) {
	joined, err := time.Parse(TimeFormat, r.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("parse joined_at %q: %w", r.JoinedAt, err)
	}

	s := &event.Session{
		ID:        r.ID,
		WorldID:   r.WorldID,
		WorldName: r.WorldName,
		JoinedAt:  joined,
	}
	if r.InstanceID.Valid {
		s.InstanceID = r.InstanceID.String
	}
	if r.LeftAt.Valid {
		left, err := time.Parse(TimeFormat, r.LeftAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse left_at %q: %w", r.LeftAt.String, err)
		}
		s.LeftAt = &left
	}
	return s, nil
}

// identityRow is the internal type representing an identities table row.
type identityRow struct {
	PlayerID       string
	DisplayName    string
	TagsJSON       string
	Tier           string
	Flagged        bool
	FirstSeen      string
	LastUpdated    string
	EncounterCount int64
}

// toIdentity converts a database row to an Identity.
func (r *identityRow) toIdentity() (*event.Identity, error) {
	firstSeen, err := time.Parse(TimeFormat, r.FirstSeen)
	if err != nil {
		return nil, fmt.Errorf("parse first_seen %q: %w", r.FirstSeen, err)
	}
	lastUpdated, err := time.Parse(TimeFormat, r.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated %q: %w", r.LastUpdated, err)
	}

	var tags []string
	if r.TagsJSON != "" {
		if err := json.Unmarshal([]byte(r.TagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("parse tags %q: %w", r.TagsJSON, err)
		}
	}

	return &event.Identity{
		PlayerID:       r.PlayerID,
		DisplayName:    r.DisplayName,
		Tags:           tags,
		Tier:           event.TrustTier(r.Tier),
		Flagged:        r.Flagged,
		FirstSeen:      firstSeen,
		LastUpdated:    lastUpdated,
		EncounterCount: r.EncounterCount,
	}, nil
}

// formatTime renders a timestamp in the store's canonical format.
func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
