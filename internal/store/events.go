package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

const eventColumns = `id, ts, type, session_id, player_name, player_id, world_id, world_name, instance_id, dedupe_key, ingested_at, schema_version`

// dedupeKey derives a stable key for an event so that re-reading the same
// log content (backfill after restart, truncation reset) never records the
// same fact twice. Session ids are minted per run and deliberately excluded.
func dedupeKey(e *event.Event) string {
	switch e.Type {
	case event.TypeSessionOpen, event.TypeSessionClose:
		return fmt.Sprintf("%s|%s|%s", formatTime(e.Ts), e.Type, deref(e.WorldID))
	default:
		return fmt.Sprintf("%s|%s|%s", formatTime(e.Ts), e.Type, deref(e.PlayerID))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// insertEventTx inserts an event inside an open transaction.
// Returns inserted=false when the dedupe key already exists.
// On success, sets e.ID to the inserted row's id.
func insertEventTx(ctx context.Context, tx *sql.Tx, e *event.Event) (bool, error) {
	const query = `
	INSERT INTO events
	(ts, type, session_id, player_name, player_id, world_id, world_name, instance_id, dedupe_key, ingested_at, schema_version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(dedupe_key) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, query,
		formatTime(e.Ts),
		e.Type,
		e.SessionID,
		nullString(deref(e.PlayerName)),
		nullString(deref(e.PlayerID)),
		nullString(deref(e.WorldID)),
		nullString(deref(e.WorldName)),
		nullString(deref(e.InstanceID)),
		dedupeKey(e),
		formatTime(e.IngestedAt),
		CurrentSchemaVersion,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return true, nil
}

// QueryFilter contains filter options for querying events.
type QueryFilter struct {
	Since     *time.Time
	Until     *time.Time
	Type      *string
	SessionID *string
	Limit     int
	Cursor    *string
}

// QueryResult contains the result of a query.
type QueryResult struct {
	Items      []event.Event
	NextCursor *string
}

// QueryEvents queries events with optional filters and cursor-based pagination.
func (s *Store) QueryEvents(ctx context.Context, f QueryFilter) (QueryResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString("SELECT " + eventColumns + " FROM events WHERE 1=1")

	if f.Since != nil {
		sb.WriteString(" AND ts >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		sb.WriteString(" AND ts < ?")
		args = append(args, formatTime(*f.Until))
	}
	if f.Type != nil && *f.Type != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, *f.Type)
	}
	if f.SessionID != nil && *f.SessionID != "" {
		sb.WriteString(" AND session_id = ?")
		args = append(args, *f.SessionID)
	}

	// Cursor handling (composite cursor: ts|id)
	if f.Cursor != nil && *f.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(*f.Cursor)
		if err != nil {
			return QueryResult{}, fmt.Errorf("decode cursor: %w", err)
		}
		sb.WriteString(" AND (ts > ? OR (ts = ? AND id > ?))")
		cursorTimeStr := formatTime(cursorTime)
		args = append(args, cursorTimeStr, cursorTimeStr, cursorID)
	}

	sb.WriteString(" ORDER BY ts ASC, id ASC LIMIT ?")
	args = append(args, limit+1) // fetch one extra to detect next page

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	items := make([]event.Event, 0, limit+1)
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return QueryResult{}, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("rows error: %w", err)
	}

	var nextCursor *string
	if len(items) > limit {
		last := items[limit-1]
		items = items[:limit]
		c := EncodeCursor(last.Ts, last.ID)
		nextCursor = &c
	}

	return QueryResult{Items: items, NextCursor: nextCursor}, nil
}

// RecentEvents returns the most recent events in chronological order,
// bounded by limit. Used for subscriber snapshots.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	query := "SELECT " + eventColumns + " FROM events ORDER BY ts DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	items := make([]event.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// CountEvents returns the total number of events in the database.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
