package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PurgeResult reports how many rows a purge removed.
type PurgeResult struct {
	Events     int64 `json:"events"`
	Encounters int64 `json:"encounters"`
	Sessions   int64 `json:"sessions"`
}

// PurgeBefore removes timeline rows older than the cutoff in one transaction,
// then reclaims the freed pages. Cached identities are kept; they are
// session-independent. Maintenance operation, not part of the live pipeline.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var result PurgeResult
	cutoffStr := formatTime(cutoff)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM encounters WHERE ts < ?`, cutoffStr)
		if err != nil {
			return fmt.Errorf("purge encounters: %w", err)
		}
		result.Encounters, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, cutoffStr)
		if err != nil {
			return fmt.Errorf("purge events: %w", err)
		}
		result.Events, _ = res.RowsAffected()

		// Only sessions with no remaining events are removed.
		res, err = tx.ExecContext(ctx, `
			DELETE FROM world_sessions
			WHERE left_at IS NOT NULL AND left_at < ?
			AND id NOT IN (SELECT DISTINCT session_id FROM events)`, cutoffStr)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		result.Sessions, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, `DELETE FROM parse_failures WHERE created_at < ?`, cutoffStr); err != nil {
			return fmt.Errorf("purge parse failures: %w", err)
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA incremental_vacuum`); err != nil {
		// Vacuum failure is not fatal; the deletes already committed.
		return result, nil
	}
	return result, nil
}
