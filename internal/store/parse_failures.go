package store

import (
	"context"
	"fmt"
	"time"
)

// InsertParseFailure records a log line whose marker matched but whose
// details could not be extracted. Duplicate lines are recorded once.
func (s *Store) InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO parse_failures (raw_line, error_msg, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(raw_line) DO NOTHING`,
		rawLine, errorMsg, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert parse failure: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// CountParseFailures returns the number of recorded parse failures.
func (s *Store) CountParseFailures(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parse_failures`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count parse failures: %w", err)
	}
	return count, nil
}
