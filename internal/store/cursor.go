package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EncodeCursor creates a URL-safe base64-encoded cursor from timestamp and ID.
// Uses RawURLEncoding for safe use in HTTP query parameters.
func EncodeCursor(t time.Time, id int64) string {
	s := fmt.Sprintf("%s|%d", t.UTC().Format(TimeFormat), id)
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// decodeCursor parses a base64-encoded cursor into timestamp and ID.
func decodeCursor(cur string) (time.Time, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(cur)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: base64 decode failed", ErrInvalidCursor)
	}

	tsStr, idStr, ok := strings.Cut(string(b), "|")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}

	t, err := time.Parse(TimeFormat, tsStr)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: invalid timestamp", ErrInvalidCursor)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: invalid id", ErrInvalidCursor)
	}

	return t, id, nil
}
