package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
	"github.com/graaaaa/vrcwatch/internal/store"
)

// eventsResponse represents the response for the events endpoint.
type eventsResponse struct {
	Items      []event.Event `json:"items"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// handleEvents handles GET /api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventsFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := s.events.Query(r.Context(), filter)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}

	resp := eventsResponse{
		Items:      result.Items,
		NextCursor: result.NextCursor,
	}

	// Ensure Items is an empty array, not null, for JSON serialization
	if resp.Items == nil {
		resp.Items = []event.Event{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseEventsFilter parses query parameters into a QueryFilter.
func parseEventsFilter(r *http.Request) (store.QueryFilter, error) {
	var filter store.QueryFilter
	q := r.URL.Query()

	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("invalid since: %w", err)
		}
		filter.Since = &t
	}

	if u := q.Get("until"); u != "" {
		t, err := time.Parse(time.RFC3339, u)
		if err != nil {
			return filter, fmt.Errorf("invalid until: %w", err)
		}
		filter.Until = &t
	}

	if t := q.Get("type"); t != "" {
		switch t {
		case event.TypeSessionOpen, event.TypeSessionClose, event.TypePlayerJoin, event.TypePlayerLeft:
			filter.Type = &t
		default:
			return filter, fmt.Errorf("invalid type: %s", t)
		}
	}

	if sid := q.Get("session_id"); sid != "" {
		filter.SessionID = &sid
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: %s", l)
		}
		filter.Limit = limit
	}

	if c := q.Get("cursor"); c != "" {
		filter.Cursor = &c
	}

	return filter, nil
}
