package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// pauseRequest is the optional body for the pause endpoint. Without a body
// the endpoint toggles.
type pauseRequest struct {
	Paused *bool `json:"paused"`
}

// pauseResponse reports the resulting pause state.
type pauseResponse struct {
	Paused bool `json:"paused"`
}

// handleNotifyPause handles POST /api/v1/notifications/pause.
func (s *Server) handleNotifyPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid body", nil)
		return
	}

	var paused bool
	if req.Paused != nil {
		s.pauser.SetPaused(*req.Paused)
		paused = *req.Paused
	} else {
		paused = s.pauser.Toggle()
	}

	writeJSON(w, http.StatusOK, pauseResponse{Paused: paused})
}

// handleForceEnrich handles POST /api/v1/identities/{id}/enrich.
func (s *Server) handleForceEnrich(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("id")
	if playerID == "" || !strings.HasPrefix(playerID, "usr_") {
		writeError(w, http.StatusBadRequest, "invalid player id", nil)
		return
	}

	s.forcer.Force(playerID, "")
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}
