package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// handleMessageByID routes POST /v1/messages/{id}/ack.
func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/messages/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "ack" || r.Method != http.MethodPost {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	messageID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.respondError(w, httperr.Validation("Invalid message id"))
		return
	}

	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot acknowledge messages"))
		return
	}
	wsID, err := s.resolveWorkspace(r, id, "")
	if err != nil {
		s.respondError(w, err)
		return
	}

	slug := s.presence.GetWorkspaceProjectSlug(r.Context(), wsID)
	if err := s.mailer.Acknowledge(r.Context(), id.ProjectID, slug, wsID, messageID); err != nil {
		s.respondError(w, err)
		return
	}
	s.trail.Record(r.Context(), id.ProjectID, wsID, "message_acknowledged", map[string]any{
		"message_id": messageID,
	})
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message_id":   messageID,
		"acknowledged": true,
	})
}
