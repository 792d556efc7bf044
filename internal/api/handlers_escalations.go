package api

import (
	"net/http"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/escalations"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

type createEscalationRequest struct {
	WorkspaceID    string   `json:"workspace_id"`
	Alias          string   `json:"alias"`
	Subject        string   `json:"subject"`
	Situation      string   `json:"situation"`
	Options        []string `json:"options"`
	ExpiresInHours int      `json:"expires_in_hours"`
	MemberEmail    string   `json:"member_email"`
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createEscalation(w, r)
	case http.MethodGet:
		s.listEscalations(w, r)
	default:
		s.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed"})
	}
}

func (s *Server) createEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot create escalations"))
		return
	}

	var req createEscalationRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if !validate.Alias(req.Alias) {
		s.respondError(w, httperr.Validation("%s", validate.AliasErrMessage))
		return
	}
	wsID, err := s.resolveWorkspace(r, id, req.WorkspaceID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	esc, err := s.escalations.Create(r.Context(), escalations.CreateParams{
		ProjectID:      id.ProjectID,
		ProjectSlug:    s.presence.GetWorkspaceProjectSlug(r.Context(), wsID),
		WorkspaceID:    wsID,
		Alias:          req.Alias,
		MemberEmail:    req.MemberEmail,
		Subject:        req.Subject,
		Situation:      req.Situation,
		Options:        req.Options,
		ExpiresInHours: req.ExpiresInHours,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.trail.Record(r.Context(), id.ProjectID, wsID, "escalation_created", map[string]any{
		"escalation_id": esc.ID,
		"subject":       esc.Subject,
	})
	s.respondJSON(w, http.StatusCreated, esc)
}

func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, err)
		return
	}

	q := r.URL.Query()
	result, err := s.escalations.List(r.Context(), id.ProjectID, q.Get("status"), limit, q.Get("cursor"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"escalations": result.Escalations,
		"count":       len(result.Escalations),
		"has_more":    result.HasMore,
		"next_cursor": result.NextCursor,
	})
}

type respondEscalationRequest struct {
	Response string `json:"response"`
	Note     string `json:"note"`
}

// handleEscalationByID routes GET /v1/escalations/{id} and
// POST /v1/escalations/{id}/respond.
func (s *Server) handleEscalationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/escalations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet {
		s.getEscalation(w, r, parts[0])
		return
	}
	if len(parts) != 2 || parts[1] != "respond" || r.Method != http.MethodPost {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}

	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot respond to escalations"))
		return
	}

	var req respondEscalationRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	slug := ""
	if id.AgentID != "" {
		slug = s.presence.GetWorkspaceProjectSlug(r.Context(), id.AgentID)
	}
	esc, err := s.escalations.Respond(r.Context(), id.ProjectID, slug, parts[0], req.Response, req.Note)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, esc)
}

func (s *Server) getEscalation(w http.ResponseWriter, r *http.Request, escalationID string) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	esc, err := s.escalations.Get(r.Context(), id.ProjectID, escalationID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, esc)
}
