package api

import (
	"net/http"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/subscriptions"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

type subscribeRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	Alias       string   `json:"alias"`
	BeadID      string   `json:"bead_id"`
	Repo        string   `json:"repo"`
	EventTypes  []string `json:"event_types"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSubscription(w, r)
	case http.MethodGet:
		s.listSubscriptions(w, r)
	default:
		s.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed"})
	}
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot subscribe"))
		return
	}

	var req subscribeRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if !validate.Alias(req.Alias) {
		s.respondError(w, httperr.Validation("%s", validate.AliasErrMessage))
		return
	}
	if !validate.BeadID(req.BeadID) {
		s.respondError(w, httperr.BadRequest("Invalid bead_id format: %s", req.BeadID))
		return
	}
	wsID, err := s.resolveWorkspace(r, id, req.WorkspaceID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	sub, err := s.subscriptions.Create(r.Context(), subscriptions.CreateParams{
		ProjectID:   id.ProjectID,
		WorkspaceID: wsID,
		Alias:       req.Alias,
		BeadID:      req.BeadID,
		Repo:        req.Repo,
		EventTypes:  req.EventTypes,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	wsID, err := s.resolveWorkspace(r, id, r.URL.Query().Get("workspace_id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	subs, err := s.subscriptions.List(r.Context(), id.ProjectID, wsID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// handleSubscriptionByID routes DELETE /v1/subscriptions/{id}.
func (s *Server) handleSubscriptionByID(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodDelete) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot unsubscribe"))
		return
	}

	subID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/"), "/")
	wsID, err := s.resolveWorkspace(r, id, r.URL.Query().Get("workspace_id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.subscriptions.Delete(r.Context(), id.ProjectID, wsID, subID); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"subscription_id": subID,
		"deleted":         true,
	})
}
