package api

import (
	"net/http"

	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, err)
		return
	}
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID != "" {
		workspaceID, err = validate.WorkspaceID(workspaceID)
		if err != nil {
			s.respondError(w, httperr.Validation("%s", err.Error()))
			return
		}
	}

	result, err := s.claims.List(r.Context(), id.ProjectID, workspaceID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}
