package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/registry"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

type initRequest struct {
	ProjectSlug string `json:"project_slug"`
	ProjectName string `json:"project_name"`
	Alias       string `json:"alias"`
	HumanName   string `json:"human_name"`
	AgentType   string `json:"agent_type"`
	Lifetime    string `json:"lifetime"`

	RepoOrigin    string `json:"repo_origin"`
	Role          string `json:"role"`
	Hostname      string `json:"hostname"`
	WorkspacePath string `json:"workspace_path"`
}

// handleInit bootstraps an agent identity and optionally a workspace.
// It is the only unauthenticated write endpoint, so it sits behind the
// per-IP rate limiter.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.initLimiter.Allow(r) {
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Too many init requests, slow down"})
		return
	}

	var req initRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Alias != "" && !validate.Alias(req.Alias) {
		s.respondError(w, httperr.Validation("%s", validate.AliasErrMessage))
		return
	}
	if req.HumanName != "" {
		if err := validate.HumanName(req.HumanName); err != nil {
			s.respondError(w, httperr.Validation("%s", err.Error()))
			return
		}
	}
	if req.ProjectSlug != "" {
		if err := validate.Slug(req.ProjectSlug); err != nil {
			s.respondError(w, httperr.Validation("%s", err.Error()))
			return
		}
	}
	if req.Lifetime != "" && req.Lifetime != "persistent" && req.Lifetime != "ephemeral" {
		s.respondError(w, httperr.Validation("lifetime must be 'persistent' or 'ephemeral'"))
		return
	}

	result, err := s.registry.Bootstrap(r.Context(), registry.BootstrapParams{
		ProjectSlug:   req.ProjectSlug,
		ProjectName:   req.ProjectName,
		Alias:         req.Alias,
		HumanName:     req.HumanName,
		AgentType:     req.AgentType,
		Lifetime:      req.Lifetime,
		Role:          strings.ToLower(strings.TrimSpace(req.Role)),
		RepoOrigin:    req.RepoOrigin,
		Hostname:      req.Hostname,
		WorkspacePath: req.WorkspacePath,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.trail.Record(r.Context(), result.ProjectID, result.AgentID, "agent_bootstrapped", map[string]any{
		"alias":             result.Alias,
		"created":           result.Created,
		"workspace_created": result.WorkspaceCreated,
	})

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"created_at":        time.Now().UTC().Format(time.RFC3339Nano),
		"api_key":           result.APIKey,
		"project_id":        result.ProjectID,
		"project_slug":      result.ProjectSlug,
		"agent_id":          result.AgentID,
		"repo_id":           result.RepoID,
		"canonical_origin":  result.CanonicalOrigin,
		"workspace_id":      result.WorkspaceID,
		"alias":             result.Alias,
		"created":           result.Created,
		"workspace_created": result.WorkspaceCreated,
		"lifetime":          result.Lifetime,
	})
}

// handleDashboardToken mints a short-lived JWT for browser transports
// that cannot attach an Authorization header.
func (s *Server) handleDashboardToken(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	token, expires, err := s.auth.MintDashboardToken(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}
