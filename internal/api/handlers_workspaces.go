package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/auth"
	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/registry"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

type registerRequest struct {
	Alias         string  `json:"alias"`
	HumanName     string  `json:"human_name"`
	RepoOrigin    string  `json:"repo_origin"`
	ProjectSlug   string  `json:"project_slug"`
	ProjectName   string  `json:"project_name"`
	Role          *string `json:"role"`
	Hostname      *string `json:"hostname"`
	WorkspacePath *string `json:"workspace_path"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.AgentID == "" {
		s.respondError(w, httperr.Forbidden("Registration requires an agent identity"))
		return
	}

	var req registerRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if !validate.Alias(req.Alias) {
		s.respondError(w, httperr.Validation("%s", validate.AliasErrMessage))
		return
	}
	if req.RepoOrigin == "" {
		s.respondError(w, httperr.Validation("repo_origin is required"))
		return
	}

	result, err := s.registry.Register(r.Context(), registry.RegisterParams{
		WorkspaceID:   id.AgentID,
		ProjectID:     id.ProjectID,
		ProjectSlug:   req.ProjectSlug,
		ProjectName:   req.ProjectName,
		Alias:         req.Alias,
		HumanName:     req.HumanName,
		RepoOrigin:    req.RepoOrigin,
		Role:          req.Role,
		Hostname:      req.Hostname,
		WorkspacePath: req.WorkspacePath,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.trail.Record(r.Context(), id.ProjectID, id.AgentID, "workspace_registered", map[string]any{
		"alias": result.Alias,
		"repo":  result.CanonicalOrigin,
	})

	code := http.StatusOK
	if result.Created {
		code = http.StatusCreated
	}
	s.respondJSON(w, code, result)
}

type heartbeatRequest struct {
	Alias         string  `json:"alias"`
	HumanName     string  `json:"human_name"`
	RepoOrigin    string  `json:"repo_origin"`
	CurrentBranch *string `json:"current_branch"`
	Role          *string `json:"role"`
	Hostname      *string `json:"hostname"`
	WorkspacePath *string `json:"workspace_path"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.AgentID == "" {
		s.respondError(w, httperr.Forbidden("Heartbeat requires an agent identity"))
		return
	}

	var req heartbeatRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if !validate.Alias(req.Alias) {
		s.respondError(w, httperr.Validation("%s", validate.AliasErrMessage))
		return
	}
	if req.CurrentBranch != nil && !validate.Branch(*req.CurrentBranch) {
		s.respondError(w, httperr.Validation("Invalid branch name"))
		return
	}

	err := s.registry.Heartbeat(r.Context(), registry.HeartbeatParams{
		WorkspaceID:   id.AgentID,
		ProjectID:     id.ProjectID,
		Alias:         req.Alias,
		RepoOrigin:    req.RepoOrigin,
		Role:          req.Role,
		CurrentBranch: req.CurrentBranch,
		Hostname:      req.Hostname,
		WorkspacePath: req.WorkspacePath,
		HumanName:     req.HumanName,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	metrics.NewMetrics().HeartbeatsTotal.WithLabelValues("ok").Inc()
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "workspace_id": id.AgentID})
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
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
	q := r.URL.Query()
	result, err := s.registry.List(r.Context(), registry.ListParams{
		ProjectID:       id.ProjectID,
		HumanName:       q.Get("human_name"),
		Repo:            q.Get("repo"),
		Alias:           q.Get("alias"),
		Hostname:        q.Get("hostname"),
		IncludeDeleted:  queryBool(r, "include_deleted", false),
		IncludeClaims:   queryBool(r, "include_claims", true),
		IncludePresence: queryBool(r, "include_presence", true),
		Limit:           limit,
		Cursor:          q.Get("cursor"),
		PublicReader:    id.PublicReader,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
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
	q := r.URL.Query()
	result, err := s.registry.Team(r.Context(), registry.TeamParams{
		ProjectID:       id.ProjectID,
		HumanName:       q.Get("human_name"),
		Repo:            q.Get("repo"),
		IncludeClaims:   queryBool(r, "include_claims", true),
		IncludePresence: queryBool(r, "include_presence", true),
		OnlyWithClaims:  queryBool(r, "only_with_claims", false),
		AlwaysIncludeID: q.Get("always_include"),
		Limit:           limit,
		PublicReader:    id.PublicReader,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	result, err := s.registry.Online(r.Context(), id.ProjectID, r.URL.Query().Get("human_name"), id.PublicReader)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuggestNamePrefix(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	originURL := r.URL.Query().Get("origin_url")
	if originURL == "" {
		s.respondError(w, httperr.Validation("origin_url is required"))
		return
	}

	// Suggestion works unauthenticated for first contact; an identity
	// narrows multi-project repos to the caller's project.
	authProjectID := ""
	if id, err := s.auth.GetIdentity(r); err == nil {
		authProjectID = id.ProjectID
	}

	result, err := s.registry.SuggestNamePrefix(r.Context(), originURL, authProjectID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleWorkspaceByID routes /v1/workspaces/{id} and
// /v1/workspaces/{id}/restore.
func (s *Server) handleWorkspaceByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workspaces/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.deleteWorkspace(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		s.restoreWorkspace(w, r, parts[0])
	default:
		s.respondJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
	}
}

// deleteWorkspace soft-deletes any workspace in the caller's project.
// Peer deletion is allowed on purpose: agents clean up after machines
// that no longer exist.
func (s *Server) deleteWorkspace(w http.ResponseWriter, r *http.Request, workspaceID string) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot delete workspaces"))
		return
	}
	wsID, err := validate.WorkspaceID(workspaceID)
	if err != nil {
		s.respondError(w, httperr.Validation("%s", err.Error()))
		return
	}

	result, err := s.registry.SoftDelete(r.Context(), id.ProjectID, wsID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.trail.Record(r.Context(), id.ProjectID, wsID, "workspace_deleted", map[string]any{
		"alias":      result.Alias,
		"deleted_by": id.AgentID,
	})
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) restoreWorkspace(w http.ResponseWriter, r *http.Request, workspaceID string) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.PublicReader {
		s.respondError(w, httperr.Forbidden("Public readers cannot restore workspaces"))
		return
	}
	wsID, err := validate.WorkspaceID(workspaceID)
	if err != nil {
		s.respondError(w, httperr.Validation("%s", err.Error()))
		return
	}

	result, err := s.registry.Restore(r.Context(), id.ProjectID, wsID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleAgentsMe deregisters the calling agent: the aweb row is
// soft-deleted and the mutation hook cascades workspace, claims, and
// presence in the same handler invocation.
func (s *Server) handleAgentsMe(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodDelete) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if id.AgentID == "" {
		s.respondError(w, httperr.Forbidden("Deregistration requires an agent identity"))
		return
	}

	if err := s.deregisterAgent(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.hook.OnMutation(r.Context(), "agent.deregistered", map[string]any{
		"agent_id":   id.AgentID,
		"project_id": id.ProjectID,
	})
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "agent_id": id.AgentID})
}

func (s *Server) deregisterAgent(ctx context.Context, id *auth.Identity) error {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE aweb.agents
		SET status = 'deleted', deleted_at = now()
		WHERE agent_id = $1 AND project_id = $2 AND deleted_at IS NULL
	`, id.AgentID, id.ProjectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperr.NotFound("Agent not found: %s", id.AgentID)
	}
	return nil
}
