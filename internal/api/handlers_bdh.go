package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/auth"
	"github.com/jordanhubbard/beadhub/internal/beads"
	"github.com/jordanhubbard/beadhub/internal/claims"
	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/giturl"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

type commandRequest struct {
	WorkspaceID string  `json:"workspace_id"`
	Alias       string  `json:"alias"`
	HumanName   string  `json:"human_name"`
	RepoOrigin  string  `json:"repo_origin"`
	Role        *string `json:"role"`
	CommandLine string  `json:"command_line"`
}

type commandContext struct {
	MessagesWaiting int              `json:"messages_waiting"`
	BeadsInProgress []map[string]any `json:"beads_in_progress"`
}

// handleCommand is the pre-flight check the bdh wrapper runs before
// executing a bd command locally. It verifies the workspace is alive,
// refreshes activity, and hands back the project's live claims so the
// client can warn about collisions before doing any work.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.CommandLine == "" {
		s.respondError(w, httperr.Validation("command_line is required"))
		return
	}
	wsID, err := s.resolveWorkspace(r, id, req.WorkspaceID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if _, err := s.registry.EnsureAlive(r.Context(), id.ProjectID, wsID); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.registry.TouchLastSeen(r.Context(), id.ProjectID, wsID, req.HumanName, req.Role); err != nil {
		log.Printf("[API] last_seen refresh failed for %s: %v", wsID, err)
	}

	inProgress, err := s.claims.InProgress(r.Context(), id.ProjectID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"approved": true,
		"reason":   "",
		"context": commandContext{
			MessagesWaiting: 0,
			BeadsInProgress: inProgress,
		},
	})
}

type syncRequest struct {
	WorkspaceID string  `json:"workspace_id"`
	Alias       string  `json:"alias"`
	HumanName   string  `json:"human_name"`
	RepoOrigin  string  `json:"repo_origin"`
	Role        *string `json:"role"`

	// Full sync
	IssuesJSONL string `json:"issues_jsonl"`

	// Incremental sync
	SyncMode      string   `json:"sync_mode"`
	ChangedIssues string   `json:"changed_issues"`
	DeletedIDs    []string `json:"deleted_ids"`

	CommandLine string `json:"command_line"`
}

type syncStats struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

// handleSync ingests a JSONL issue batch, updates claims from the
// command-line hint, fans out notifications through the outbox, and
// publishes bead events. The batch itself commits in one transaction;
// everything after the commit is best-effort.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, beads.MaxBodyBytes+(1<<20))
	var req syncRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	wsID, err := s.resolveWorkspace(r, id, req.WorkspaceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !validate.Alias(req.Alias) {
		s.respondError(w, httperr.Validation("%s", validate.AliasErrMessage))
		return
	}

	if _, err := s.registry.EnsureAlive(r.Context(), id.ProjectID, wsID); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.registry.TouchLastSeen(r.Context(), id.ProjectID, wsID, req.HumanName, req.Role); err != nil {
		log.Printf("[API] last_seen refresh failed for %s: %v", wsID, err)
	}

	canonical, err := giturl.Canonicalize(req.RepoOrigin)
	if err != nil {
		s.respondError(w, httperr.Validation("Invalid repo_origin: %s", err.Error()))
		return
	}

	mode := strings.ToLower(strings.TrimSpace(req.SyncMode))
	if mode == "" {
		mode = "full"
	}
	if mode != "full" && mode != "incremental" {
		s.respondError(w, httperr.Validation("sync_mode must be 'full' or 'incremental'"))
		return
	}

	var body string
	switch mode {
	case "full":
		body = strings.TrimSpace(req.IssuesJSONL)
		if body == "" {
			s.respondError(w, httperr.Validation("issues_jsonl is required for full sync"))
			return
		}
	case "incremental":
		body = strings.TrimSpace(req.ChangedIssues)
		if body == "" && len(req.DeletedIDs) == 0 {
			s.respondError(w, httperr.Validation("incremental sync requires changes or deletions"))
			return
		}
	}

	var issues []beads.Issue
	if body != "" {
		issues, err = beads.ParseJSONL([]byte(body))
		if err != nil {
			s.respondError(w, err)
			return
		}
	}

	result, err := s.sync.Apply(r.Context(), beads.SyncParams{
		ProjectID:    id.ProjectID,
		Repo:         canonical,
		Branch:       beads.DefaultBranch,
		Mode:         mode,
		PayloadBytes: len(body),
		Issues:       issues,
		DeletedIDs:   req.DeletedIDs,
	}, s.outbox)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Claim bookkeeping from the bd command that just ran client-side.
	cmd := claims.ParseCommandLine(req.CommandLine)
	conflict, err := s.claims.ApplyCommand(r.Context(), cmd, claims.UpsertParams{
		ProjectID:   id.ProjectID,
		WorkspaceID: wsID,
		Alias:       req.Alias,
		HumanName:   req.HumanName,
	})
	if err != nil {
		log.Printf("[API] claim update for %s failed: %v", cmd.BeadID, err)
	}
	for _, bid := range req.DeletedIDs {
		if err := s.claims.Delete(r.Context(), id.ProjectID, wsID, bid); err != nil {
			log.Printf("[API] claim release for deleted %s failed: %v", bid, err)
		}
	}

	projectSlug := s.presence.GetWorkspaceProjectSlug(r.Context(), wsID)
	s.publishSyncEvents(r, wsID, projectSlug, req.Alias, cmd, conflict, result)

	sent, failed := 0, 0
	if len(result.StatusChanges) > 0 {
		sent, failed, err = s.outbox.Process(r.Context(), id.ProjectID, projectSlug, wsID, req.Alias)
		if err != nil {
			log.Printf("[Outbox] drain after sync failed: %v", err)
		}
	}

	stats := syncStats{
		Received: len(issues),
		Inserted: result.IssuesAdded,
		Updated:  result.IssuesUpdated,
		Deleted:  len(result.DeletedTitles),
	}
	s.trail.Record(r.Context(), id.ProjectID, wsID, "bdh_sync", map[string]any{
		"repo":                 canonical,
		"mode":                 mode,
		"received":             stats.Received,
		"inserted":             stats.Inserted,
		"updated":              stats.Updated,
		"deleted":              stats.Deleted,
		"notifications_sent":   sent,
		"notifications_failed": failed,
	})

	issuesCount, err := s.sync.Count(r.Context(), id.ProjectID, canonical, beads.DefaultBranch)
	if err != nil {
		log.Printf("[API] issue count after sync failed: %v", err)
	}

	resp := map[string]any{
		"synced":                true,
		"issues_count":          issuesCount,
		"stats":                 stats,
		"conflicts":             result.Conflicts,
		"sync_protocol_version": 1,
	}
	if conflict != nil {
		resp["claim_rejected"] = true
		resp["claim_rejected_reason"] = conflict.Reason()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// publishSyncEvents emits bead.* events for the batch. All failures
// are logged; the sync already committed.
func (s *Server) publishSyncEvents(r *http.Request, wsID, projectSlug, alias string, cmd claims.Command, conflict *claims.Conflict, result *beads.SyncResult) {
	ctx := r.Context()
	m := metrics.NewMetrics()

	for _, sc := range result.StatusChanges {
		e := events.NewBeadStatusChanged(wsID, projectSlug)
		e.BeadID = sc.BeadID
		e.Repo = sc.Repo
		if sc.OldStatus != nil {
			e.OldStatus = *sc.OldStatus
		}
		e.NewStatus = sc.NewStatus
		e.Title = sc.Title
		e.Alias = alias
		if _, err := s.bus.Publish(ctx, e); err != nil {
			log.Printf("[Events] bead.status_changed publish failed: %v", err)
			continue
		}
		m.EventsPublished.WithLabelValues("bead.status_changed").Inc()
	}

	if cmd.BeadID == "" {
		return
	}
	switch {
	case cmd.Name == "update" && cmd.Status == "in_progress" && conflict == nil:
		e := events.NewBeadClaimed(wsID, projectSlug)
		e.BeadID = cmd.BeadID
		e.Alias = alias
		if _, err := s.bus.Publish(ctx, e); err != nil {
			log.Printf("[Events] bead.claimed publish failed: %v", err)
			return
		}
		m.EventsPublished.WithLabelValues("bead.claimed").Inc()
	case cmd.Name == "close" || cmd.Name == "delete",
		cmd.Name == "update" && cmd.Status != "" && cmd.Status != "in_progress":
		e := events.NewBeadUnclaimed(wsID, projectSlug)
		e.BeadID = cmd.BeadID
		e.Alias = alias
		if _, err := s.bus.Publish(ctx, e); err != nil {
			log.Printf("[Events] bead.unclaimed publish failed: %v", err)
			return
		}
		m.EventsPublished.WithLabelValues("bead.unclaimed").Inc()
	}
}

// resolveWorkspace validates the claimed workspace_id and enforces the
// bearer-key binding: an agent key may only act as its own workspace.
func (s *Server) resolveWorkspace(r *http.Request, id *auth.Identity, workspaceID string) (string, error) {
	if workspaceID == "" {
		if id.AgentID == "" {
			return "", httperr.Validation("workspace_id is required")
		}
		return id.AgentID, nil
	}
	wsID, err := validate.WorkspaceID(workspaceID)
	if err != nil {
		return "", httperr.Validation("%s", err.Error())
	}
	if err := auth.EnforceActorBinding(id, wsID); err != nil {
		return "", err
	}
	return wsID, nil
}
