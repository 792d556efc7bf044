package api

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/beads"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

type uploadRequest struct {
	Repo   string        `json:"repo"`
	Branch string        `json:"branch"`
	Issues []beads.Issue `json:"issues"`
}

// handleUpload ingests issues as a JSON array. Unlike /v1/bdh/sync it
// carries no claim bookkeeping; it exists for clients that already
// have parsed issues in hand.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, beads.MaxBodyBytes+(1<<20))
	var req uploadRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if len(req.Issues) > beads.MaxEntries {
		s.respondError(w, httperr.BadRequest("Too many issues: %d exceeds limit of %d", len(req.Issues), beads.MaxEntries))
		return
	}

	repo, branch, err := resolveRepoBranch(req.Repo, req.Branch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.applyUpload(w, r, id.ProjectID, repo, branch, req.Issues, "json")
}

// handleUploadJSONL ingests a raw .beads/issues.jsonl body, enabling
// shell clients to upload without reshaping the file.
func (s *Server) handleUploadJSONL(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	repo, branch, err := resolveRepoBranch(r.URL.Query().Get("repo"), r.URL.Query().Get("branch"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, beads.MaxBodyBytes+1))
	if err != nil {
		s.respondError(w, httperr.BadRequest("Failed to read request body: %s", err.Error()))
		return
	}

	issues, err := beads.ParseJSONL(body)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.applyUpload(w, r, id.ProjectID, repo, branch, issues, "jsonl")
}

// applyUpload runs the shared upload tail: sync, audit, outbox drain.
func (s *Server) applyUpload(w http.ResponseWriter, r *http.Request, projectID, repo, branch string, issues []beads.Issue, source string) {
	id, _ := s.auth.GetIdentity(r)

	result, err := s.sync.Apply(r.Context(), beads.SyncParams{
		ProjectID: projectID,
		Repo:      repo,
		Branch:    branch,
		Mode:      "full",
		Issues:    issues,
	}, s.outbox)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.trail.Record(r.Context(), projectID, id.AgentID, "beads_uploaded", map[string]any{
		"repo":           repo,
		"branch":         branch,
		"issues_synced":  len(issues),
		"issues_added":   result.IssuesAdded,
		"issues_updated": result.IssuesUpdated,
		"source":         source,
	})

	sent, failed := 0, 0
	if len(result.StatusChanges) > 0 {
		slug := s.presence.GetWorkspaceProjectSlug(r.Context(), id.AgentID)
		sent, failed, err = s.outbox.Process(r.Context(), projectID, slug, id.AgentID, "")
		if err != nil {
			log.Printf("[Outbox] drain after upload failed: %v", err)
		}
	}

	status := "completed"
	if failed > 0 {
		status = "completed_with_errors"
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":               status,
		"repo":                 repo,
		"branch":               branch,
		"issues_synced":        len(issues),
		"issues_added":         result.IssuesAdded,
		"issues_updated":       result.IssuesUpdated,
		"conflicts":            result.Conflicts,
		"conflicts_count":      len(result.Conflicts),
		"notifications_sent":   sent,
		"notifications_failed": failed,
	})
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
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
	if repo := q.Get("repo"); repo != "" {
		if _, err := validate.CanonicalOrigin(repo); err != nil {
			s.respondError(w, httperr.Validation("Invalid repo: %s", repo))
			return
		}
	}
	if branch := q.Get("branch"); branch != "" && !validate.Branch(branch) {
		s.respondError(w, httperr.Validation("Invalid branch name: %s", branch))
		return
	}

	result, err := s.sync.List(r.Context(), beads.ListParams{
		ProjectID: id.ProjectID,
		Repo:      q.Get("repo"),
		Branch:    q.Get("branch"),
		Status:    q.Get("status"),
		IssueType: q.Get("type"),
		Assignee:  q.Get("assignee"),
		CreatedBy: q.Get("created_by"),
		Label:     q.Get("label"),
		Search:    q.Get("q"),
		Limit:     limit,
		Cursor:    q.Get("cursor"),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"issues":      result.Issues,
		"count":       len(result.Issues),
		"has_more":    result.HasMore,
		"next_cursor": result.NextCursor,
	})
}

func (s *Server) handleIssueByID(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	beadID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/beads/issues/"), "/")
	if beadID == "" || !validate.BeadID(beadID) {
		s.respondError(w, httperr.Validation("Invalid bead_id"))
		return
	}

	issue, err := s.sync.Get(r.Context(), id.ProjectID, beadID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, issue)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
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
	if repo := q.Get("repo"); repo != "" {
		if _, err := validate.CanonicalOrigin(repo); err != nil {
			s.respondError(w, httperr.Validation("Invalid repo: %s", repo))
			return
		}
	}
	if branch := q.Get("branch"); branch != "" && !validate.Branch(branch) {
		s.respondError(w, httperr.Validation("Invalid branch name: %s", branch))
		return
	}

	issues, err := s.sync.Ready(r.Context(), id.ProjectID, q.Get("repo"), q.Get("branch"), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"issues": issues,
		"count":  len(issues),
	})
}

// resolveRepoBranch validates the repo/branch pair shared by upload
// endpoints, defaulting the branch.
func resolveRepoBranch(repo, branch string) (string, string, error) {
	canonical, err := validate.CanonicalOrigin(repo)
	if err != nil {
		return "", "", httperr.Validation("Invalid repository: must be canonical origin format like github.com/org/repo")
	}
	if branch == "" {
		branch = beads.DefaultBranch
	}
	if !validate.Branch(branch) {
		return "", "", httperr.Validation("Invalid branch name: %s", branch)
	}
	return canonical, branch, nil
}
