package beads

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/pagination"
)

const issueListMaxLimit = 200

// IssueRecord is one issue in API shape.
type IssueRecord struct {
	BeadID      string   `json:"bead_id"`
	Repo        string   `json:"repo"`
	Branch      string   `json:"branch"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	IssueType   string   `json:"issue_type"`
	Assignee    *string  `json:"assignee"`
	CreatedBy   *string  `json:"created_by"`
	Labels      []string `json:"labels"`
	BlockedBy   []Ref    `json:"blocked_by"`
	Parent      *Ref     `json:"parent_id,omitempty"`
	CreatedAt   *string  `json:"created_at"`
	UpdatedAt   *string  `json:"updated_at"`
	SyncedAt    string   `json:"synced_at"`
}

// ListParams filters the issue listing.
type ListParams struct {
	ProjectID string
	Repo      string
	Branch    string
	Status    string
	IssueType string
	Assignee  string
	CreatedBy string
	Label     string
	Search    string
	Limit     int
	Cursor    string
}

// ListResult is one page of issues.
type ListResult struct {
	Issues     []IssueRecord `json:"issues"`
	HasMore    bool          `json:"has_more"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// issueSortTime is the listing sort key; synced_at backfills issues
// that arrived without a client updated_at.
const issueSortTime = "COALESCE(i.updated_at, i.synced_at)"

const issueColumns = `
	i.bead_id, i.repo, i.branch, i.title, i.description, i.status, i.priority,
	i.issue_type, i.assignee, i.created_by, i.labels, i.blocked_by,
	i.parent_repo, i.parent_branch, i.parent_bead_id,
	i.created_at, i.updated_at, i.synced_at`

// List pages through issues ordered by most recently touched. The
// cursor carries the full sort key (sort_time, priority, bead_id) so
// pages stay stable under concurrent syncs.
func (e *Engine) List(ctx context.Context, p ListParams) (*ListResult, error) {
	limit, cursorData, err := pagination.ValidateParams(p.Limit, p.Cursor, issueListMaxLimit)
	if err != nil {
		return nil, httperr.Validation("%s", err.Error())
	}

	query := `SELECT` + issueColumns + `
		FROM beads.issues i
		WHERE i.project_id = $1`
	args := []interface{}{p.ProjectID}

	addFilter := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if p.Repo != "" {
		addFilter(" AND i.repo = $%d", p.Repo)
	}
	if p.Branch != "" {
		addFilter(" AND i.branch = $%d", p.Branch)
	}
	if p.Status != "" {
		if !validStatuses[p.Status] {
			return nil, httperr.Validation("Invalid status filter: %s", p.Status)
		}
		addFilter(" AND i.status = $%d", p.Status)
	}
	if p.IssueType != "" {
		if !validTypes[p.IssueType] {
			return nil, httperr.Validation("Invalid issue_type filter: %s", p.IssueType)
		}
		addFilter(" AND i.issue_type = $%d", p.IssueType)
	}
	if p.Assignee != "" {
		addFilter(" AND i.assignee = $%d", p.Assignee)
	}
	if p.CreatedBy != "" {
		addFilter(" AND i.created_by = $%d", p.CreatedBy)
	}
	if p.Label != "" {
		addFilter(" AND $%d = ANY(i.labels)", p.Label)
	}
	if p.Search != "" {
		// Matches bead_id as a prefix or title as a substring.
		escaped := escapeLike(p.Search)
		args = append(args, escaped+"%", "%"+escaped+"%")
		query += fmt.Sprintf(" AND (i.bead_id ILIKE $%d ESCAPE '\\' OR i.title ILIKE $%d ESCAPE '\\')",
			len(args)-1, len(args))
	}

	if cursorData != nil {
		if err := pagination.RequireFields(cursorData, "sort_time", "priority", "bead_id"); err != nil {
			return nil, httperr.Validation("%s", err.Error())
		}
		rawTime, _ := cursorData["sort_time"].(string)
		sortTime, err := time.Parse(time.RFC3339Nano, rawTime)
		if err != nil {
			return nil, httperr.Validation("invalid cursor: bad sort_time timestamp")
		}
		priority, ok := cursorData["priority"].(float64)
		if !ok {
			return nil, httperr.Validation("invalid cursor: bad priority")
		}
		beadID, _ := cursorData["bead_id"].(string)
		args = append(args, sortTime, int(priority), beadID)
		query += fmt.Sprintf(" AND (%s, i.priority, i.bead_id) < ($%d, $%d, $%d)",
			issueSortTime, len(args)-2, len(args)-1, len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY %s DESC, i.priority DESC, i.bead_id DESC LIMIT $%d",
		issueSortTime, len(args))

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := e.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("issue list query failed: %w", err)
	}
	defer rows.Close()

	issues := []IssueRecord{}
	for rows.Next() {
		rec, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("issue list iteration failed: %w", err)
	}

	hasMore := len(issues) > limit
	if hasMore {
		issues = issues[:limit]
	}

	result := &ListResult{Issues: issues, HasMore: hasMore}
	if hasMore && len(issues) > 0 {
		last := issues[len(issues)-1]
		sortTime := last.SyncedAt
		if last.UpdatedAt != nil {
			sortTime = *last.UpdatedAt
		}
		cur := pagination.EncodeCursor(map[string]any{
			"sort_time": sortTime,
			"priority":  last.Priority,
			"bead_id":   last.BeadID,
		})
		result.NextCursor = &cur
	}
	return result, nil
}

// Ready returns open issues whose blockers are all closed. blocked_by
// is a JSONB list of bead references; an unsynced blocker counts as
// not closed, so it keeps the issue out of the ready set.
func (e *Engine) Ready(ctx context.Context, projectID, repo, branch string, limit int) ([]IssueRecord, error) {
	if limit <= 0 || limit > issueListMaxLimit {
		limit = issueListMaxLimit
	}

	query := `SELECT` + issueColumns + `
		FROM beads.issues i
		WHERE i.project_id = $1 AND i.status = 'open'
		AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(i.blocked_by) AS b
			LEFT JOIN beads.issues blocker
				ON blocker.project_id = i.project_id
				AND blocker.repo = b->>'repo'
				AND blocker.branch = b->>'branch'
				AND blocker.bead_id = b->>'bead_id'
			WHERE blocker.bead_id IS NULL OR blocker.status != 'closed'
		)`
	args := []interface{}{projectID}
	if repo != "" {
		args = append(args, repo)
		query += fmt.Sprintf(" AND i.repo = $%d", len(args))
	}
	if branch != "" {
		args = append(args, branch)
		query += fmt.Sprintf(" AND i.branch = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY i.priority, i.bead_id LIMIT $%d", len(args))

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := e.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ready query failed: %w", err)
	}
	defer rows.Close()

	issues := []IssueRecord{}
	for rows.Next() {
		rec, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *rec)
	}
	return issues, rows.Err()
}

// Get returns the most recently synced copy of one bead.
func (e *Engine) Get(ctx context.Context, projectID, beadID string) (*IssueRecord, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := e.db.DB().QueryContext(qctx, `SELECT`+issueColumns+`
		FROM beads.issues i
		WHERE i.project_id = $1 AND i.bead_id = $2
		ORDER BY i.synced_at DESC
		LIMIT 1`,
		projectID, beadID)
	if err != nil {
		return nil, fmt.Errorf("issue lookup failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("issue lookup failed: %w", err)
		}
		return nil, httperr.NotFound("Bead not found: %s", beadID)
	}
	return scanIssue(rows)
}

func scanIssue(rows *sql.Rows) (*IssueRecord, error) {
	var rec IssueRecord
	var assignee, createdBy sql.NullString
	var parentRepo, parentBranch, parentBead sql.NullString
	var createdAt, updatedAt sql.NullTime
	var syncedAt time.Time
	var blockedBy []byte

	if err := rows.Scan(&rec.BeadID, &rec.Repo, &rec.Branch, &rec.Title, &rec.Description,
		&rec.Status, &rec.Priority, &rec.IssueType, &assignee, &createdBy,
		pq.Array(&rec.Labels), &blockedBy,
		&parentRepo, &parentBranch, &parentBead,
		&createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, fmt.Errorf("issue scan failed: %w", err)
	}

	if assignee.Valid {
		rec.Assignee = &assignee.String
	}
	if createdBy.Valid {
		rec.CreatedBy = &createdBy.String
	}
	if rec.Labels == nil {
		rec.Labels = []string{}
	}
	rec.BlockedBy = []Ref{}
	if len(blockedBy) > 0 {
		if err := json.Unmarshal(blockedBy, &rec.BlockedBy); err != nil {
			return nil, fmt.Errorf("blocked_by decode failed for %s: %w", rec.BeadID, err)
		}
	}
	if parentBead.Valid {
		rec.Parent = &Ref{Repo: parentRepo.String, Branch: parentBranch.String, BeadID: parentBead.String}
	}
	if createdAt.Valid {
		s := createdAt.Time.Format(time.RFC3339Nano)
		rec.CreatedAt = &s
	}
	if updatedAt.Valid {
		s := updatedAt.Time.Format(time.RFC3339Nano)
		rec.UpdatedAt = &s
	}
	rec.SyncedAt = syncedAt.Format(time.RFC3339Nano)
	return &rec, nil
}

// escapeLike neutralises LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
