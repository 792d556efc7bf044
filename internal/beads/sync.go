// Package beads ingests issue snapshots from bd clients and answers
// issue queries. SQL is authoritative; every write is scoped to one
// project and applied under a single transaction.
package beads

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/telemetry"
)

// DefaultBranch is assumed when a sync request does not carry one.
const DefaultBranch = "main"

// Engine applies JSONL issue batches.
type Engine struct {
	db *database.Database
}

// NewEngine creates an issue sync engine.
func NewEngine(db *database.Database) *Engine {
	return &Engine{db: db}
}

// StatusChange records one observed status transition.
type StatusChange struct {
	BeadID    string  `json:"bead_id"`
	Repo      string  `json:"repo"`
	Branch    string  `json:"branch"`
	OldStatus *string `json:"old_status,omitempty"`
	NewStatus string  `json:"new_status"`
	Title     string  `json:"title"`
}

// SyncResult summarises one applied batch.
type SyncResult struct {
	IssuesAdded   int            `json:"issues_added"`
	IssuesUpdated int            `json:"issues_updated"`
	Conflicts     []string       `json:"conflicts"`
	StatusChanges []StatusChange `json:"status_changes"`
	DeletedTitles map[string]string `json:"-"`
}

// SyncParams is one batch to apply. Mode is "full" or "incremental"
// and only feeds metrics; the apply path is identical.
type SyncParams struct {
	ProjectID    string
	Repo         string
	Branch       string
	Mode         string
	PayloadBytes int
	Issues       []Issue
	DeletedIDs   []string
}

// IntentRecorder inserts notification intents inside the sync
// transaction so a commit carries both the rows and their fan-out.
type IntentRecorder interface {
	RecordIntentsTx(ctx context.Context, tx *sql.Tx, projectID string, changes []StatusChange) error
}

// Apply upserts the batch under one transaction. Rows whose stored
// updated_at is strictly newer than the incoming one are skipped and
// reported in Conflicts; the client copy is discarded, never merged.
func (e *Engine) Apply(ctx context.Context, p SyncParams, recorder IntentRecorder) (*SyncResult, error) {
	start := time.Now()
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	tx, err := e.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin sync: %w", err)
	}
	defer tx.Rollback()

	result := &SyncResult{
		Conflicts:     []string{},
		StatusChanges: []StatusChange{},
		DeletedTitles: map[string]string{},
	}

	for _, issue := range p.Issues {
		if err := e.applyOne(ctx, tx, p, issue, result); err != nil {
			return nil, err
		}
	}

	if len(p.DeletedIDs) > 0 {
		if err := e.applyDeletes(ctx, tx, p, result); err != nil {
			return nil, err
		}
	}

	if recorder != nil && len(result.StatusChanges) > 0 {
		if err := recorder.RecordIntentsTx(ctx, tx, p.ProjectID, result.StatusChanges); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sync: %w", err)
	}

	elapsed := time.Since(start)
	metrics.NewMetrics().RecordSync(p.Mode, true, len(p.Issues), len(result.Conflicts), elapsed.Seconds(), p.PayloadBytes)
	telemetry.RecordIssuesSynced(ctx, int64(result.IssuesAdded+result.IssuesUpdated))
	telemetry.RecordSyncLatency(ctx, elapsed.Seconds()*1000)
	return result, nil
}

func (e *Engine) applyOne(ctx context.Context, tx *sql.Tx, p SyncParams, issue Issue, result *SyncResult) error {
	var oldStatus, oldTitle string
	var oldUpdatedAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT status, title, updated_at FROM beads.issues
		WHERE project_id = $1 AND repo = $2 AND branch = $3 AND bead_id = $4`,
		p.ProjectID, p.Repo, p.Branch, issue.ID).Scan(&oldStatus, &oldTitle, &oldUpdatedAt)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("issue lookup failed: %w", err)
	}

	incomingUpdated := parseTime(issue.UpdatedAt)
	if exists && oldUpdatedAt.Valid && incomingUpdated != nil && oldUpdatedAt.Time.After(*incomingUpdated) {
		log.Printf("[Sync] skipping stale update for %s/%s: server copy is newer", p.ProjectID, issue.ID)
		result.Conflicts = append(result.Conflicts, issue.ID)
		return nil
	}

	blockedBy, err := json.Marshal(issue.BlockedBy)
	if err != nil {
		return fmt.Errorf("failed to encode blocked_by for %s: %w", issue.ID, err)
	}
	var parentRepo, parentBranch, parentBead interface{}
	if issue.Parent != nil {
		parentRepo, parentBranch, parentBead = issue.Parent.Repo, issue.Parent.Branch, issue.Parent.BeadID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO beads.issues
			(project_id, repo, branch, bead_id, title, description, status, priority,
			 issue_type, assignee, created_by, labels, blocked_by,
			 parent_repo, parent_branch, parent_bead_id, created_at, updated_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (project_id, repo, branch, bead_id)
		DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description,
			status = EXCLUDED.status, priority = EXCLUDED.priority,
			issue_type = EXCLUDED.issue_type, assignee = EXCLUDED.assignee,
			created_by = EXCLUDED.created_by, labels = EXCLUDED.labels,
			blocked_by = EXCLUDED.blocked_by, parent_repo = EXCLUDED.parent_repo,
			parent_branch = EXCLUDED.parent_branch, parent_bead_id = EXCLUDED.parent_bead_id,
			updated_at = EXCLUDED.updated_at, synced_at = NOW()`,
		p.ProjectID, p.Repo, p.Branch, issue.ID, issue.Title, issue.Description,
		issue.Status, issue.Priority, issue.IssueType,
		nullIfEmpty(issue.Assignee), nullIfEmpty(issue.CreatedBy),
		pq.Array(issue.Labels), blockedBy,
		parentRepo, parentBranch, parentBead,
		parseTime(issue.CreatedAt), incomingUpdated); err != nil {
		return fmt.Errorf("issue upsert failed for %s: %w", issue.ID, err)
	}

	switch {
	case !exists:
		result.IssuesAdded++
		// A brand-new bead arriving in a non-default state is a
		// transition worth announcing; plain "open" creations are not.
		if issue.Status != "open" {
			result.StatusChanges = append(result.StatusChanges, StatusChange{
				BeadID: issue.ID, Repo: p.Repo, Branch: p.Branch,
				NewStatus: issue.Status, Title: issue.Title,
			})
		}
	default:
		result.IssuesUpdated++
		if oldStatus != issue.Status {
			old := oldStatus
			result.StatusChanges = append(result.StatusChanges, StatusChange{
				BeadID: issue.ID, Repo: p.Repo, Branch: p.Branch,
				OldStatus: &old, NewStatus: issue.Status, Title: issue.Title,
			})
		}
	}
	return nil
}

// applyDeletes resolves titles before removal so downstream events can
// still name the bead, then drops the rows and any claims on them.
func (e *Engine) applyDeletes(ctx context.Context, tx *sql.Tx, p SyncParams, result *SyncResult) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT ON (bead_id) bead_id, title FROM beads.issues
		WHERE project_id = $1 AND bead_id = ANY($2)
		ORDER BY bead_id, synced_at DESC`,
		p.ProjectID, pq.Array(p.DeletedIDs))
	if err != nil {
		return fmt.Errorf("deleted-title lookup failed: %w", err)
	}
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			rows.Close()
			return fmt.Errorf("deleted-title scan failed: %w", err)
		}
		result.DeletedTitles[id] = title
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("deleted-title iteration failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM beads.issues WHERE project_id = $1 AND bead_id = ANY($2)`,
		p.ProjectID, pq.Array(p.DeletedIDs)); err != nil {
		return fmt.Errorf("issue delete failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM server.bead_claims WHERE project_id = $1 AND bead_id = ANY($2)`,
		p.ProjectID, pq.Array(p.DeletedIDs)); err != nil {
		return fmt.Errorf("claim cleanup for deleted issues failed: %w", err)
	}
	return nil
}

// Count reports how many issues the project has on (repo, branch).
func (e *Engine) Count(ctx context.Context, projectID, repo, branch string) (int, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()
	var n int
	err := e.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM beads.issues
		WHERE project_id = $1 AND repo = $2 AND branch = $3`,
		projectID, repo, branch).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("issue count failed: %w", err)
	}
	return n, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
