// Package claims coordinates exclusive per-project bead claims. A
// claim records that a workspace is actively working on a bead; the
// apex (root of the bead's parent chain) is resolved at claim time
// and stored on the row so reads never recurse.
package claims

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/pagination"
	"github.com/jordanhubbard/beadhub/internal/telemetry"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

// maxApexDepth bounds the parent-chain walk so a cycle or a
// pathological chain cannot spin the server.
const maxApexDepth = 20

// Coordinator owns claim writes and the workspace focus updates that
// follow them.
type Coordinator struct {
	db *database.Database
}

// NewCoordinator creates a claim coordinator.
func NewCoordinator(db *database.Database) *Coordinator {
	return &Coordinator{db: db}
}

// Apex identifies the root ancestor of a claimed bead.
type Apex struct {
	BeadID string
	Repo   string
	Branch string
	Type   string
}

// Conflict reports an exclusive-claim rejection.
type Conflict struct {
	BeadID    string
	Alias     string
	HumanName string
}

// Reason renders the user-facing rejection message.
func (c *Conflict) Reason() string {
	return fmt.Sprintf("%s is being worked on by %s (%s)", c.BeadID, c.Alias, c.HumanName)
}

// ResolveApex walks the parent chain of (projectID, beadID) up to
// maxApexDepth and returns the last reachable bead. When the bead has
// no parent it is its own apex; when the bead is unknown ok is false.
func (c *Coordinator) ResolveApex(ctx context.Context, projectID, beadID string) (Apex, bool, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	type node struct {
		beadID, repo, branch string
		issueType            string
		parentRepo           sql.NullString
		parentBranch         sql.NullString
		parentBeadID         sql.NullString
	}

	// The first hop matches on bead_id alone because claims are not
	// repo-scoped; the most recently synced copy wins.
	var cur node
	err := c.db.DB().QueryRowContext(ctx, `
		SELECT bead_id, repo, branch, issue_type, parent_repo, parent_branch, parent_bead_id
		FROM beads.issues
		WHERE project_id = $1 AND bead_id = $2
		ORDER BY synced_at DESC
		LIMIT 1`,
		projectID, beadID).Scan(&cur.beadID, &cur.repo, &cur.branch, &cur.issueType,
		&cur.parentRepo, &cur.parentBranch, &cur.parentBeadID)
	if err == sql.ErrNoRows {
		return Apex{}, false, nil
	}
	if err != nil {
		return Apex{}, false, fmt.Errorf("apex lookup failed: %w", err)
	}

	for depth := 0; depth < maxApexDepth; depth++ {
		if !cur.parentBeadID.Valid || cur.parentBeadID.String == "" {
			break
		}
		var next node
		err := c.db.DB().QueryRowContext(ctx, `
			SELECT bead_id, repo, branch, issue_type, parent_repo, parent_branch, parent_bead_id
			FROM beads.issues
			WHERE project_id = $1 AND repo = $2 AND branch = $3 AND bead_id = $4`,
			projectID, cur.parentRepo.String, cur.parentBranch.String, cur.parentBeadID.String).
			Scan(&next.beadID, &next.repo, &next.branch, &next.issueType,
				&next.parentRepo, &next.parentBranch, &next.parentBeadID)
		if err == sql.ErrNoRows {
			// Parent not synced yet; the current node is the apex.
			break
		}
		if err != nil {
			return Apex{}, false, fmt.Errorf("apex walk failed: %w", err)
		}
		cur = next
	}

	return Apex{BeadID: cur.beadID, Repo: cur.repo, Branch: cur.branch, Type: cur.issueType}, true, nil
}

// UpsertParams carries one claim attempt.
type UpsertParams struct {
	ProjectID   string
	WorkspaceID string
	Alias       string
	HumanName   string
	BeadID      string
}

// Upsert takes or refreshes an exclusive claim. When another
// workspace already holds the bead, the holder is returned as a
// Conflict and nothing is written. On success the workspace's focus
// follows the claimed bead's apex.
func (c *Coordinator) Upsert(ctx context.Context, p UpsertParams) (*Conflict, error) {
	apex, apexFound, err := c.ResolveApex(ctx, p.ProjectID, p.BeadID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	tx, err := c.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	var holderAlias, holderHuman string
	err = tx.QueryRowContext(ctx, `
		SELECT alias, human_name FROM server.bead_claims
		WHERE project_id = $1 AND bead_id = $2 AND workspace_id != $3
		LIMIT 1`,
		p.ProjectID, p.BeadID, p.WorkspaceID).Scan(&holderAlias, &holderHuman)
	if err == nil {
		return &Conflict{BeadID: p.BeadID, Alias: holderAlias, HumanName: holderHuman}, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("claim holder check failed: %w", err)
	}

	var apexBead, apexRepo, apexBranch interface{}
	if apexFound {
		apexBead, apexRepo, apexBranch = apex.BeadID, apex.Repo, apex.Branch
	}
	// xmax is zero only for freshly inserted rows, so conflict
	// refreshes do not move the active-claim gauge.
	var inserted bool
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO server.bead_claims
			(project_id, workspace_id, alias, human_name, bead_id, apex_bead_id, apex_repo_name, apex_branch, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (project_id, bead_id, workspace_id)
		DO UPDATE SET alias = EXCLUDED.alias, human_name = EXCLUDED.human_name,
			apex_bead_id = EXCLUDED.apex_bead_id, apex_repo_name = EXCLUDED.apex_repo_name,
			apex_branch = EXCLUDED.apex_branch, claimed_at = EXCLUDED.claimed_at
		RETURNING (xmax = 0)`,
		p.ProjectID, p.WorkspaceID, p.Alias, p.HumanName, p.BeadID, apexBead, apexRepo, apexBranch).Scan(&inserted); err != nil {
		return nil, fmt.Errorf("claim upsert failed: %w", err)
	}

	if apexFound {
		if _, err := tx.ExecContext(ctx, `
			UPDATE server.workspaces
			SET focus_apex_bead_id = $2, focus_apex_repo_name = $3, focus_apex_branch = $4,
				focus_apex_type = $5, focus_updated_at = NOW()
			WHERE workspace_id = $1`,
			p.WorkspaceID, apex.BeadID, apex.Repo, apex.Branch, apex.Type); err != nil {
			return nil, fmt.Errorf("focus update failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	if inserted {
		telemetry.AddActiveClaims(ctx, 1)
	}
	return nil, nil
}

// Delete releases one claim and moves the workspace's focus to its
// next most recent claim, or clears it when none remain.
func (c *Coordinator) Delete(ctx context.Context, projectID, workspaceID, beadID string) error {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	tx, err := c.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin claim release: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM server.bead_claims
		WHERE project_id = $1 AND workspace_id = $2 AND bead_id = $3`,
		projectID, workspaceID, beadID)
	if err != nil {
		return fmt.Errorf("claim delete failed: %w", err)
	}

	var apexBead, apexRepo, apexBranch sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT apex_bead_id, apex_repo_name, apex_branch
		FROM server.bead_claims
		WHERE project_id = $1 AND workspace_id = $2
		ORDER BY claimed_at DESC
		LIMIT 1`,
		projectID, workspaceID).Scan(&apexBead, &apexRepo, &apexBranch)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("next claim lookup failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE server.workspaces
		SET focus_apex_bead_id = $2, focus_apex_repo_name = $3, focus_apex_branch = $4,
			focus_apex_type = NULL, focus_updated_at = NOW()
		WHERE workspace_id = $1`,
		workspaceID, apexBead, apexRepo, apexBranch); err != nil {
		return fmt.Errorf("focus update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim release: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		telemetry.AddActiveClaims(ctx, -n)
	}
	return nil
}

// Command is a parsed bd command-line hint.
type Command struct {
	Name   string
	BeadID string
	Status string
}

// ParseCommandLine extracts (command, bead_id, status) best-effort
// from a bd command line. Unknown shapes yield an empty Command; the
// caller treats that as "no claim effect".
func ParseCommandLine(commandLine string) Command {
	parts := strings.Fields(commandLine)
	if len(parts) == 0 {
		return Command{}
	}
	cmd := Command{Name: parts[0]}

	switch cmd.Name {
	case "update", "close", "delete", "reopen":
		if len(parts) >= 2 {
			cmd.BeadID = parts[1]
		}
	}

	if cmd.Name == "update" {
		for i, p := range parts {
			if p == "--status" && i+1 < len(parts) {
				cmd.Status = strings.TrimSpace(parts[i+1])
				break
			}
			if strings.HasPrefix(p, "--status=") {
				cmd.Status = strings.TrimSpace(strings.SplitN(p, "=", 2)[1])
				break
			}
		}
	}
	return cmd
}

// ApplyCommand maps a parsed command onto claim state: moving a bead
// to in_progress claims it, any terminal transition releases it.
// Conflicts are returned, not raised; errors are logged best-effort.
func (c *Coordinator) ApplyCommand(ctx context.Context, cmd Command, p UpsertParams) (*Conflict, error) {
	if cmd.BeadID == "" {
		return nil, nil
	}
	p.BeadID = cmd.BeadID

	switch {
	case cmd.Name == "update" && cmd.Status == "in_progress":
		return c.Upsert(ctx, p)
	case cmd.Name == "close" || cmd.Name == "delete",
		cmd.Name == "update" && cmd.Status != "" && cmd.Status != "in_progress":
		if err := c.Delete(ctx, p.ProjectID, p.WorkspaceID, cmd.BeadID); err != nil {
			log.Printf("[Claims] release for %s failed: %v", cmd.BeadID, err)
		}
	}
	return nil, nil
}

// ClaimRecord is one row of the claims listing.
type ClaimRecord struct {
	BeadID      string `json:"bead_id"`
	WorkspaceID string `json:"workspace_id"`
	Alias       string `json:"alias"`
	HumanName   string `json:"human_name"`
	ClaimedAt   string `json:"claimed_at"`
	ProjectID   string `json:"project_id"`
}

// ListResult is a paginated claims listing.
type ListResult struct {
	Claims     []ClaimRecord `json:"claims"`
	HasMore    bool          `json:"has_more"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// List returns active claims ordered by most recently claimed, with
// cursor pagination and an optional workspace filter.
func (c *Coordinator) List(ctx context.Context, projectID, workspaceID string, limit int, cursor string) (*ListResult, error) {
	validatedLimit, cursorData, err := pagination.ValidateParams(limit, cursor, 200)
	if err != nil {
		return nil, httperr.Validation("%s", err.Error())
	}

	query := `
		SELECT bead_id, workspace_id, alias, human_name, claimed_at, project_id
		FROM server.bead_claims
		WHERE project_id = $1`
	args := []interface{}{projectID}

	if workspaceID != "" {
		wsID, err := validate.WorkspaceID(workspaceID)
		if err != nil {
			return nil, httperr.Validation("%s", err.Error())
		}
		args = append(args, wsID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}

	if cursorData != nil {
		if err := pagination.RequireFields(cursorData, "claimed_at"); err != nil {
			return nil, httperr.Validation("%s", err.Error())
		}
		raw, _ := cursorData["claimed_at"].(string)
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, httperr.Validation("invalid cursor: bad claimed_at timestamp")
		}
		args = append(args, ts)
		query += fmt.Sprintf(" AND claimed_at < $%d", len(args))
	}

	args = append(args, validatedLimit+1)
	query += fmt.Sprintf(" ORDER BY claimed_at DESC LIMIT $%d", len(args))

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := c.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claims list query failed: %w", err)
	}
	defer rows.Close()

	var claims []ClaimRecord
	for rows.Next() {
		var rec ClaimRecord
		var claimedAt time.Time
		if err := rows.Scan(&rec.BeadID, &rec.WorkspaceID, &rec.Alias, &rec.HumanName, &claimedAt, &rec.ProjectID); err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		rec.ClaimedAt = claimedAt.Format(time.RFC3339Nano)
		claims = append(claims, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims list iteration failed: %w", err)
	}

	hasMore := len(claims) > validatedLimit
	if hasMore {
		claims = claims[:validatedLimit]
	}
	if claims == nil {
		claims = []ClaimRecord{}
	}

	result := &ListResult{Claims: claims, HasMore: hasMore}
	if hasMore && len(claims) > 0 {
		cur := pagination.EncodeCursor(map[string]any{
			"claimed_at": claims[len(claims)-1].ClaimedAt,
		})
		result.NextCursor = &cur
	}
	return result, nil
}

// InProgress lists the project's active claims in the compact shape
// the bdh preflight context uses.
func (c *Coordinator) InProgress(ctx context.Context, projectID string) ([]map[string]interface{}, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := c.db.DB().QueryContext(qctx, `
		SELECT bead_id, workspace_id, alias, human_name, claimed_at
		FROM server.bead_claims
		WHERE project_id = $1
		ORDER BY claimed_at DESC
		LIMIT 200`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("in-progress query failed: %w", err)
	}
	defer rows.Close()

	out := []map[string]interface{}{}
	for rows.Next() {
		var beadID, workspaceID, alias, humanName string
		var claimedAt time.Time
		if err := rows.Scan(&beadID, &workspaceID, &alias, &humanName, &claimedAt); err != nil {
			return nil, fmt.Errorf("in-progress scan failed: %w", err)
		}
		out = append(out, map[string]interface{}{
			"bead_id":      beadID,
			"workspace_id": workspaceID,
			"alias":        alias,
			"human_name":   humanName,
			"started_at":   claimedAt.Format(time.RFC3339),
			"title":        nil,
			"role":         nil,
		})
	}
	return out, rows.Err()
}
