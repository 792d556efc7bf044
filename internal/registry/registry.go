// Package registry is the authoritative workspace store. SQL owns
// workspace identity and lifecycle; Redis presence is a cache layered
// on top and always written best-effort after the SQL commit.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/giturl"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/presence"
	"github.com/jordanhubbard/beadhub/internal/telemetry"
)

// Registry coordinates workspace registration, heartbeats, and
// lifecycle against SQL with presence as a cache.
type Registry struct {
	db   *database.Database
	pres *presence.Store
}

// NewRegistry creates a workspace registry.
func NewRegistry(db *database.Database, pres *presence.Store) *Registry {
	return &Registry{db: db, pres: pres}
}

// DB exposes the underlying database for sibling stores.
func (r *Registry) DB() *database.Database { return r.db }

// Presence exposes the presence store.
func (r *Registry) Presence() *presence.Store { return r.pres }

// EnsureProject upserts the tenant row so repo and workspace foreign
// keys always resolve. Re-registering revives a soft-deleted project.
func (r *Registry) EnsureProject(ctx context.Context, projectID, slug, name string) error {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO aweb.projects (project_id, slug, name, deleted_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (project_id)
		DO UPDATE SET slug = EXCLUDED.slug, name = EXCLUDED.name, deleted_at = NULL`,
		projectID, slug, name)
	if err != nil {
		return fmt.Errorf("failed to ensure project: %w", err)
	}
	return nil
}

// EnsureRepo upserts a repo for the project and returns its id.
// Re-registering revives a soft-deleted repo.
func (r *Registry) EnsureRepo(ctx context.Context, projectID, originURL string) (string, error) {
	canonical, err := giturl.Canonicalize(originURL)
	if err != nil {
		return "", httperr.Validation("Invalid repo_origin: %s", err.Error())
	}
	name := giturl.RepoName(canonical)

	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var repoID string
	err = r.db.DB().QueryRowContext(ctx, `
		INSERT INTO server.repos (project_id, origin_url, canonical_origin, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, canonical_origin)
		DO UPDATE SET origin_url = EXCLUDED.origin_url, deleted_at = NULL
		RETURNING repo_id`,
		projectID, originURL, canonical, name).Scan(&repoID)
	if err != nil {
		return "", fmt.Errorf("failed to ensure repo: %w", err)
	}
	return repoID, nil
}

// UpsertWorkspace creates or refreshes the workspace row. Identity
// fields stay immutable: role only overwrites when provided, hostname
// and workspace_path can be set once while NULL.
func (r *Registry) UpsertWorkspace(ctx context.Context, workspaceID, projectID, repoID, alias, humanName string, role, hostname, workspacePath *string) error {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO server.workspaces (workspace_id, project_id, repo_id, alias, human_name, role, hostname, workspace_path, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (workspace_id) DO UPDATE SET
			human_name = EXCLUDED.human_name,
			role = COALESCE(EXCLUDED.role, server.workspaces.role),
			hostname = COALESCE(server.workspaces.hostname, EXCLUDED.hostname),
			workspace_path = COALESCE(server.workspaces.workspace_path, EXCLUDED.workspace_path),
			last_seen_at = NOW(),
			updated_at = NOW()`,
		workspaceID, projectID, repoID, alias, humanName, role, hostname, workspacePath)
	if err != nil {
		if isUniqueViolation(err) {
			return httperr.Conflict("Alias '%s' is already used by another workspace in this project. Please choose a different alias and run 'bdh :init' again.", alias)
		}
		return fmt.Errorf("failed to upsert workspace: %w", err)
	}
	return nil
}

// CheckAliasCollision reports the workspace currently holding an alias
// within the project, or "" when the alias is free. Checks the
// authoritative workspaces table, then claims written before the
// workspace row existed, then the Redis presence alias index.
func (r *Registry) CheckAliasCollision(ctx context.Context, projectID, workspaceID, alias string) (string, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var holder string
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT workspace_id FROM server.workspaces
		WHERE project_id = $1 AND alias = $2 AND workspace_id != $3 AND deleted_at IS NULL
		LIMIT 1`,
		projectID, alias, workspaceID).Scan(&holder)
	if err == nil {
		return holder, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("alias collision check failed: %w", err)
	}

	err = r.db.DB().QueryRowContext(ctx, `
		SELECT DISTINCT workspace_id FROM server.bead_claims
		WHERE project_id = $1 AND alias = $2 AND workspace_id != $3
		LIMIT 1`,
		projectID, alias, workspaceID).Scan(&holder)
	if err == nil {
		return holder, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("alias collision check failed: %w", err)
	}

	colliding, err := r.pres.GetWorkspaceIDByAlias(ctx, projectID, alias)
	if err != nil {
		// Presence is a cache; SQL already answered authoritatively.
		log.Printf("[Registry] alias presence check failed: %v", err)
		return "", nil
	}
	if colliding != "" && colliding != workspaceID {
		return colliding, nil
	}
	return "", nil
}

// WorkspaceRow is the subset of workspace columns lifecycle checks
// need.
type WorkspaceRow struct {
	WorkspaceID string
	ProjectID   string
	RepoID      sql.NullString
	Alias       string
	HumanName   string
	Role        sql.NullString
	DeletedAt   sql.NullTime
}

// GetWorkspace fetches one workspace row regardless of soft-delete
// state, or nil when absent.
func (r *Registry) GetWorkspace(ctx context.Context, workspaceID string) (*WorkspaceRow, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var row WorkspaceRow
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT workspace_id, project_id, repo_id, alias, human_name, role, deleted_at
		FROM server.workspaces WHERE workspace_id = $1`,
		workspaceID).Scan(&row.WorkspaceID, &row.ProjectID, &row.RepoID, &row.Alias, &row.HumanName, &row.Role, &row.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace lookup failed: %w", err)
	}
	return &row, nil
}

// EnsureAlive verifies the workspace exists in the project and has
// not been soft-deleted. 404 when missing, 410 when deleted.
func (r *Registry) EnsureAlive(ctx context.Context, projectID, workspaceID string) (*WorkspaceRow, error) {
	row, err := r.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.ProjectID != projectID {
		return nil, httperr.NotFound("Workspace not found")
	}
	if row.DeletedAt.Valid {
		return nil, httperr.Gone("Workspace was deleted")
	}
	return row, nil
}

// TouchLastSeen refreshes activity tracking on every coordination
// call so stale-workspace detection has fresh data.
func (r *Registry) TouchLastSeen(ctx context.Context, projectID, workspaceID, humanName string, role *string) error {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.DB().ExecContext(ctx, `
		UPDATE server.workspaces
		SET last_seen_at = NOW(), human_name = $3, role = COALESCE($4, role)
		WHERE workspace_id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		workspaceID, projectID, humanName, role)
	if err != nil {
		return fmt.Errorf("failed to touch workspace: %w", err)
	}
	return nil
}

// RegisterParams carries a registration request. Identity fields come
// from auth, never from the client payload.
type RegisterParams struct {
	WorkspaceID   string
	ProjectID     string
	ProjectSlug   string
	ProjectName   string
	Alias         string
	HumanName     string
	RepoOrigin    string
	Role          *string
	Hostname      *string
	WorkspacePath *string
}

// RegisterResult reports the committed registration.
type RegisterResult struct {
	WorkspaceID     string `json:"workspace_id"`
	ProjectID       string `json:"project_id"`
	ProjectSlug     string `json:"project_slug"`
	RepoID          string `json:"repo_id"`
	CanonicalOrigin string `json:"canonical_origin"`
	Alias           string `json:"alias"`
	HumanName       string `json:"human_name"`
	Created         bool   `json:"created"`
}

// Register creates or revives a workspace in one transaction.
// Identity fields are immutable: re-registering with a different
// project, repo, or alias fails with 409.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (*RegisterResult, error) {
	canonical, err := giturl.Canonicalize(p.RepoOrigin)
	if err != nil {
		return nil, httperr.Validation("Invalid repo_origin: %s", err.Error())
	}
	repoName := giturl.RepoName(canonical)

	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	defer tx.Rollback()

	var projectName interface{}
	if p.ProjectName != "" {
		projectName = p.ProjectName
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO aweb.projects (project_id, slug, name, deleted_at)
		VALUES ($1, $2, COALESCE($3, ''), NULL)
		ON CONFLICT (project_id)
		DO UPDATE SET slug = EXCLUDED.slug, name = EXCLUDED.name, deleted_at = NULL`,
		p.ProjectID, p.ProjectSlug, projectName); err != nil {
		return nil, fmt.Errorf("failed to ensure project: %w", err)
	}

	var repoID string
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO server.repos (project_id, origin_url, canonical_origin, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, canonical_origin)
		DO UPDATE SET origin_url = EXCLUDED.origin_url, deleted_at = NULL
		RETURNING repo_id`,
		p.ProjectID, p.RepoOrigin, canonical, repoName).Scan(&repoID); err != nil {
		return nil, fmt.Errorf("failed to ensure repo: %w", err)
	}

	var existing struct {
		projectID string
		repoID    sql.NullString
		alias     string
	}
	created := false
	err = tx.QueryRowContext(ctx, `
		SELECT project_id, repo_id, alias
		FROM server.workspaces WHERE workspace_id = $1`,
		p.WorkspaceID).Scan(&existing.projectID, &existing.repoID, &existing.alias)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO server.workspaces
				(workspace_id, project_id, repo_id, alias, human_name, role, hostname, workspace_path, workspace_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'agent')`,
			p.WorkspaceID, p.ProjectID, repoID, p.Alias, p.HumanName, p.Role, p.Hostname, p.WorkspacePath)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, httperr.Conflict("Alias '%s' is already used in this project", p.Alias)
			}
			return nil, fmt.Errorf("failed to insert workspace: %w", err)
		}
		created = true
	case err != nil:
		return nil, fmt.Errorf("workspace lookup failed: %w", err)
	default:
		if existing.projectID != p.ProjectID {
			return nil, httperr.Conflict("Workspace already registered in another project")
		}
		if existing.repoID.Valid && existing.repoID.String != repoID {
			return nil, httperr.Conflict("Workspace already registered for another repo")
		}
		if existing.alias != p.Alias {
			return nil, httperr.Conflict("Workspace already registered with a different alias")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE server.workspaces
			SET deleted_at = NULL, hostname = $2, workspace_path = $3, role = $4, human_name = $5, updated_at = NOW()
			WHERE workspace_id = $1`,
			p.WorkspaceID, p.Hostname, p.WorkspacePath, p.Role, p.HumanName); err != nil {
			return nil, fmt.Errorf("failed to revive workspace: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	return &RegisterResult{
		WorkspaceID:     p.WorkspaceID,
		ProjectID:       p.ProjectID,
		ProjectSlug:     p.ProjectSlug,
		RepoID:          repoID,
		CanonicalOrigin: canonical,
		Alias:           p.Alias,
		HumanName:       p.HumanName,
		Created:         created,
	}, nil
}

// HeartbeatParams carries one presence refresh.
type HeartbeatParams struct {
	WorkspaceID   string
	ProjectID     string
	Alias         string
	RepoOrigin    string
	Role          *string
	CurrentBranch *string
	Hostname      *string
	WorkspacePath *string
	HumanName     string
}

// Heartbeat refreshes a workspace: SQL first, then presence. The
// pre-checks surface lifecycle conflicts as client errors instead of
// leaking constraint violations as 500s.
func (r *Registry) Heartbeat(ctx context.Context, p HeartbeatParams) error {
	canonical, err := giturl.Canonicalize(p.RepoOrigin)
	if err != nil {
		return httperr.Validation("Invalid repo_origin: %s", err.Error())
	}

	existing, err := r.GetWorkspace(ctx, p.WorkspaceID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.DeletedAt.Valid {
			return httperr.Gone("Workspace was deleted. Run 'bdh :init' to re-register.")
		}
		if existing.ProjectID != p.ProjectID {
			return httperr.BadRequest("Workspace %s does not belong to this project. This may indicate a corrupted .beadhub file. Try running 'bdh :init' again.", p.WorkspaceID)
		}
		if existing.Alias != "" && existing.Alias != p.Alias {
			return httperr.Conflict("Alias mismatch for workspace %s (expected '%s', got '%s'). Run 'bdh :init' to re-register.", p.WorkspaceID, existing.Alias, p.Alias)
		}
	}

	var repoID string
	if existing != nil && existing.RepoID.Valid {
		repoID = existing.RepoID.String

		qctx, cancel := database.WithTimeout(ctx)
		var repoOrigin string
		err := r.db.DB().QueryRowContext(qctx, `
			SELECT canonical_origin FROM server.repos
			WHERE repo_id = $1 AND project_id = $2 AND deleted_at IS NULL`,
			repoID, p.ProjectID).Scan(&repoOrigin)
		cancel()
		if err == sql.ErrNoRows {
			return httperr.Gone("Workspace repository was deleted. Run 'bdh :init' to re-register.")
		}
		if err != nil {
			return fmt.Errorf("repo lookup failed: %w", err)
		}
		if repoOrigin != canonical {
			return httperr.BadRequest("Repo mismatch: workspace is registered with a different repository. This may indicate a corrupted .beadhub file. Run 'bdh :init' again.")
		}
	} else {
		colliding, err := r.CheckAliasCollision(ctx, p.ProjectID, p.WorkspaceID, p.Alias)
		if err != nil {
			return err
		}
		if colliding != "" {
			return httperr.Conflict("Alias '%s' is already used by another workspace in this project. Please choose a different alias and run 'bdh :init' again.", p.Alias)
		}
		repoID, err = r.EnsureRepo(ctx, p.ProjectID, p.RepoOrigin)
		if err != nil {
			return err
		}
	}

	if err := r.UpsertWorkspace(ctx, p.WorkspaceID, p.ProjectID, repoID, p.Alias, p.HumanName, p.Role, p.Hostname, p.WorkspacePath); err != nil {
		return err
	}

	if p.CurrentBranch != nil {
		qctx, cancel := database.WithTimeout(ctx)
		_, err := r.db.DB().ExecContext(qctx, `
			UPDATE server.workspaces
			SET current_branch = $1, last_seen_at = NOW()
			WHERE workspace_id = $2`,
			*p.CurrentBranch, p.WorkspaceID)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to update branch: %w", err)
		}
	}

	slug := r.projectSlug(ctx, p.ProjectID)

	fields := presence.Fields{
		Alias:       p.Alias,
		HumanName:   p.HumanName,
		ProjectID:   p.ProjectID,
		ProjectSlug: slug,
		RepoID:      repoID,
		Program:     "bdh",
	}
	if p.CurrentBranch != nil {
		fields.CurrentBranch = *p.CurrentBranch
	}
	if p.Role != nil {
		fields.Role = *p.Role
	}
	if _, err := r.pres.Upsert(ctx, p.WorkspaceID, fields); err != nil {
		// SQL already committed; presence converges on the next retry.
		log.Printf("[Registry] heartbeat SQL upsert succeeded but presence update failed for %s: %v", p.WorkspaceID, err)
	}
	telemetry.RecordHeartbeat(ctx)
	return nil
}

// SoftDeleteResult reports one workspace soft-delete.
type SoftDeleteResult struct {
	WorkspaceID string `json:"workspace_id"`
	Alias       string `json:"alias"`
	DeletedAt   string `json:"deleted_at"`
}

// SoftDelete marks a workspace deleted and releases its claims. Any
// workspace in the project may delete any other, enabling peer
// cleanup of machines that no longer exist.
func (r *Registry) SoftDelete(ctx context.Context, projectID, workspaceID string) (*SoftDeleteResult, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var alias string
	var deletedAt sql.NullTime
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT alias, deleted_at FROM server.workspaces
		WHERE workspace_id = $1 AND project_id = $2`,
		workspaceID, projectID).Scan(&alias, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, httperr.NotFound("Workspace %s not found", workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace lookup failed: %w", err)
	}
	if deletedAt.Valid {
		return nil, httperr.NotFound("Workspace %s is already deleted", workspaceID)
	}

	now := time.Now().UTC()
	if _, err := r.db.DB().ExecContext(ctx, `
		UPDATE server.workspaces SET deleted_at = $2 WHERE workspace_id = $1`,
		workspaceID, now); err != nil {
		return nil, fmt.Errorf("failed to soft-delete workspace: %w", err)
	}

	// Soft-delete does not fire the FK cascade, so claims go explicitly.
	if _, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM server.bead_claims WHERE workspace_id = $1`,
		workspaceID); err != nil {
		return nil, fmt.Errorf("failed to release claims: %w", err)
	}

	if err := r.pres.ClearPresence(ctx, []string{workspaceID}); err != nil {
		log.Printf("[Registry] failed to clear presence for deleted workspace %s: %v", workspaceID, err)
	}

	return &SoftDeleteResult{
		WorkspaceID: workspaceID,
		Alias:       alias,
		DeletedAt:   now.Format(time.RFC3339),
	}, nil
}

// RestoreResult reports one workspace restore.
type RestoreResult struct {
	WorkspaceID string `json:"workspace_id"`
	Alias       string `json:"alias"`
	RestoredAt  string `json:"restored_at"`
}

// Restore reverses a soft-delete. Claims released at delete time stay
// released. Fails with 409 when the alias was reclaimed meanwhile.
func (r *Registry) Restore(ctx context.Context, projectID, workspaceID string) (*RestoreResult, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var alias string
	var deletedAt sql.NullTime
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT alias, deleted_at FROM server.workspaces
		WHERE workspace_id = $1 AND project_id = $2`,
		workspaceID, projectID).Scan(&alias, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, httperr.NotFound("Workspace %s not found", workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace lookup failed: %w", err)
	}
	if !deletedAt.Valid {
		return nil, httperr.Conflict("Workspace %s is already active (not deleted)", workspaceID)
	}

	var holder string
	err = r.db.DB().QueryRowContext(ctx, `
		SELECT workspace_id FROM server.workspaces
		WHERE project_id = $1 AND alias = $2 AND workspace_id != $3 AND deleted_at IS NULL`,
		projectID, alias, workspaceID).Scan(&holder)
	if err == nil {
		return nil, httperr.Conflict("Cannot restore: alias '%s' is now used by another workspace", alias)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("alias check failed: %w", err)
	}

	now := time.Now().UTC()
	if _, err := r.db.DB().ExecContext(ctx, `
		UPDATE server.workspaces SET deleted_at = NULL, updated_at = $2 WHERE workspace_id = $1`,
		workspaceID, now); err != nil {
		return nil, fmt.Errorf("failed to restore workspace: %w", err)
	}

	return &RestoreResult{
		WorkspaceID: workspaceID,
		Alias:       alias,
		RestoredAt:  now.Format(time.RFC3339),
	}, nil
}

// LiveWorkspaceIDs returns the IDs of every non-deleted workspace in
// the project, for event-stream subscription fan-in.
func (r *Registry) LiveWorkspaceIDs(ctx context.Context, projectID string) ([]string, error) {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(ctx, `
		SELECT workspace_id FROM server.workspaces
		WHERE project_id = $1 AND deleted_at IS NULL`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("workspace id list failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("workspace id scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// projectSlug resolves the project slug for presence enrichment, ""
// when unknown.
func (r *Registry) projectSlug(ctx context.Context, projectID string) string {
	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var slug string
	if err := r.db.DB().QueryRowContext(ctx, `
		SELECT slug FROM aweb.projects WHERE project_id = $1`,
		projectID).Scan(&slug); err != nil {
		return ""
	}
	return slug
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
