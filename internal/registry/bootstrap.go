package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jordanhubbard/beadhub/internal/auth"
	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/giturl"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/names"
)

// BootstrapParams is one /v1/init request after validation.
type BootstrapParams struct {
	ProjectSlug   string
	ProjectName   string
	Alias         string
	HumanName     string
	AgentType     string
	Lifetime      string
	Role          string
	RepoOrigin    string
	Hostname      string
	WorkspacePath string
}

// BootstrapResult reports the minted identity and, when a repo origin
// was supplied, the registered workspace.
type BootstrapResult struct {
	APIKey           string  `json:"api_key"`
	ProjectID        string  `json:"project_id"`
	ProjectSlug      string  `json:"project_slug"`
	AgentID          string  `json:"agent_id"`
	Alias            string  `json:"alias"`
	Created          bool    `json:"created"`
	RepoID           *string `json:"repo_id,omitempty"`
	CanonicalOrigin  *string `json:"canonical_origin,omitempty"`
	WorkspaceID      *string `json:"workspace_id,omitempty"`
	WorkspaceCreated bool    `json:"workspace_created"`
	Lifetime         string  `json:"lifetime"`
}

// Bootstrap creates (or reuses) an agent identity and always mints a
// fresh API key for it. When RepoOrigin is set, the repo is ensured
// and a workspace is registered with workspace_id = agent_id, all in
// one transaction so a failed init leaves nothing behind.
func (r *Registry) Bootstrap(ctx context.Context, p BootstrapParams) (*BootstrapResult, error) {
	var canonical string
	if p.RepoOrigin != "" {
		var err error
		canonical, err = giturl.Canonicalize(p.RepoOrigin)
		if err != nil {
			return nil, httperr.Validation("Invalid repo_origin: %s", err.Error())
		}
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	slug := strings.TrimSpace(p.ProjectSlug)
	if slug == "" {
		if canonical == "" {
			return nil, httperr.Validation("project_slug is required")
		}
		inferred, err := r.inferSlugFromRepo(qctx, canonical)
		if err != nil {
			return nil, err
		}
		slug = inferred
	}

	tx, err := r.db.DB().BeginTx(qctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin bootstrap: %w", err)
	}
	defer tx.Rollback()

	projectID, err := ensureProjectTx(qctx, tx, slug, p.ProjectName)
	if err != nil {
		return nil, err
	}

	alias := strings.TrimSpace(p.Alias)
	if alias == "" {
		prefix, err := suggestPrefixTx(qctx, tx, projectID)
		if err != nil {
			return nil, err
		}
		role := p.Role
		if role == "" {
			role = "agent"
		}
		alias = prefix + "-" + strings.ToLower(role)
	}

	agentID, created, err := ensureAgentTx(qctx, tx, projectID, alias, p)
	if err != nil {
		return nil, err
	}

	token, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	if _, err := auth.InsertAPIKey(qctx, tx, projectID, agentID, prefix, hash); err != nil {
		return nil, err
	}

	result := &BootstrapResult{
		APIKey:      token,
		ProjectID:   projectID,
		ProjectSlug: slug,
		AgentID:     agentID,
		Alias:       alias,
		Created:     created,
		Lifetime:    p.Lifetime,
	}

	if canonical != "" {
		repoID, workspaceCreated, err := ensureWorkspaceTx(qctx, tx, projectID, agentID, alias, canonical, p)
		if err != nil {
			return nil, err
		}
		result.RepoID = &repoID
		result.CanonicalOrigin = &canonical
		result.WorkspaceID = &agentID
		result.WorkspaceCreated = workspaceCreated
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bootstrap: %w", err)
	}
	return result, nil
}

// inferSlugFromRepo resolves the project slug from an already
// registered repo, so re-inits can omit project_slug.
func (r *Registry) inferSlugFromRepo(ctx context.Context, canonical string) (string, error) {
	var slug string
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT p.slug
		FROM server.repos r
		JOIN aweb.projects p ON r.project_id = p.project_id AND p.deleted_at IS NULL
		WHERE r.canonical_origin = $1 AND r.deleted_at IS NULL
		ORDER BY p.slug
		LIMIT 1`,
		canonical).Scan(&slug)
	if err == sql.ErrNoRows {
		return "", httperr.Validation("project_not_found: repo not registered")
	}
	if err != nil {
		return "", fmt.Errorf("project inference failed: %w", err)
	}
	return slug, nil
}

func ensureProjectTx(ctx context.Context, tx *sql.Tx, slug, name string) (string, error) {
	var projectID string
	err := tx.QueryRowContext(ctx, `
		SELECT project_id FROM aweb.projects WHERE slug = $1 AND deleted_at IS NULL`,
		slug).Scan(&projectID)
	if err == nil {
		return projectID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("project lookup failed: %w", err)
	}

	projectID = uuid.NewString()
	if name == "" {
		name = slug
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO aweb.projects (project_id, slug, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET deleted_at = NULL`,
		projectID, slug, name); err != nil {
		return "", fmt.Errorf("project create failed: %w", err)
	}
	// A concurrent init may have won the slug; read back the winner.
	if err := tx.QueryRowContext(ctx, `
		SELECT project_id FROM aweb.projects WHERE slug = $1`,
		slug).Scan(&projectID); err != nil {
		return "", fmt.Errorf("project readback failed: %w", err)
	}
	return projectID, nil
}

func suggestPrefixTx(ctx context.Context, tx *sql.Tx, projectID string) (string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT alias FROM aweb.agents
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY alias`,
		projectID)
	if err != nil {
		return "", fmt.Errorf("alias lookup failed: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return "", fmt.Errorf("alias scan failed: %w", err)
		}
		if prefix := names.PrefixOf(alias); prefix != "" {
			taken[prefix] = true
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	prefix, ok := names.SuggestPrefix(taken)
	if !ok {
		return "", httperr.Conflict("All name prefixes are taken (tried %d names x 100 variants). Use --alias to specify a custom alias.", names.PoolSize())
	}
	return prefix, nil
}

func ensureAgentTx(ctx context.Context, tx *sql.Tx, projectID, alias string, p BootstrapParams) (string, bool, error) {
	var agentID string
	err := tx.QueryRowContext(ctx, `
		SELECT agent_id FROM aweb.agents
		WHERE project_id = $1 AND alias = $2 AND deleted_at IS NULL`,
		projectID, alias).Scan(&agentID)
	if err == nil {
		return agentID, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("agent lookup failed: %w", err)
	}

	agentID = uuid.NewString()
	agentType := p.AgentType
	if agentType == "" {
		agentType = "agent"
	}
	lifetime := p.Lifetime
	if lifetime == "" {
		lifetime = "ephemeral"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO aweb.agents (agent_id, project_id, alias, human_name, agent_type, lifetime)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		agentID, projectID, alias, p.HumanName, agentType, lifetime); err != nil {
		return "", false, fmt.Errorf("agent create failed: %w", err)
	}
	return agentID, true, nil
}

func ensureWorkspaceTx(ctx context.Context, tx *sql.Tx, projectID, agentID, alias, canonical string, p BootstrapParams) (string, bool, error) {
	var repoID string
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO server.repos (project_id, origin_url, canonical_origin, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, canonical_origin)
		DO UPDATE SET origin_url = EXCLUDED.origin_url, deleted_at = NULL
		RETURNING repo_id`,
		projectID, p.RepoOrigin, canonical, giturl.RepoName(canonical)).Scan(&repoID); err != nil {
		return "", false, fmt.Errorf("repo ensure failed: %w", err)
	}

	var existingRepoID sql.NullString
	var existingOrigin sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT w.repo_id, r.canonical_origin
		FROM server.workspaces w
		LEFT JOIN server.repos r ON w.repo_id = r.repo_id
		WHERE w.workspace_id = $1 AND w.project_id = $2`,
		agentID, projectID).Scan(&existingRepoID, &existingOrigin)

	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO server.workspaces
				(workspace_id, project_id, repo_id, alias, human_name, role, hostname, workspace_path)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))`,
			agentID, projectID, repoID, alias, p.HumanName, p.Role, p.Hostname, p.WorkspacePath); err != nil {
			return "", false, fmt.Errorf("workspace create failed: %w", err)
		}
		return repoID, true, nil
	case err != nil:
		return "", false, fmt.Errorf("workspace lookup failed: %w", err)
	}

	if !existingRepoID.Valid || existingRepoID.String != repoID {
		return "", false, httperr.Conflict(
			"workspace_repo_mismatch: alias '%s' (workspace_id=%s) is already registered for repo '%s'. Cannot initialize the same agent for repo '%s'. Choose a different alias or initialize from the original repo.",
			alias, agentID, existingOrigin.String, canonical)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE server.workspaces
		SET repo_id = $3, alias = $4, human_name = $5, role = $6,
			hostname = NULLIF($7, ''), workspace_path = NULLIF($8, ''),
			deleted_at = NULL, updated_at = now()
		WHERE workspace_id = $1 AND project_id = $2`,
		agentID, projectID, repoID, alias, p.HumanName, p.Role, p.Hostname, p.WorkspacePath); err != nil {
		return "", false, fmt.Errorf("workspace update failed: %w", err)
	}
	return repoID, false, nil
}
