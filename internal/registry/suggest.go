package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/giturl"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/names"
)

// SuggestResult is the outcome of a name-prefix suggestion.
type SuggestResult struct {
	NamePrefix      string `json:"name_prefix"`
	ProjectID       string `json:"project_id"`
	ProjectSlug     string `json:"project_slug"`
	RepoID          string `json:"repo_id"`
	CanonicalOrigin string `json:"canonical_origin"`
}

// SuggestNamePrefix picks the next free classic name for a new
// workspace joining the repo at originURL. authProjectID is the
// caller's project when authenticated, "" otherwise; it disambiguates
// repos registered in multiple projects and allows suggestions for
// repos not yet registered.
func (r *Registry) SuggestNamePrefix(ctx context.Context, originURL, authProjectID string) (*SuggestResult, error) {
	canonical, err := giturl.Canonicalize(originURL)
	if err != nil {
		return nil, httperr.Validation("Invalid origin_url: %s", err.Error())
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(qctx, `
		SELECT r.repo_id, r.canonical_origin, p.project_id, p.slug
		FROM server.repos r
		JOIN aweb.projects p ON r.project_id = p.project_id AND p.deleted_at IS NULL
		WHERE r.canonical_origin = $1 AND r.deleted_at IS NULL
		ORDER BY p.slug`,
		canonical)
	if err != nil {
		return nil, fmt.Errorf("repo lookup failed: %w", err)
	}
	defer rows.Close()

	type repoMatch struct {
		repoID      string
		projectID   string
		projectSlug string
	}
	var matches []repoMatch
	for rows.Next() {
		var m repoMatch
		var origin string
		if err := rows.Scan(&m.repoID, &origin, &m.projectID, &m.projectSlug); err != nil {
			return nil, fmt.Errorf("repo scan failed: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo lookup iteration failed: %w", err)
	}

	var projectID, projectSlug, repoID string
	switch {
	case len(matches) == 0:
		if authProjectID == "" {
			return nil, httperr.NotFound("Repo not registered: %s. Run 'bdh :init' to register.", canonical)
		}
		err := r.db.DB().QueryRowContext(qctx, `
			SELECT project_id, slug FROM aweb.projects
			WHERE project_id = $1 AND deleted_at IS NULL`,
			authProjectID).Scan(&projectID, &projectSlug)
		if err == sql.ErrNoRows {
			return nil, httperr.NotFound("Project not found")
		}
		if err != nil {
			return nil, fmt.Errorf("project lookup failed: %w", err)
		}
	case len(matches) > 1:
		if authProjectID != "" {
			var found *repoMatch
			for i := range matches {
				if matches[i].projectID == authProjectID {
					found = &matches[i]
					break
				}
			}
			if found == nil {
				return nil, httperr.Forbidden("Repo does not belong to your project")
			}
			projectID, projectSlug, repoID = found.projectID, found.projectSlug, found.repoID
		} else {
			slugs := make([]string, len(matches))
			for i, m := range matches {
				slugs[i] = m.projectSlug
			}
			return nil, httperr.Conflict("Repo exists in multiple projects: %s. Specify project with BEADHUB_PROJECT or --project.", strings.Join(slugs, ", "))
		}
	default:
		projectID, projectSlug, repoID = matches[0].projectID, matches[0].projectSlug, matches[0].repoID
	}

	// Agents can exist without a workspace row, so the agents table is
	// the authoritative source of used aliases.
	aliasRows, err := r.db.DB().QueryContext(qctx, `
		SELECT alias FROM aweb.agents
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY alias`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("alias lookup failed: %w", err)
	}
	defer aliasRows.Close()

	taken := make(map[string]bool)
	for aliasRows.Next() {
		var alias string
		if err := aliasRows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("alias scan failed: %w", err)
		}
		if prefix := names.PrefixOf(alias); prefix != "" {
			taken[prefix] = true
		}
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("alias iteration failed: %w", err)
	}

	prefix, ok := names.SuggestPrefix(taken)
	if !ok {
		return nil, httperr.Conflict("All name prefixes are taken (tried %d names × 100 variants). Use --alias to specify a custom alias.", names.PoolSize())
	}

	return &SuggestResult{
		NamePrefix:      prefix,
		ProjectID:       projectID,
		ProjectSlug:     projectSlug,
		RepoID:          repoID,
		CanonicalOrigin: canonical,
	}, nil
}
