// Package subscriptions manages per-bead notification subscriptions.
package subscriptions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// validEventTypes enumerates what a subscription may listen for.
var validEventTypes = map[string]bool{
	"status_change":   true,
	"priority_change": true,
	"assignee_change": true,
	"all":             true,
}

// Store persists subscriptions.
type Store struct {
	db *database.Database
}

// NewStore creates a subscription store.
func NewStore(db *database.Database) *Store {
	return &Store{db: db}
}

// Subscription is one row in API shape.
type Subscription struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	WorkspaceID string   `json:"workspace_id"`
	Alias       string   `json:"alias"`
	BeadID      string   `json:"bead_id"`
	Repo        *string  `json:"repo,omitempty"`
	EventTypes  []string `json:"event_types"`
	CreatedAt   string   `json:"created_at"`
}

// CreateParams describes one subscription request.
type CreateParams struct {
	ProjectID   string
	WorkspaceID string
	Alias       string
	BeadID      string
	Repo        string
	EventTypes  []string
}

// Create upserts a subscription. Repeating the same target replaces
// the event type list instead of erroring, so subscribe is idempotent.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Subscription, error) {
	if len(p.EventTypes) == 0 {
		p.EventTypes = []string{"status_change"}
	}
	for _, et := range p.EventTypes {
		if !validEventTypes[et] {
			return nil, httperr.Validation("Invalid event type: %s. Valid types: status_change, priority_change, assignee_change, all", et)
		}
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var repo interface{}
	if p.Repo != "" {
		repo = p.Repo
	}

	row := s.db.DB().QueryRowContext(qctx, `
		INSERT INTO server.subscriptions (id, project_id, workspace_id, alias, bead_id, repo, event_types)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, workspace_id, bead_id, COALESCE(repo, ''))
		DO UPDATE SET event_types = EXCLUDED.event_types, alias = EXCLUDED.alias
		RETURNING id, repo, event_types, created_at`,
		uuid.NewString(), p.ProjectID, p.WorkspaceID, p.Alias, p.BeadID, repo, pq.Array(p.EventTypes))

	sub := Subscription{
		ProjectID:   p.ProjectID,
		WorkspaceID: p.WorkspaceID,
		Alias:       p.Alias,
		BeadID:      p.BeadID,
	}
	var repoOut sql.NullString
	var createdAt time.Time
	if err := row.Scan(&sub.ID, &repoOut, pq.Array(&sub.EventTypes), &createdAt); err != nil {
		return nil, fmt.Errorf("subscription upsert failed: %w", err)
	}
	if repoOut.Valid {
		sub.Repo = &repoOut.String
	}
	sub.CreatedAt = createdAt.Format(time.RFC3339Nano)
	return &sub, nil
}

// List returns a workspace's subscriptions, newest first.
func (s *Store) List(ctx context.Context, projectID, workspaceID string) ([]Subscription, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := s.db.DB().QueryContext(qctx, `
		SELECT id, workspace_id, alias, bead_id, repo, event_types, created_at
		FROM server.subscriptions
		WHERE project_id = $1 AND workspace_id = $2
		ORDER BY created_at DESC`,
		projectID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("subscription list failed: %w", err)
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		sub := Subscription{ProjectID: projectID}
		var repo sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&sub.ID, &sub.WorkspaceID, &sub.Alias, &sub.BeadID,
			&repo, pq.Array(&sub.EventTypes), &createdAt); err != nil {
			return nil, fmt.Errorf("subscription scan failed: %w", err)
		}
		if repo.Valid {
			sub.Repo = &repo.String
		}
		sub.CreatedAt = createdAt.Format(time.RFC3339Nano)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Delete removes one subscription. Only the owning workspace may
// delete it; a foreign id in the same project is a 403, an unknown id
// a 404.
func (s *Store) Delete(ctx context.Context, projectID, workspaceID, subscriptionID string) error {
	if _, err := uuid.Parse(subscriptionID); err != nil {
		return httperr.Validation("Invalid subscription id")
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var owner string
	err := s.db.DB().QueryRowContext(qctx, `
		SELECT workspace_id FROM server.subscriptions
		WHERE id = $1 AND project_id = $2`,
		subscriptionID, projectID).Scan(&owner)
	if err == sql.ErrNoRows {
		return httperr.NotFound("Subscription not found")
	}
	if err != nil {
		return fmt.Errorf("subscription lookup failed: %w", err)
	}
	if owner != workspaceID {
		return httperr.Forbidden("Subscription belongs to another workspace")
	}

	if _, err := s.db.DB().ExecContext(qctx, `
		DELETE FROM server.subscriptions WHERE id = $1`,
		subscriptionID); err != nil {
		return fmt.Errorf("subscription delete failed: %w", err)
	}
	return nil
}
