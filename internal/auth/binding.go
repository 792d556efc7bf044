package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

// EnforceActorBinding requires that a bearer-mode identity only
// mutates its own workspace. In proxy mode the wrapper has already
// bound the actor, so the check is delegated.
func EnforceActorBinding(id *Identity, workspaceID string) error {
	if id.AuthMode != ModeBearer {
		return nil
	}
	if id.AgentID == "" || id.AgentID != workspaceID {
		return httperr.Forbidden("workspace_id does not match API key identity")
	}
	return nil
}

// VerifyWorkspaceAccess validates a workspace reference against the
// caller's scope. Check order: 422 malformed, 404 unknown, 410
// soft-deleted, 403 cross-project, then actor binding.
func VerifyWorkspaceAccess(ctx context.Context, db *database.Database, id *Identity, workspaceID string) (string, error) {
	wsID, err := validate.WorkspaceID(workspaceID)
	if err != nil {
		return "", httperr.Validation("%s", err.Error())
	}

	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var projectID string
	var deleted sql.NullTime
	err = db.DB().QueryRowContext(ctx, `
		SELECT project_id, deleted_at FROM server.workspaces WHERE workspace_id = $1`,
		wsID).Scan(&projectID, &deleted)
	if err == sql.ErrNoRows {
		return "", httperr.NotFound("Workspace not found")
	}
	if err != nil {
		return "", fmt.Errorf("workspace lookup failed: %w", err)
	}
	if deleted.Valid {
		return "", httperr.Gone("Workspace has been deleted")
	}
	if projectID != id.ProjectID {
		return "", httperr.Forbidden("Workspace not found or does not belong to your project")
	}
	if err := EnforceActorBinding(id, wsID); err != nil {
		return "", err
	}
	return wsID, nil
}
