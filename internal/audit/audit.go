// Package audit records a best-effort trail of notable operations.
// Audit writes never fail the request that caused them.
package audit

import (
	"context"
	"encoding/json"
	"log"

	"github.com/jordanhubbard/beadhub/internal/database"
)

// Trail appends to server.audit_log.
type Trail struct {
	db *database.Database
}

// NewTrail creates an audit trail.
func NewTrail(db *database.Database) *Trail {
	return &Trail{db: db}
}

// Record inserts one audit row. workspaceID may be empty for
// project-level events. Failures are logged and swallowed.
func (t *Trail) Record(ctx context.Context, projectID, workspaceID, eventType string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		log.Printf("[Audit] encode %s failed: %v", eventType, err)
		return
	}

	var ws interface{}
	if workspaceID != "" {
		ws = workspaceID
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()
	if _, err := t.db.DB().ExecContext(qctx, `
		INSERT INTO server.audit_log (project_id, workspace_id, event_type, details)
		VALUES ($1, $2, $3, $4)`,
		projectID, ws, eventType, payload); err != nil {
		log.Printf("[Audit] insert %s failed: %v", eventType, err)
	}
}
