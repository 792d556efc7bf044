// Package escalations lets agents hand a decision to a human and
// records the answer. Escalations expire rather than block forever.
package escalations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/pagination"
)

// DefaultExpiryHours is how long an unanswered escalation stays
// pending before readers treat it as expired.
const DefaultExpiryHours = 4

// Store persists escalations and announces their lifecycle.
type Store struct {
	db  *database.Database
	bus *events.Bus
}

// NewStore creates an escalation store. bus may be nil in tests.
func NewStore(db *database.Database, bus *events.Bus) *Store {
	return &Store{db: db, bus: bus}
}

// Escalation is one row in API shape.
type Escalation struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	WorkspaceID  string   `json:"workspace_id"`
	Alias        string   `json:"alias"`
	MemberEmail  *string  `json:"member_email,omitempty"`
	Subject      string   `json:"subject"`
	Situation    string   `json:"situation"`
	Options      []string `json:"options,omitempty"`
	Status       string   `json:"status"`
	Response     *string  `json:"response,omitempty"`
	ResponseNote *string  `json:"response_note,omitempty"`
	CreatedAt    string   `json:"created_at"`
	RespondedAt  *string  `json:"responded_at,omitempty"`
	ExpiresAt    string   `json:"expires_at"`
}

// CreateParams describes one escalation request.
type CreateParams struct {
	ProjectID      string
	ProjectSlug    string
	WorkspaceID    string
	Alias          string
	MemberEmail    string
	Subject        string
	Situation      string
	Options        []string
	ExpiresInHours int
}

// Create inserts a pending escalation and emits escalation.created to
// the raising workspace's channel.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Escalation, error) {
	if p.Subject == "" {
		return nil, httperr.Validation("Subject is required")
	}
	if p.Situation == "" {
		return nil, httperr.Validation("Situation is required")
	}
	if p.ExpiresInHours <= 0 {
		p.ExpiresInHours = DefaultExpiryHours
	}

	var options interface{}
	if len(p.Options) > 0 {
		data, err := json.Marshal(p.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode options: %w", err)
		}
		options = data
	}
	var memberEmail interface{}
	if p.MemberEmail != "" {
		memberEmail = p.MemberEmail
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	id := uuid.NewString()
	var createdAt, expiresAt time.Time
	err := s.db.DB().QueryRowContext(qctx, `
		INSERT INTO server.escalations
			(id, project_id, workspace_id, alias, member_email, subject, situation, options, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', now() + make_interval(hours => $9))
		RETURNING created_at, expires_at`,
		id, p.ProjectID, p.WorkspaceID, p.Alias, memberEmail,
		p.Subject, p.Situation, options, p.ExpiresInHours).Scan(&createdAt, &expiresAt)
	if err != nil {
		return nil, fmt.Errorf("escalation insert failed: %w", err)
	}

	if s.bus != nil {
		ev := events.NewEscalationCreated(p.WorkspaceID, p.ProjectSlug)
		ev.EscalationID = id
		ev.Alias = p.Alias
		ev.Subject = p.Subject
		if _, err := s.bus.Publish(ctx, ev); err != nil {
			log.Printf("[Escalations] escalation.created publish failed for %s: %v", id, err)
		}
	}

	esc := &Escalation{
		ID:          id,
		ProjectID:   p.ProjectID,
		WorkspaceID: p.WorkspaceID,
		Alias:       p.Alias,
		Subject:     p.Subject,
		Situation:   p.Situation,
		Options:     p.Options,
		Status:      "pending",
		CreatedAt:   createdAt.Format(time.RFC3339Nano),
		ExpiresAt:   expiresAt.Format(time.RFC3339Nano),
	}
	if p.MemberEmail != "" {
		esc.MemberEmail = &p.MemberEmail
	}
	return esc, nil
}

// List returns a project's escalations newest first, optionally
// filtered by status. Pending rows past their expiry read as expired.
// ListResult is one page of escalations, newest first.
type ListResult struct {
	Escalations []Escalation
	HasMore     bool
	NextCursor  *string
}

func (s *Store) List(ctx context.Context, projectID, statusFilter string, limit int, cursor string) (*ListResult, error) {
	if statusFilter != "" && statusFilter != "pending" && statusFilter != "responded" && statusFilter != "expired" {
		return nil, httperr.Validation("Invalid status filter: %s", statusFilter)
	}
	validatedLimit, cursorData, err := pagination.ValidateParams(limit, cursor, 200)
	if err != nil {
		return nil, httperr.Validation("%s", err.Error())
	}

	query := `
		SELECT id, workspace_id, alias, member_email, subject, situation, options,
			CASE WHEN status = 'pending' AND expires_at < now() THEN 'expired' ELSE status END,
			response, response_note, created_at, responded_at, expires_at
		FROM server.escalations
		WHERE project_id = $1`
	args := []interface{}{projectID}
	if statusFilter != "" {
		args = append(args, statusFilter)
		query += fmt.Sprintf(` AND CASE WHEN status = 'pending' AND expires_at < now() THEN 'expired' ELSE status END = $%d`, len(args))
	}
	if cursorData != nil {
		if err := pagination.RequireFields(cursorData, "created_at"); err != nil {
			return nil, httperr.Validation("%s", err.Error())
		}
		raw, _ := cursorData["created_at"].(string)
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, httperr.Validation("invalid cursor: bad created_at timestamp")
		}
		args = append(args, ts)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, validatedLimit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := s.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escalation list failed: %w", err)
	}
	defer rows.Close()

	escalations := []Escalation{}
	for rows.Next() {
		esc, err := scanEscalation(rows, projectID)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, *esc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(escalations) > validatedLimit
	if hasMore {
		escalations = escalations[:validatedLimit]
	}
	result := &ListResult{Escalations: escalations, HasMore: hasMore}
	if hasMore && len(escalations) > 0 {
		cur := pagination.EncodeCursor(map[string]any{
			"created_at": escalations[len(escalations)-1].CreatedAt,
		})
		result.NextCursor = &cur
	}
	return result, nil
}

// Respond records a human answer on a pending escalation and emits
// escalation.responded back to the raising workspace.
func (s *Store) Respond(ctx context.Context, projectID, projectSlug, escalationID, response, responseNote string) (*Escalation, error) {
	if _, err := uuid.Parse(escalationID); err != nil {
		return nil, httperr.Validation("Invalid escalation id")
	}
	if response == "" {
		return nil, httperr.Validation("Response is required")
	}
	var note interface{}
	if responseNote != "" {
		note = responseNote
	}

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var workspaceID string
	err := s.db.DB().QueryRowContext(qctx, `
		UPDATE server.escalations
		SET status = 'responded', response = $3, response_note = $4, responded_at = now()
		WHERE id = $1 AND project_id = $2 AND status = 'pending' AND expires_at >= now()
		RETURNING workspace_id`,
		escalationID, projectID, response, note).Scan(&workspaceID)
	if err == sql.ErrNoRows {
		return nil, s.respondFailure(qctx, projectID, escalationID)
	}
	if err != nil {
		return nil, fmt.Errorf("escalation respond failed: %w", err)
	}

	if s.bus != nil {
		ev := events.NewEscalationResponded(workspaceID, projectSlug)
		ev.EscalationID = escalationID
		ev.Response = response
		if _, err := s.bus.Publish(ctx, ev); err != nil {
			log.Printf("[Escalations] escalation.responded publish failed for %s: %v", escalationID, err)
		}
	}
	return s.get(qctx, projectID, escalationID)
}

// respondFailure distinguishes why the guarded update matched nothing.
func (s *Store) respondFailure(ctx context.Context, projectID, escalationID string) error {
	var status string
	var expiresAt time.Time
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT status, expires_at FROM server.escalations
		WHERE id = $1 AND project_id = $2`,
		escalationID, projectID).Scan(&status, &expiresAt)
	if err == sql.ErrNoRows {
		return httperr.NotFound("Escalation not found")
	}
	if err != nil {
		return fmt.Errorf("escalation lookup failed: %w", err)
	}
	if status == "pending" && expiresAt.Before(time.Now()) {
		return httperr.Conflict("Escalation has expired")
	}
	return httperr.Conflict("Escalation was already responded to")
}

// Get fetches one escalation scoped to the project.
func (s *Store) Get(ctx context.Context, projectID, escalationID string) (*Escalation, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()
	return s.get(qctx, projectID, escalationID)
}

func (s *Store) get(ctx context.Context, projectID, escalationID string) (*Escalation, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, workspace_id, alias, member_email, subject, situation, options,
			CASE WHEN status = 'pending' AND expires_at < now() THEN 'expired' ELSE status END,
			response, response_note, created_at, responded_at, expires_at
		FROM server.escalations
		WHERE id = $1 AND project_id = $2`,
		escalationID, projectID)
	if err != nil {
		return nil, fmt.Errorf("escalation lookup failed: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, httperr.NotFound("Escalation not found")
	}
	return scanEscalation(rows, projectID)
}

func scanEscalation(rows *sql.Rows, projectID string) (*Escalation, error) {
	esc := Escalation{ProjectID: projectID}
	var memberEmail, response, responseNote sql.NullString
	var options []byte
	var createdAt, expiresAt time.Time
	var respondedAt sql.NullTime
	if err := rows.Scan(&esc.ID, &esc.WorkspaceID, &esc.Alias, &memberEmail,
		&esc.Subject, &esc.Situation, &options, &esc.Status,
		&response, &responseNote, &createdAt, &respondedAt, &expiresAt); err != nil {
		return nil, fmt.Errorf("escalation scan failed: %w", err)
	}
	if memberEmail.Valid {
		esc.MemberEmail = &memberEmail.String
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &esc.Options); err != nil {
			return nil, fmt.Errorf("options decode failed for %s: %w", esc.ID, err)
		}
	}
	if response.Valid {
		esc.Response = &response.String
	}
	if responseNote.Valid {
		esc.ResponseNote = &responseNote.String
	}
	esc.CreatedAt = createdAt.Format(time.RFC3339Nano)
	if respondedAt.Valid {
		s := respondedAt.Time.Format(time.RFC3339Nano)
		esc.RespondedAt = &s
	}
	esc.ExpiresAt = expiresAt.Format(time.RFC3339Nano)
	return &esc, nil
}
