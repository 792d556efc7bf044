// Package mail delivers direct messages between workspaces. Delivery
// is an SQL insert; the message.delivered event is advisory and never
// fails the send.
package mail

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// Mailer writes inbox rows and announces them on the event bus.
type Mailer struct {
	db  *database.Database
	bus *events.Bus
}

// NewMailer creates a mailer. bus may be nil in tests.
func NewMailer(db *database.Database, bus *events.Bus) *Mailer {
	return &Mailer{db: db, bus: bus}
}

// SendParams describes one message.
type SendParams struct {
	ProjectID            string
	ProjectSlug          string
	SenderWorkspaceID    string
	SenderAlias          string
	RecipientWorkspaceID string
	RecipientAlias       string
	Subject              string
	Body                 string
}

// Send inserts the message and emits message.delivered to the
// recipient's channel. Returns the message id.
func (m *Mailer) Send(ctx context.Context, p SendParams) (int64, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var sender interface{}
	if p.SenderWorkspaceID != "" {
		sender = p.SenderWorkspaceID
	}

	var id int64
	err := m.db.DB().QueryRowContext(qctx, `
		INSERT INTO aweb.messages
			(project_id, sender_workspace_id, sender_alias, recipient_workspace_id, recipient_alias, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.ProjectID, sender, p.SenderAlias, p.RecipientWorkspaceID, p.RecipientAlias,
		p.Subject, p.Body).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("message insert failed: %w", err)
	}

	if m.bus != nil {
		ev := events.NewMessageDelivered(p.RecipientWorkspaceID, p.ProjectSlug)
		ev.MessageID = strconv.FormatInt(id, 10)
		ev.FromWorkspace = p.SenderWorkspaceID
		ev.FromAlias = p.SenderAlias
		ev.ToAlias = p.RecipientAlias
		ev.Subject = p.Subject
		if _, err := m.bus.Publish(ctx, ev); err != nil {
			log.Printf("[Mail] message.delivered publish failed for message %d: %v", id, err)
		}
	}
	return id, nil
}

// Acknowledge marks a message read by its recipient and emits
// message.acknowledged back to the sender's channel.
func (m *Mailer) Acknowledge(ctx context.Context, projectID, projectSlug, recipientWorkspaceID string, messageID int64) error {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	var senderWorkspace, fromAlias, subject string
	err := m.db.DB().QueryRowContext(qctx, `
		UPDATE aweb.messages
		SET acknowledged_at = now()
		WHERE id = $1 AND project_id = $2 AND recipient_workspace_id = $3 AND acknowledged_at IS NULL
		RETURNING COALESCE(sender_workspace_id::text, ''), sender_alias, subject`,
		messageID, projectID, recipientWorkspaceID).Scan(&senderWorkspace, &fromAlias, &subject)
	if err == sql.ErrNoRows {
		return httperr.NotFound("Message not found or already acknowledged")
	}
	if err != nil {
		return fmt.Errorf("message acknowledge failed: %w", err)
	}

	if m.bus != nil && senderWorkspace != "" {
		ev := events.NewMessageAcknowledged(senderWorkspace, projectSlug)
		ev.MessageID = strconv.FormatInt(messageID, 10)
		ev.FromAlias = fromAlias
		ev.Subject = subject
		if _, err := m.bus.Publish(ctx, ev); err != nil {
			log.Printf("[Mail] message.acknowledged publish failed for message %d: %v", messageID, err)
		}
	}
	return nil
}
