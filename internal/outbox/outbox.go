// Package outbox implements the transactional notification outbox.
// Intents are written in the same transaction as the issue rows that
// caused them, then drained by a per-project worker after commit.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/jordanhubbard/beadhub/internal/beads"
	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/mail"
	"github.com/jordanhubbard/beadhub/internal/metrics"
)

// DefaultMaxAttempts is how many delivery failures an intent survives
// before the drain loop stops picking it up.
const DefaultMaxAttempts = 5

// Outbox records and drains notification intents.
type Outbox struct {
	db          *database.Database
	mailer      *mail.Mailer
	maxAttempts int
}

// New creates an outbox. maxAttempts <= 0 selects the default.
func New(db *database.Database, mailer *mail.Mailer, maxAttempts int) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Outbox{db: db, mailer: mailer, maxAttempts: maxAttempts}
}

// RecordIntentsTx inserts one intent per (subscriber, status change)
// inside the caller's transaction. Subscribers match on bead_id with
// event_type status_change or all, optionally narrowed to one repo.
func (o *Outbox) RecordIntentsTx(ctx context.Context, tx *sql.Tx, projectID string, changes []beads.StatusChange) error {
	for _, change := range changes {
		rows, err := tx.QueryContext(ctx, `
			SELECT workspace_id, alias FROM server.subscriptions
			WHERE project_id = $1 AND bead_id = $2
			AND (repo IS NULL OR repo = $3)
			AND event_types && $4`,
			projectID, change.BeadID, change.Repo,
			pq.Array([]string{"status_change", "all"}))
		if err != nil {
			return fmt.Errorf("subscriber lookup failed for %s: %w", change.BeadID, err)
		}

		type subscriber struct{ workspaceID, alias string }
		var subs []subscriber
		for rows.Next() {
			var s subscriber
			if err := rows.Scan(&s.workspaceID, &s.alias); err != nil {
				rows.Close()
				return fmt.Errorf("subscriber scan failed: %w", err)
			}
			subs = append(subs, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("subscriber iteration failed: %w", err)
		}

		for _, s := range subs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO server.notifications_outbox
					(project_id, recipient_workspace_id, recipient_alias, bead_id, old_status, new_status, title)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				projectID, s.workspaceID, s.alias, change.BeadID,
				nullableStatus(change.OldStatus), change.NewStatus, change.Title); err != nil {
				return fmt.Errorf("intent insert failed for %s: %w", change.BeadID, err)
			}
		}
	}
	return nil
}

// intent is one claimed outbox row.
type intent struct {
	id                 int64
	recipientWorkspace string
	recipientAlias     string
	beadID             string
	oldStatus          sql.NullString
	newStatus          string
	title              string
	syncedAt           string
}

// Process drains unprocessed intents for one project. Rows are
// claimed with FOR UPDATE SKIP LOCKED so concurrent drains never
// double-send. Returns (sent, failed).
func (o *Outbox) Process(ctx context.Context, projectID, projectSlug, senderWorkspaceID, senderAlias string) (int, int, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	tx, err := o.db.DB().BeginTx(qctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin outbox drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(qctx, `
		SELECT id, recipient_workspace_id, recipient_alias, bead_id, old_status, new_status, title,
			to_char(synced_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM server.notifications_outbox
		WHERE project_id = $1 AND processed_at IS NULL AND attempts < $2
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED`,
		projectID, o.maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("outbox claim failed: %w", err)
	}

	var intents []intent
	for rows.Next() {
		var it intent
		if err := rows.Scan(&it.id, &it.recipientWorkspace, &it.recipientAlias, &it.beadID,
			&it.oldStatus, &it.newStatus, &it.title, &it.syncedAt); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("outbox scan failed: %w", err)
		}
		intents = append(intents, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("outbox iteration failed: %w", err)
	}

	sent, failed := 0, 0
	for _, it := range intents {
		old := "(new)"
		if it.oldStatus.Valid {
			old = it.oldStatus.String
		}
		body := fmt.Sprintf("Bead %s changed status: %s -> %s\nTitle: %s\nSynced: %s",
			it.beadID, old, it.newStatus, it.title, it.syncedAt)

		_, sendErr := o.mailer.Send(ctx, mail.SendParams{
			ProjectID:            projectID,
			ProjectSlug:          projectSlug,
			SenderWorkspaceID:    senderWorkspaceID,
			SenderAlias:          senderAlias,
			RecipientWorkspaceID: it.recipientWorkspace,
			RecipientAlias:       it.recipientAlias,
			Subject:              fmt.Sprintf("Bead status changed: %s", it.beadID),
			Body:                 body,
		})
		if sendErr != nil {
			failed++
			if _, err := tx.ExecContext(qctx, `
				UPDATE server.notifications_outbox
				SET attempts = attempts + 1, last_error = $2
				WHERE id = $1`,
				it.id, sendErr.Error()); err != nil {
				return sent, failed, fmt.Errorf("failure bookkeeping failed for intent %d: %w", it.id, err)
			}
			log.Printf("[Outbox] delivery failed for intent %d (bead %s): %v", it.id, it.beadID, sendErr)
			continue
		}

		sent++
		if _, err := tx.ExecContext(qctx, `
			UPDATE server.notifications_outbox
			SET processed_at = now(), attempts = attempts + 1
			WHERE id = $1`,
			it.id); err != nil {
			return sent, failed, fmt.Errorf("success bookkeeping failed for intent %d: %w", it.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sent, failed, fmt.Errorf("failed to commit outbox drain: %w", err)
	}

	m := metrics.NewMetrics()
	m.OutboxProcessed.WithLabelValues("sent").Add(float64(sent))
	m.OutboxProcessed.WithLabelValues("failed").Add(float64(failed))
	return sent, failed, nil
}

// Pending counts undelivered intents for a project, for the status
// endpoint and the pending gauge.
func (o *Outbox) Pending(ctx context.Context, projectID string) (int, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()
	var n int
	err := o.db.DB().QueryRowContext(qctx, `
		SELECT COUNT(*) FROM server.notifications_outbox
		WHERE project_id = $1 AND processed_at IS NULL AND attempts < $2`,
		projectID, o.maxAttempts).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count failed: %w", err)
	}
	metrics.NewMetrics().OutboxPending.Set(float64(n))
	return n, nil
}

func nullableStatus(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
