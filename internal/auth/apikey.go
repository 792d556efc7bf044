package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// KeyPrefix is the fixed prefix of every bearer API key.
const KeyPrefix = "aw_sk_"

// prefixLen is how many characters of the full token are stored in
// clear for candidate lookup.
const prefixLen = 14

// GenerateAPIKey mints a new bearer token and its storable parts.
// The token is returned exactly once; only prefix and bcrypt hash are
// persisted.
func GenerateAPIKey() (token, prefix, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	token = KeyPrefix + hex.EncodeToString(raw)
	prefix = token[:prefixLen]

	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash key: %w", err)
	}
	return token, prefix, string(hashed), nil
}

// InsertAPIKey persists a freshly generated key within tx.
func InsertAPIKey(ctx context.Context, tx *sql.Tx, projectID, agentID, prefix, hash string) (string, error) {
	keyID := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO aweb.api_keys (key_id, project_id, agent_id, key_prefix, key_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, true)`,
		keyID, projectID, agentID, prefix, hash)
	if err != nil {
		return "", fmt.Errorf("failed to insert api key: %w", err)
	}
	return keyID, nil
}

// VerifyBearer resolves a bearer token to an identity. The prefix
// locates candidate rows; the full token is checked against each hash.
// Agent and project must both be live and the agent not deregistered.
func VerifyBearer(ctx context.Context, db *database.Database, token string) (*Identity, error) {
	if !strings.HasPrefix(token, KeyPrefix) || len(token) < prefixLen {
		return nil, httperr.Unauthorized()
	}

	ctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := db.DB().QueryContext(ctx, `
		SELECT k.key_id, k.key_hash, k.project_id, COALESCE(k.agent_id::text, '')
		FROM aweb.api_keys k
		WHERE k.key_prefix = $1 AND k.is_active`,
		token[:prefixLen])
	if err != nil {
		return nil, fmt.Errorf("api key lookup failed: %w", err)
	}
	defer rows.Close()

	var keyID, projectID, agentID string
	found := false
	for rows.Next() {
		var candidateID, hash, candidateProject, candidateAgent string
		if err := rows.Scan(&candidateID, &hash, &candidateProject, &candidateAgent); err != nil {
			return nil, fmt.Errorf("api key scan failed: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			keyID, projectID, agentID = candidateID, candidateProject, candidateAgent
			found = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("api key lookup failed: %w", err)
	}
	if !found {
		return nil, httperr.Unauthorized()
	}

	// The key is only as alive as its project and agent.
	var projectLive bool
	err = db.DB().QueryRowContext(ctx, `
		SELECT deleted_at IS NULL FROM aweb.projects WHERE project_id = $1`,
		projectID).Scan(&projectLive)
	if err == sql.ErrNoRows || (err == nil && !projectLive) {
		return nil, httperr.Unauthorized()
	}
	if err != nil {
		return nil, fmt.Errorf("project lookup failed: %w", err)
	}

	if agentID != "" {
		var status string
		err = db.DB().QueryRowContext(ctx, `
			SELECT status FROM aweb.agents
			WHERE agent_id = $1 AND deleted_at IS NULL`,
			agentID).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, httperr.Unauthorized()
		}
		if err != nil {
			return nil, fmt.Errorf("agent lookup failed: %w", err)
		}
		if status == "deregistered" {
			return nil, httperr.Unauthorized()
		}
	}

	// Best-effort usage timestamp; failures are invisible to callers.
	_, _ = db.DB().ExecContext(ctx,
		`UPDATE aweb.api_keys SET last_used_at = $1 WHERE key_id = $2`,
		time.Now().UTC(), keyID)

	return &Identity{
		ProjectID: projectID,
		AgentID:   agentID,
		APIKeyID:  keyID,
		AuthMode:  ModeBearer,
	}, nil
}
