// Package status composes the project status snapshot: agents,
// claims, claim conflicts, and pending escalations in one read.
package status

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/presence"
)

const (
	defaultLimit = 200
	maxLimit     = 1000
	// cacheTTL bounds DB churn when SSE-driven dashboards poll status
	// on every frame.
	cacheTTL = 10 * time.Second
)

// AgentStatus is one workspace's live view.
type AgentStatus struct {
	WorkspaceID  string      `json:"workspace_id"`
	Alias        string      `json:"alias"`
	HumanName    *string     `json:"human_name,omitempty"`
	Status       string      `json:"status"`
	Branch       *string     `json:"current_branch,omitempty"`
	Program      *string     `json:"program,omitempty"`
	Model        *string     `json:"model,omitempty"`
	Role         *string     `json:"role,omitempty"`
	LastSeen     *string     `json:"last_seen,omitempty"`
	CurrentIssue *IssueBrief `json:"current_issue,omitempty"`
}

// IssueBrief names the bead a workspace is working on.
type IssueBrief struct {
	BeadID string `json:"bead_id"`
	Title  string `json:"title,omitempty"`
}

// ClaimStatus is one live claim with its contention count.
type ClaimStatus struct {
	BeadID        string  `json:"bead_id"`
	WorkspaceID   string  `json:"workspace_id"`
	Alias         string  `json:"alias"`
	HumanName     *string `json:"human_name,omitempty"`
	ClaimedAt     string  `json:"claimed_at"`
	Title         string  `json:"title,omitempty"`
	ClaimantCount int     `json:"claimant_count"`
}

// ConflictStatus lists every claimant of a multiply-claimed bead.
type ConflictStatus struct {
	BeadID    string        `json:"bead_id"`
	Title     string        `json:"title,omitempty"`
	Claimants []ClaimStatus `json:"claimants"`
}

// Snapshot is the composed status response.
type Snapshot struct {
	ProjectID          string           `json:"project_id"`
	GeneratedAt        string           `json:"generated_at"`
	Agents             []AgentStatus    `json:"agents"`
	Claims             []ClaimStatus    `json:"claims"`
	Conflicts          []ConflictStatus `json:"conflicts"`
	EscalationsPending int              `json:"escalations_pending"`
}

// Params selects the snapshot scope.
type Params struct {
	ProjectID    string
	WorkspaceID  string
	RepoID       string
	Limit        int
	PublicReader bool
}

type cacheEntry struct {
	snapshot *Snapshot
	expires  time.Time
}

// Aggregator builds snapshots with a short per-instance cache.
type Aggregator struct {
	db         *database.Database
	pres       *presence.Store
	instanceID string
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewAggregator creates a status aggregator. A zero ttl falls back to
// the default cache window.
func NewAggregator(db *database.Database, pres *presence.Store, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = cacheTTL
	}
	return &Aggregator{
		db:         db,
		pres:       pres,
		instanceID: uuid.NewString(),
		ttl:        ttl,
		cache:      make(map[string]cacheEntry),
	}
}

// Get composes the snapshot for p. Project-wide reads are served from
// the cache when fresh; scoped reads always hit the database.
// Redaction is applied after caching so public and authenticated
// readers share one cached snapshot.
func (a *Aggregator) Get(ctx context.Context, p Params) (*Snapshot, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		return nil, httperr.Validation("limit must be between 1 and %d", maxLimit)
	}

	cacheable := p.WorkspaceID == "" && p.RepoID == ""
	key := fmt.Sprintf("%s|%s|%d", a.instanceID, p.ProjectID, limit)

	m := metrics.NewMetrics()
	if cacheable {
		a.mu.Lock()
		entry, ok := a.cache[key]
		a.mu.Unlock()
		if ok && time.Now().Before(entry.expires) {
			m.StatusCacheHits.Inc()
			return redact(entry.snapshot, p.PublicReader), nil
		}
		m.StatusCacheMisses.Inc()
	}

	snapshot, err := a.build(ctx, p, limit)
	if err != nil {
		return nil, err
	}

	if cacheable {
		a.mu.Lock()
		a.cache[key] = cacheEntry{snapshot: snapshot, expires: time.Now().Add(a.ttl)}
		a.mu.Unlock()
	}
	return redact(snapshot, p.PublicReader), nil
}

func (a *Aggregator) build(ctx context.Context, p Params, limit int) (*Snapshot, error) {
	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	query := `
		SELECT workspace_id, alias, human_name, role
		FROM server.workspaces
		WHERE project_id = $1 AND deleted_at IS NULL`
	args := []interface{}{p.ProjectID}
	if p.WorkspaceID != "" {
		args = append(args, p.WorkspaceID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if p.RepoID != "" {
		args = append(args, p.RepoID)
		query += fmt.Sprintf(" AND repo_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	rows, err := a.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("status workspace query failed: %w", err)
	}

	type wsRow struct {
		alias     string
		humanName sql.NullString
		role      sql.NullString
	}
	workspaceIDs := []string{}
	wsByID := map[string]wsRow{}
	for rows.Next() {
		var id string
		var w wsRow
		if err := rows.Scan(&id, &w.alias, &w.humanName, &w.role); err != nil {
			rows.Close()
			return nil, fmt.Errorf("status workspace scan failed: %w", err)
		}
		workspaceIDs = append(workspaceIDs, id)
		wsByID[id] = w
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status workspace iteration failed: %w", err)
	}

	claims, err := a.claimsFor(qctx, p.ProjectID, workspaceIDs)
	if err != nil {
		return nil, err
	}

	presenceByID, err := a.pres.ListByWorkspaceIDs(ctx, workspaceIDs)
	if err != nil {
		log.Printf("[Status] presence lookup failed: %v", err)
		presenceByID = map[string]map[string]string{}
	}

	// Claims arrive ordered by claimed_at DESC, so the first claim
	// seen per workspace is its current issue.
	currentIssue := map[string]*IssueBrief{}
	for _, c := range claims {
		if _, ok := currentIssue[c.WorkspaceID]; !ok {
			currentIssue[c.WorkspaceID] = &IssueBrief{BeadID: c.BeadID, Title: c.Title}
		}
	}

	agents := make([]AgentStatus, 0, len(workspaceIDs))
	for _, id := range workspaceIDs {
		w := wsByID[id]
		agent := AgentStatus{
			WorkspaceID:  id,
			Alias:        w.alias,
			Status:       "offline",
			CurrentIssue: currentIssue[id],
		}
		if w.humanName.Valid {
			agent.HumanName = &w.humanName.String
		}
		if w.role.Valid {
			agent.Role = &w.role.String
		}
		if pr, ok := presenceByID[id]; ok && len(pr) > 0 {
			if v := pr["status"]; v != "" {
				agent.Status = v
			} else {
				agent.Status = "active"
			}
			agent.Branch = optString(pr["current_branch"])
			agent.Program = optString(pr["program"])
			agent.Model = optString(pr["model"])
			agent.LastSeen = optString(pr["last_seen"])
			if v := pr["role"]; v != "" {
				agent.Role = &v
			}
		}
		agents = append(agents, agent)
	}

	conflicts := conflictsFrom(claims)

	pendingEscalations := 0
	if err := a.db.DB().QueryRowContext(qctx, `
		SELECT COUNT(*) FROM server.escalations
		WHERE project_id = $1 AND status = 'pending'`,
		p.ProjectID).Scan(&pendingEscalations); err != nil {
		return nil, fmt.Errorf("pending escalation count failed: %w", err)
	}

	return &Snapshot{
		ProjectID:          p.ProjectID,
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339Nano),
		Agents:             agents,
		Claims:             claims,
		Conflicts:          conflicts,
		EscalationsPending: pendingEscalations,
	}, nil
}

func (a *Aggregator) claimsFor(ctx context.Context, projectID string, workspaceIDs []string) ([]ClaimStatus, error) {
	if len(workspaceIDs) == 0 {
		return []ClaimStatus{}, nil
	}

	rows, err := a.db.DB().QueryContext(ctx, `
		SELECT c.bead_id, c.workspace_id, c.alias, c.human_name, c.claimed_at,
			COALESCE(t.title, ''),
			COUNT(*) OVER (PARTITION BY c.bead_id) AS claimant_count
		FROM server.bead_claims c
		LEFT JOIN (
			SELECT DISTINCT ON (project_id, bead_id) project_id, bead_id, title
			FROM beads.issues
			ORDER BY project_id, bead_id, synced_at DESC
		) t ON t.project_id = c.project_id AND t.bead_id = c.bead_id
		WHERE c.project_id = $1 AND c.workspace_id = ANY($2)
		ORDER BY c.claimed_at DESC`,
		projectID, pq.Array(workspaceIDs))
	if err != nil {
		return nil, fmt.Errorf("status claims query failed: %w", err)
	}
	defer rows.Close()

	claims := []ClaimStatus{}
	for rows.Next() {
		var c ClaimStatus
		var humanName string
		var claimedAt time.Time
		if err := rows.Scan(&c.BeadID, &c.WorkspaceID, &c.Alias, &humanName,
			&claimedAt, &c.Title, &c.ClaimantCount); err != nil {
			return nil, fmt.Errorf("status claim scan failed: %w", err)
		}
		if humanName != "" {
			c.HumanName = &humanName
		}
		c.ClaimedAt = claimedAt.Format(time.RFC3339Nano)
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// conflictsFrom groups multiply-claimed beads with all their
// claimants, preserving claim recency order.
func conflictsFrom(claims []ClaimStatus) []ConflictStatus {
	byBead := map[string][]ClaimStatus{}
	order := []string{}
	for _, c := range claims {
		if c.ClaimantCount > 1 {
			if _, seen := byBead[c.BeadID]; !seen {
				order = append(order, c.BeadID)
			}
			byBead[c.BeadID] = append(byBead[c.BeadID], c)
		}
	}
	conflicts := []ConflictStatus{}
	for _, beadID := range order {
		claimants := byBead[beadID]
		conflicts = append(conflicts, ConflictStatus{
			BeadID:    beadID,
			Title:     claimants[0].Title,
			Claimants: claimants,
		})
	}
	return conflicts
}

// redact strips PII and escalation visibility from public readers.
// The input is never mutated: cached snapshots are shared.
func redact(s *Snapshot, publicReader bool) *Snapshot {
	if !publicReader {
		return s
	}
	out := *s
	out.EscalationsPending = 0
	out.Agents = make([]AgentStatus, len(s.Agents))
	for i, agent := range s.Agents {
		agent.HumanName = nil
		agent.Role = nil
		out.Agents[i] = agent
	}
	out.Claims = make([]ClaimStatus, len(s.Claims))
	for i, claim := range s.Claims {
		claim.HumanName = nil
		out.Claims[i] = claim
	}
	out.Conflicts = make([]ConflictStatus, len(s.Conflicts))
	for i, conflict := range s.Conflicts {
		claimants := make([]ClaimStatus, len(conflict.Claimants))
		for j, claimant := range conflict.Claimants {
			claimant.HumanName = nil
			claimants[j] = claimant
		}
		conflict.Claimants = claimants
		out.Conflicts[i] = conflict
	}
	return &out
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
