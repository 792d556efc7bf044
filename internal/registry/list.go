package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/pagination"
	"github.com/jordanhubbard/beadhub/internal/presence"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

const (
	teamDefaultLimit         = 15
	teamMaxLimit             = 200
	teamCandidateMultiplier  = 5
	teamCandidateMax         = 500
	workspaceListMaxLimit    = 200
)

// Claim is one active bead claim attached to a workspace view. The
// apex is stored on the claim row at write time to avoid recursive
// read-time walks.
type Claim struct {
	BeadID    string  `json:"bead_id"`
	Title     *string `json:"title"`
	ClaimedAt string  `json:"claimed_at"`
	ApexID    *string `json:"apex_id"`
	ApexTitle *string `json:"apex_title"`
	ApexType  *string `json:"apex_type"`
}

// WorkspaceInfo is the enriched workspace view returned by the list
// endpoints: SQL row plus optional presence and claim data.
type WorkspaceInfo struct {
	WorkspaceID       string  `json:"workspace_id"`
	Alias             string  `json:"alias"`
	HumanName         *string `json:"human_name"`
	ProjectID         *string `json:"project_id"`
	ProjectSlug       *string `json:"project_slug"`
	Program           *string `json:"program"`
	Model             *string `json:"model"`
	Repo              *string `json:"repo"`
	Branch            *string `json:"branch"`
	MemberEmail       *string `json:"member_email"`
	Role              *string `json:"role"`
	Hostname          *string `json:"hostname"`
	WorkspacePath     *string `json:"workspace_path"`
	ApexID            *string `json:"apex_id"`
	ApexTitle         *string `json:"apex_title"`
	ApexType          *string `json:"apex_type"`
	FocusApexID       *string `json:"focus_apex_id"`
	FocusApexTitle    *string `json:"focus_apex_title"`
	FocusApexType     *string `json:"focus_apex_type"`
	FocusApexRepoName *string `json:"focus_apex_repo_name"`
	FocusApexBranch   *string `json:"focus_apex_branch"`
	FocusUpdatedAt    *string `json:"focus_updated_at"`
	Status            string  `json:"status"`
	LastSeen          *string `json:"last_seen"`
	DeletedAt         *string `json:"deleted_at,omitempty"`
	Claims            []Claim `json:"claims"`
}

// ListResult is a paginated workspace listing.
type ListResult struct {
	Workspaces []WorkspaceInfo `json:"workspaces"`
	HasMore    bool            `json:"has_more"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

// ListParams filters a workspace listing.
type ListParams struct {
	ProjectID       string
	HumanName       string
	Repo            string
	Alias           string
	Hostname        string
	IncludeDeleted  bool
	IncludeClaims   bool
	IncludePresence bool
	Limit           int
	Cursor          string
	PublicReader    bool
}

const workspaceSelectColumns = `
	w.workspace_id, w.alias, w.human_name, w.current_branch, w.project_id,
	w.role, w.hostname, w.workspace_path, w.last_seen_at, w.updated_at, w.deleted_at,
	w.focus_apex_bead_id, w.focus_apex_repo_name, w.focus_apex_branch, w.focus_updated_at,
	focus_issue.title AS focus_apex_title,
	focus_issue.issue_type AS focus_apex_type,
	p.slug AS project_slug,
	r.canonical_origin AS repo`

const focusIssueLateral = `
	LEFT JOIN LATERAL (
		SELECT title, issue_type
		FROM beads.issues
		WHERE w.focus_apex_bead_id IS NOT NULL
		  AND project_id = w.project_id
		  AND bead_id = w.focus_apex_bead_id
		  AND repo = w.focus_apex_repo_name
		  AND branch = w.focus_apex_branch
		ORDER BY synced_at DESC
		LIMIT 1
	) focus_issue ON true`

type workspaceRow struct {
	workspaceID       string
	alias             string
	humanName         sql.NullString
	currentBranch     sql.NullString
	projectID         string
	role              sql.NullString
	hostname          sql.NullString
	workspacePath     sql.NullString
	lastSeenAt        sql.NullTime
	updatedAt         sql.NullTime
	deletedAt         sql.NullTime
	focusApexBeadID   sql.NullString
	focusApexRepoName sql.NullString
	focusApexBranch   sql.NullString
	focusUpdatedAt    sql.NullTime
	focusApexTitle    sql.NullString
	focusApexType     sql.NullString
	projectSlug       sql.NullString
	repo              sql.NullString
	claimCount        int
	lastClaimedAt     sql.NullTime
}

func scanWorkspaceRow(rows *sql.Rows, withClaimStats bool) (*workspaceRow, error) {
	var w workspaceRow
	dest := []interface{}{
		&w.workspaceID, &w.alias, &w.humanName, &w.currentBranch, &w.projectID,
		&w.role, &w.hostname, &w.workspacePath, &w.lastSeenAt, &w.updatedAt, &w.deletedAt,
		&w.focusApexBeadID, &w.focusApexRepoName, &w.focusApexBranch, &w.focusUpdatedAt,
		&w.focusApexTitle, &w.focusApexType, &w.projectSlug, &w.repo,
	}
	if withClaimStats {
		dest = append(dest, &w.claimCount, &w.lastClaimedAt)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return &w, nil
}

// List returns workspaces ordered by most recently updated with
// cursor pagination. Deleted workspaces are excluded unless asked for.
func (r *Registry) List(ctx context.Context, p ListParams) (*ListResult, error) {
	limit, cursorData, err := pagination.ValidateParams(p.Limit, p.Cursor, workspaceListMaxLimit)
	if err != nil {
		return nil, httperr.Validation("%s", err.Error())
	}

	query := `
		SELECT` + workspaceSelectColumns + `
		FROM server.workspaces w
		JOIN aweb.projects p ON w.project_id = p.project_id AND p.deleted_at IS NULL
		LEFT JOIN server.repos r ON w.repo_id = r.repo_id AND r.deleted_at IS NULL` +
		focusIssueLateral + `
		WHERE w.project_id = $1`
	args := []interface{}{p.ProjectID}

	addFilter := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if p.HumanName != "" {
		addFilter(" AND w.human_name = $%d", p.HumanName)
	}
	if p.Repo != "" {
		if _, err := validate.CanonicalOrigin(p.Repo); err != nil {
			return nil, httperr.Validation("Invalid repo format: %s", truncate(p.Repo, 50))
		}
		addFilter(" AND r.canonical_origin = $%d", p.Repo)
	}
	if p.Alias != "" {
		if !validate.Alias(p.Alias) {
			return nil, httperr.Validation("%s", validate.AliasErrMessage)
		}
		addFilter(" AND w.alias = $%d", p.Alias)
	}
	if p.Hostname != "" {
		if strings.ContainsAny(p.Hostname, "\x00") || hasControlChars(p.Hostname) {
			return nil, httperr.Validation("Invalid hostname: contains null bytes or control characters")
		}
		addFilter(" AND w.hostname = $%d", p.Hostname)
	}
	if !p.IncludeDeleted {
		query += " AND w.deleted_at IS NULL"
	}
	if cursorData != nil {
		if err := pagination.RequireFields(cursorData, "updated_at"); err != nil {
			return nil, httperr.Validation("%s", err.Error())
		}
		raw, _ := cursorData["updated_at"].(string)
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, httperr.Validation("invalid cursor: bad updated_at timestamp")
		}
		addFilter(" AND w.updated_at < $%d", ts)
	}

	query += " ORDER BY w.updated_at DESC"
	addFilter(" LIMIT $%d", limit+1)

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workspace list query failed: %w", err)
	}
	defer rows.Close()

	var fetched []*workspaceRow
	for rows.Next() {
		w, err := scanWorkspaceRow(rows, false)
		if err != nil {
			return nil, fmt.Errorf("workspace scan failed: %w", err)
		}
		fetched = append(fetched, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workspace list iteration failed: %w", err)
	}

	hasMore := len(fetched) > limit
	if hasMore {
		fetched = fetched[:limit]
	}

	infos, err := r.enrich(ctx, fetched, p.ProjectID, p.IncludePresence, p.IncludeClaims, p.PublicReader)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Workspaces: infos, HasMore: hasMore}
	if hasMore && len(fetched) > 0 {
		last := fetched[len(fetched)-1]
		cursor := pagination.EncodeCursor(map[string]any{
			"updated_at": last.updatedAt.Time.Format(time.RFC3339Nano),
		})
		result.NextCursor = &cursor
	}
	return result, nil
}

// TeamParams filters the bounded team-status view.
type TeamParams struct {
	ProjectID          string
	HumanName          string
	Repo               string
	IncludeClaims      bool
	IncludePresence    bool
	OnlyWithClaims     bool
	AlwaysIncludeID    string
	Limit              int
	PublicReader       bool
}

// Team returns a bounded, prioritized team-status view: workspaces
// with claims first, then online ones, then by recency. No cursor;
// the complex sort does not paginate.
func (r *Registry) Team(ctx context.Context, p TeamParams) (*ListResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = teamDefaultLimit
	}
	if limit > teamMaxLimit {
		limit = teamMaxLimit
	}

	candidateLimit := limit
	if p.IncludePresence {
		candidateLimit = limit * teamCandidateMultiplier
		if candidateLimit > teamCandidateMax {
			candidateLimit = teamCandidateMax
		}
	}

	query := `
		WITH claim_stats AS (
			SELECT workspace_id, COUNT(*) AS claim_count, MAX(claimed_at) AS last_claimed_at
			FROM server.bead_claims
			WHERE project_id = $1
			GROUP BY workspace_id
		)
		SELECT` + workspaceSelectColumns + `,
			COALESCE(cs.claim_count, 0) AS claim_count,
			cs.last_claimed_at
		FROM server.workspaces w
		JOIN aweb.projects p ON w.project_id = p.project_id
		LEFT JOIN server.repos r ON w.repo_id = r.repo_id
		LEFT JOIN claim_stats cs ON cs.workspace_id = w.workspace_id` +
		focusIssueLateral + `
		WHERE w.project_id = $1`
	args := []interface{}{p.ProjectID}

	addFilter := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if p.HumanName != "" {
		addFilter(" AND w.human_name = $%d", p.HumanName)
	}
	if p.Repo != "" {
		if _, err := validate.CanonicalOrigin(p.Repo); err != nil {
			return nil, httperr.Validation("Invalid repo format: %s", truncate(p.Repo, 50))
		}
		addFilter(" AND r.canonical_origin = $%d", p.Repo)
	}
	query += " AND w.deleted_at IS NULL"
	if p.OnlyWithClaims {
		query += " AND COALESCE(cs.claim_count, 0) > 0"
	}
	query += `
		ORDER BY
			(COALESCE(cs.claim_count, 0) > 0) DESC,
			w.last_seen_at DESC NULLS LAST,
			cs.last_claimed_at DESC NULLS LAST,
			w.alias ASC`
	addFilter(" LIMIT $%d", candidateLimit)

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("team list query failed: %w", err)
	}
	defer rows.Close()

	var fetched []*workspaceRow
	seen := make(map[string]bool)
	for rows.Next() {
		w, err := scanWorkspaceRow(rows, true)
		if err != nil {
			return nil, fmt.Errorf("team row scan failed: %w", err)
		}
		fetched = append(fetched, w)
		seen[w.workspaceID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("team list iteration failed: %w", err)
	}

	// A caller viewing itself expects its row even when filtered out.
	if p.AlwaysIncludeID != "" && !seen[p.AlwaysIncludeID] {
		wsID, err := validate.WorkspaceID(p.AlwaysIncludeID)
		if err != nil {
			return nil, httperr.Validation("%s", err.Error())
		}
		extra, err := r.fetchTeamRow(ctx, p, wsID)
		if err != nil {
			return nil, err
		}
		if extra != nil {
			fetched = append(fetched, extra)
		}
	}

	infos, err := r.enrichTeam(ctx, fetched, p, limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{Workspaces: infos, HasMore: false}, nil
}

func (r *Registry) fetchTeamRow(ctx context.Context, p TeamParams, workspaceID string) (*workspaceRow, error) {
	query := `
		SELECT` + workspaceSelectColumns + `,
			COALESCE(cs.claim_count, 0) AS claim_count,
			cs.last_claimed_at
		FROM server.workspaces w
		JOIN aweb.projects p ON w.project_id = p.project_id AND p.deleted_at IS NULL
		LEFT JOIN server.repos r ON w.repo_id = r.repo_id AND r.deleted_at IS NULL
		LEFT JOIN (
			SELECT workspace_id, COUNT(*) AS claim_count, MAX(claimed_at) AS last_claimed_at
			FROM server.bead_claims
			GROUP BY workspace_id
		) cs ON cs.workspace_id = w.workspace_id` +
		focusIssueLateral + `
		WHERE w.workspace_id = $1 AND w.project_id = $2`
	args := []interface{}{workspaceID, p.ProjectID}

	if p.HumanName != "" {
		args = append(args, p.HumanName)
		query += fmt.Sprintf(" AND w.human_name = $%d", len(args))
	}
	if p.Repo != "" {
		args = append(args, p.Repo)
		query += fmt.Sprintf(" AND r.canonical_origin = $%d", len(args))
	}
	query += " AND w.deleted_at IS NULL"

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("team row query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanWorkspaceRow(rows, true)
}

// Online lists workspaces with live Redis presence for the project.
// Presence-only: a workspace missing here may still exist in SQL.
func (r *Registry) Online(ctx context.Context, projectID, humanName string, publicReader bool) (*ListResult, error) {
	presences, err := r.pres.ListByIndex(ctx, presence.ProjectKey(projectID))
	if err != nil {
		return nil, err
	}

	workspaces := make([]WorkspaceInfo, 0, len(presences))
	for _, pr := range presences {
		workspaceID := pr["workspace_id"]
		alias := pr["alias"]
		if workspaceID == "" || alias == "" {
			continue
		}
		if pr["project_id"] != projectID {
			continue
		}
		if humanName != "" && pr["human_name"] != humanName {
			continue
		}

		status := pr["status"]
		if status == "" {
			status = "unknown"
		}
		info := WorkspaceInfo{
			WorkspaceID: workspaceID,
			Alias:       alias,
			ProjectSlug: optString(pr["project_slug"]),
			Program:     optString(pr["program"]),
			Model:       optString(pr["model"]),
			Branch:      optString(pr["current_branch"]),
			Status:      status,
			LastSeen:    optString(pr["last_seen"]),
			Claims:      []Claim{},
		}
		if !publicReader {
			info.HumanName = optString(pr["human_name"])
			info.MemberEmail = optString(pr["member_email"])
			info.Role = optString(pr["role"])
		}
		workspaces = append(workspaces, info)
	}

	sort.Slice(workspaces, func(i, j int) bool {
		return deref(workspaces[i].LastSeen) > deref(workspaces[j].LastSeen)
	})

	return &ListResult{Workspaces: workspaces, HasMore: false}, nil
}

// enrich joins presence and claim data onto fetched rows and applies
// public-reader redaction.
func (r *Registry) enrich(ctx context.Context, rows []*workspaceRow, projectID string, includePresence, includeClaims, publicReader bool) ([]WorkspaceInfo, error) {
	ids := make([]string, len(rows))
	for i, w := range rows {
		ids[i] = w.workspaceID
	}

	presenceMap := map[string]map[string]string{}
	if includePresence && len(ids) > 0 {
		pm, err := r.pres.ListByWorkspaceIDs(ctx, ids)
		if err != nil {
			log.Printf("[Registry] presence enrichment failed: %v", err)
		} else {
			presenceMap = pm
		}
	}

	claimsMap := map[string][]Claim{}
	if includeClaims && len(ids) > 0 {
		cm, err := r.claimsFor(ctx, projectID, ids)
		if err != nil {
			return nil, err
		}
		claimsMap = cm
	}

	infos := make([]WorkspaceInfo, 0, len(rows))
	for _, w := range rows {
		infos = append(infos, buildInfo(w, presenceMap[w.workspaceID], claimsMap[w.workspaceID], includePresence, publicReader))
	}
	return infos, nil
}

type teamEntry struct {
	info          WorkspaceInfo
	hasClaims     bool
	isOnline      bool
	lastSeenTS    float64
	lastClaimedTS float64
}

func (r *Registry) enrichTeam(ctx context.Context, rows []*workspaceRow, p TeamParams, limit int) ([]WorkspaceInfo, error) {
	ids := make([]string, len(rows))
	for i, w := range rows {
		ids[i] = w.workspaceID
	}

	presenceMap := map[string]map[string]string{}
	if p.IncludePresence && len(ids) > 0 {
		pm, err := r.pres.ListByWorkspaceIDs(ctx, ids)
		if err != nil {
			log.Printf("[Registry] presence enrichment failed: %v", err)
		} else {
			presenceMap = pm
		}
	}

	claimsMap := map[string][]Claim{}
	if p.IncludeClaims && len(ids) > 0 {
		cm, err := r.claimsFor(ctx, p.ProjectID, ids)
		if err != nil {
			return nil, err
		}
		claimsMap = cm
	}

	entries := make([]teamEntry, 0, len(rows))
	for _, w := range rows {
		pr := presenceMap[w.workspaceID]
		info := buildInfo(w, pr, claimsMap[w.workspaceID], p.IncludePresence, p.PublicReader)

		lastSeenTS := 0.0
		if w.lastSeenAt.Valid {
			lastSeenTS = float64(w.lastSeenAt.Time.UnixNano())
		}
		if pr != nil {
			if t, err := time.Parse(time.RFC3339, pr["last_seen"]); err == nil {
				lastSeenTS = float64(t.UnixNano())
			}
		}
		lastClaimedTS := 0.0
		if w.lastClaimedAt.Valid {
			lastClaimedTS = float64(w.lastClaimedAt.Time.UnixNano())
		}

		entries = append(entries, teamEntry{
			info:          info,
			hasClaims:     w.claimCount > 0,
			isOnline:      p.IncludePresence && pr != nil,
			lastSeenTS:    lastSeenTS,
			lastClaimedTS: lastClaimedTS,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.hasClaims != b.hasClaims {
			return a.hasClaims
		}
		if a.isOnline != b.isOnline {
			return a.isOnline
		}
		if a.lastSeenTS != b.lastSeenTS {
			return a.lastSeenTS > b.lastSeenTS
		}
		if a.lastClaimedTS != b.lastClaimedTS {
			return a.lastClaimedTS > b.lastClaimedTS
		}
		return a.info.Alias < b.info.Alias
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	infos := make([]WorkspaceInfo, len(entries))
	for i, e := range entries {
		infos[i] = e.info
	}
	return infos, nil
}

// claimsFor batch-loads active claims with titles and apex metadata,
// scoped to a single project.
func (r *Registry) claimsFor(ctx context.Context, projectID string, workspaceIDs []string) (map[string][]Claim, error) {
	placeholders := make([]string, len(workspaceIDs))
	args := make([]interface{}, 0, len(workspaceIDs)+1)
	args = append(args, projectID)
	for i, id := range workspaceIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT
			c.workspace_id, c.bead_id, c.claimed_at,
			c.apex_bead_id, claim_issue.title AS claim_title,
			apex_issue.title AS apex_title, apex_issue.issue_type AS apex_type
		FROM server.bead_claims c
		LEFT JOIN LATERAL (
			SELECT title FROM beads.issues
			WHERE project_id = c.project_id AND bead_id = c.bead_id
			ORDER BY synced_at DESC LIMIT 1
		) claim_issue ON true
		LEFT JOIN LATERAL (
			SELECT title, issue_type FROM beads.issues
			WHERE c.apex_bead_id IS NOT NULL
			  AND project_id = c.project_id
			  AND bead_id = c.apex_bead_id
			  AND repo = c.apex_repo_name
			  AND branch = c.apex_branch
			ORDER BY synced_at DESC LIMIT 1
		) apex_issue ON true
		WHERE c.project_id = $1 AND c.workspace_id IN (%s)
		ORDER BY c.workspace_id, c.claimed_at DESC`,
		strings.Join(placeholders, ", "))

	qctx, cancel := database.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.DB().QueryContext(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claims query failed: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Claim)
	for rows.Next() {
		var wsID, beadID string
		var claimedAt sql.NullTime
		var apexID, claimTitle, apexTitle, apexType sql.NullString
		if err := rows.Scan(&wsID, &beadID, &claimedAt, &apexID, &claimTitle, &apexTitle, &apexType); err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		claimed := ""
		if claimedAt.Valid {
			claimed = claimedAt.Time.Format(time.RFC3339)
		}
		out[wsID] = append(out[wsID], Claim{
			BeadID:    beadID,
			Title:     nullToPtr(claimTitle),
			ClaimedAt: claimed,
			ApexID:    nullToPtr(apexID),
			ApexTitle: nullToPtr(apexTitle),
			ApexType:  nullToPtr(apexType),
		})
	}
	return out, rows.Err()
}

func buildInfo(w *workspaceRow, pr map[string]string, claims []Claim, includePresence, publicReader bool) WorkspaceInfo {
	if claims == nil {
		claims = []Claim{}
	}

	role := nullToPtr(w.role)
	status := "offline"
	var lastSeen *string
	if w.lastSeenAt.Valid {
		s := w.lastSeenAt.Time.Format(time.RFC3339)
		lastSeen = &s
	}
	var program, model, memberEmail *string
	branch := nullToPtr(w.currentBranch)

	if includePresence && pr != nil {
		program = optString(pr["program"])
		model = optString(pr["model"])
		memberEmail = optString(pr["member_email"])
		if b := pr["current_branch"]; b != "" {
			branch = &b
		}
		if ro := pr["role"]; ro != "" {
			role = &ro
		}
		if st := pr["status"]; st != "" {
			status = st
		} else {
			status = "active"
		}
		if ls := pr["last_seen"]; ls != "" {
			lastSeen = &ls
		}
	}

	var apexID, apexTitle, apexType *string
	if len(claims) > 0 {
		apexID = claims[0].ApexID
		apexTitle = claims[0].ApexTitle
		apexType = claims[0].ApexType
	}

	humanName := nullToPtr(w.humanName)
	hostname := nullToPtr(w.hostname)
	workspacePath := nullToPtr(w.workspacePath)
	if publicReader {
		humanName = nil
		memberEmail = nil
		role = nil
		hostname = nil
		workspacePath = nil
	}

	var focusUpdated *string
	if w.focusUpdatedAt.Valid {
		s := w.focusUpdatedAt.Time.Format(time.RFC3339)
		focusUpdated = &s
	}
	var deletedAt *string
	if w.deletedAt.Valid {
		s := w.deletedAt.Time.Format(time.RFC3339)
		deletedAt = &s
	}

	return WorkspaceInfo{
		WorkspaceID:       w.workspaceID,
		Alias:             w.alias,
		HumanName:         humanName,
		ProjectID:         &w.projectID,
		ProjectSlug:       nullToPtr(w.projectSlug),
		Program:           program,
		Model:             model,
		Repo:              nullToPtr(w.repo),
		Branch:            branch,
		MemberEmail:       memberEmail,
		Role:              role,
		Hostname:          hostname,
		WorkspacePath:     workspacePath,
		ApexID:            apexID,
		ApexTitle:         apexTitle,
		ApexType:          apexType,
		FocusApexID:       nullToPtr(w.focusApexBeadID),
		FocusApexTitle:    nullToPtr(w.focusApexTitle),
		FocusApexType:     nullToPtr(w.focusApexType),
		FocusApexRepoName: nullToPtr(w.focusApexRepoName),
		FocusApexBranch:   nullToPtr(w.focusApexBranch),
		FocusUpdatedAt:    focusUpdated,
		Status:            status,
		LastSeen:          lastSeen,
		DeletedAt:         deletedAt,
		Claims:            claims,
	}
}

func nullToPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func optString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func hasControlChars(s string) bool {
	for _, c := range s {
		if c < 32 {
			return true
		}
	}
	return false
}
