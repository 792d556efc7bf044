// Package presence maintains the volatile "who is live right now"
// cache in Redis. SQL stays authoritative; everything here may be
// stale or absent and callers must tolerate both.
package presence

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the presence hash TTL when the caller does not
// override it.
const DefaultTTL = 1800 * time.Second

// opTimeout bounds every Redis round-trip.
const opTimeout = 5 * time.Second

// Store wraps the Redis presence layout: one hash per workspace plus
// six secondary indices for O(1) filtered lookups.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// Fields is the payload written on each heartbeat. Alias, ProjectID,
// and ProjectSlug are required; the rest are optional. Role,
// Timezone, and CanonicalOrigin are preserved when absent so a sparse
// heartbeat does not erase them; everything else is overwritten.
type Fields struct {
	Alias           string
	ProjectID       string
	ProjectSlug     string
	RepoID          string
	CurrentBranch   string
	Program         string
	Model           string
	Role            string
	Timezone        string
	CanonicalOrigin string
	HumanName       string
	MemberEmail     string
	Status          string
	TTL             time.Duration
}

// NewStore creates a presence store with the given default TTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// SetTTL adjusts the default TTL (hot-reloadable).
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Ping checks Redis liveness.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// esc URL-escapes user-controlled key components so colons in input
// cannot collide with the key scheme.
func esc(s string) string {
	return url.QueryEscape(s)
}

func presenceKey(workspaceID string) string {
	return "presence:" + workspaceID
}

// AllWorkspacesKey is the global presence index.
func AllWorkspacesKey() string { return "idx:all_workspaces" }

// ProjectKey indexes live workspaces per project.
func ProjectKey(projectID string) string {
	return "idx:project_workspaces:" + esc(projectID)
}

// ProjectSlugKey indexes live workspaces per project slug.
func ProjectSlugKey(slug string) string {
	return "idx:project_slug_workspaces:" + esc(slug)
}

// RepoKey indexes live workspaces per repo.
func RepoKey(repoID string) string {
	return "idx:repo_workspaces:" + esc(repoID)
}

// BranchKey indexes live workspaces per repo+branch.
func BranchKey(repoID, branch string) string {
	return "idx:branch_workspaces:" + esc(repoID) + ":" + esc(branch)
}

// AliasKey maps (project, alias) to a workspace ID for O(1) collision
// detection.
func AliasKey(projectID, alias string) string {
	return "idx:alias:" + esc(projectID) + ":" + esc(alias)
}

// Upsert writes the presence hash, refreshes every applicable index,
// and returns the last_seen timestamp it recorded.
func (s *Store) Upsert(ctx context.Context, workspaceID string, f Fields) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ttl := f.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	indexTTL := 2 * ttl

	status := f.Status
	if status == "" {
		status = "active"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	hash := map[string]interface{}{
		"workspace_id":   workspaceID,
		"alias":          f.Alias,
		"human_name":     f.HumanName,
		"project_id":     f.ProjectID,
		"project_slug":   f.ProjectSlug,
		"repo_id":        f.RepoID,
		"member_email":   f.MemberEmail,
		"program":        f.Program,
		"model":          f.Model,
		"status":         status,
		"current_branch": f.CurrentBranch,
		"last_seen":      now,
	}
	// Preserved when absent: never clobbered by a sparse heartbeat.
	if f.Role != "" {
		hash["role"] = f.Role
	}
	if f.Timezone != "" {
		hash["timezone"] = f.Timezone
	}
	if f.CanonicalOrigin != "" {
		hash["canonical_origin"] = f.CanonicalOrigin
	}

	key := presenceKey(workspaceID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, hash)
	pipe.Expire(ctx, key, ttl)

	pipe.SAdd(ctx, AllWorkspacesKey(), workspaceID)
	pipe.Expire(ctx, AllWorkspacesKey(), indexTTL)
	if f.ProjectID != "" {
		pipe.SAdd(ctx, ProjectKey(f.ProjectID), workspaceID)
		pipe.Expire(ctx, ProjectKey(f.ProjectID), indexTTL)
	}
	if f.ProjectSlug != "" {
		pipe.SAdd(ctx, ProjectSlugKey(f.ProjectSlug), workspaceID)
		pipe.Expire(ctx, ProjectSlugKey(f.ProjectSlug), indexTTL)
	}
	if f.RepoID != "" {
		pipe.SAdd(ctx, RepoKey(f.RepoID), workspaceID)
		pipe.Expire(ctx, RepoKey(f.RepoID), indexTTL)
		if f.CurrentBranch != "" {
			pipe.SAdd(ctx, BranchKey(f.RepoID, f.CurrentBranch), workspaceID)
			pipe.Expire(ctx, BranchKey(f.RepoID, f.CurrentBranch), indexTTL)
		}
	}
	if f.ProjectID != "" && f.Alias != "" {
		pipe.Set(ctx, AliasKey(f.ProjectID, f.Alias), workspaceID, indexTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("presence upsert failed: %w", err)
	}
	return now, nil
}

// Get returns the presence hash for one workspace, or nil when absent.
func (s *Store) Get(ctx context.Context, workspaceID string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	hash, err := s.rdb.HGetAll(ctx, presenceKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence get failed: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil
	}
	return hash, nil
}

// ListByWorkspaceIDs batch-fetches presence hashes via one pipeline.
// Workspaces without presence are omitted from the result.
func (s *Store) ListByWorkspaceIDs(ctx context.Context, workspaceIDs []string) (map[string]map[string]string, error) {
	if len(workspaceIDs) == 0 {
		return map[string]map[string]string{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(workspaceIDs))
	for i, wid := range workspaceIDs {
		cmds[i] = pipe.HGetAll(ctx, presenceKey(wid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence batch get failed: %w", err)
	}

	out := make(map[string]map[string]string, len(workspaceIDs))
	for i, wid := range workspaceIDs {
		hash, err := cmds[i].Result()
		if err != nil || len(hash) == 0 {
			continue
		}
		out[wid] = hash
	}
	return out, nil
}

// ListByIndex returns the live presence hashes behind one index set.
// Members whose presence hash has expired are lazily removed from the
// index and excluded; refresh re-adds them, so this is safe.
func (s *Store) ListByIndex(ctx context.Context, indexKey string) ([]map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	members, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence index read failed: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(members))
	for i, wid := range members {
		existsCmds[i] = pipe.Exists(ctx, presenceKey(wid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence index check failed: %w", err)
	}

	var live []string
	var stale []interface{}
	for i, wid := range members {
		if n, _ := existsCmds[i].Result(); n > 0 {
			live = append(live, wid)
		} else {
			stale = append(stale, wid)
		}
	}
	if len(stale) > 0 {
		// Lazy cleanup; a concurrent refresh just re-adds the member.
		_ = s.rdb.SRem(ctx, indexKey, stale...).Err()
	}

	hashes, err := s.ListByWorkspaceIDs(ctx, live)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(live))
	for _, wid := range live {
		if h, ok := hashes[wid]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetWorkspaceIDByAlias resolves an alias to its live workspace in
// O(1) via the alias index, deleting stale entries on the way.
func (s *Store) GetWorkspaceIDByAlias(ctx context.Context, projectID, alias string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := AliasKey(projectID, alias)
	wid, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("alias index read failed: %w", err)
	}

	n, err := s.rdb.Exists(ctx, presenceKey(wid)).Result()
	if err != nil {
		return "", fmt.Errorf("alias presence check failed: %w", err)
	}
	if n == 0 {
		_ = s.rdb.Del(ctx, key).Err()
		return "", nil
	}
	return wid, nil
}

// GetWorkspaceProjectSlug reads the project slug cached in a
// workspace's presence hash, or "" when absent.
func (s *Store) GetWorkspaceProjectSlug(ctx context.Context, workspaceID string) string {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	slug, err := s.rdb.HGet(ctx, presenceKey(workspaceID), "project_slug").Result()
	if err != nil {
		return ""
	}
	return slug
}

// ClearPresence removes presence hashes and global-index membership
// for the given workspaces. Secondary indices self-heal via lazy
// cleanup.
func (s *Store) ClearPresence(ctx context.Context, workspaceIDs []string) error {
	if len(workspaceIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	members := make([]interface{}, len(workspaceIDs))
	for i, wid := range workspaceIDs {
		pipe.Del(ctx, presenceKey(wid))
		members[i] = wid
	}
	pipe.SRem(ctx, AllWorkspacesKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence clear failed: %w", err)
	}
	return nil
}
