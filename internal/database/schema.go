package database

import "fmt"

// initSchema creates the three Postgres schemas and every table the
// coordination core uses. All statements are idempotent so startup is
// safe to repeat.
func (d *Database) initSchema() error {
	schema := `
	CREATE SCHEMA IF NOT EXISTS server;
	CREATE SCHEMA IF NOT EXISTS beads;
	CREATE SCHEMA IF NOT EXISTS aweb;

	-- Tenants
	CREATE TABLE IF NOT EXISTS aweb.projects (
		project_id UUID PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		tenant_id UUID,
		active_policy_id UUID,
		is_public BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	);

	-- Agent identities (aweb protocol)
	CREATE TABLE IF NOT EXISTS aweb.agents (
		agent_id UUID PRIMARY KEY,
		project_id UUID NOT NULL,
		alias TEXT NOT NULL,
		human_name TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL DEFAULT 'worker',
		lifetime TEXT NOT NULL DEFAULT 'persistent',
		custody TEXT NOT NULL DEFAULT 'self',
		did TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		access_mode TEXT NOT NULL DEFAULT 'full',
		signing_key_enc BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_agents_project ON aweb.agents(project_id);

	-- Bearer credentials: aw_sk_<opaque>, bcrypt-hashed, prefix-indexed
	CREATE TABLE IF NOT EXISTS aweb.api_keys (
		key_id UUID PRIMARY KEY,
		project_id UUID NOT NULL,
		agent_id UUID,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON aweb.api_keys(key_prefix) WHERE is_active;

	-- Mail collaborator: outbox deliveries land here
	CREATE TABLE IF NOT EXISTS aweb.messages (
		id BIGSERIAL PRIMARY KEY,
		project_id UUID NOT NULL,
		sender_workspace_id UUID,
		sender_alias TEXT NOT NULL DEFAULT '',
		recipient_workspace_id UUID NOT NULL,
		recipient_alias TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		acknowledged_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON aweb.messages(project_id, recipient_workspace_id, created_at DESC);

	-- Chat collaborator. session_leaving is stored but never interpreted.
	CREATE TABLE IF NOT EXISTS aweb.chat_messages (
		id BIGSERIAL PRIMARY KEY,
		project_id UUID NOT NULL,
		workspace_id UUID NOT NULL,
		alias TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		session_leaving BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Registered repositories, one row per (project, canonical origin)
	CREATE TABLE IF NOT EXISTS server.repos (
		repo_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL,
		canonical_origin TEXT NOT NULL,
		origin_url TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ,
		UNIQUE (project_id, canonical_origin)
	);

	-- Workspaces. workspace_id doubles as the owning agent_id.
	CREATE TABLE IF NOT EXISTS server.workspaces (
		workspace_id UUID PRIMARY KEY,
		project_id UUID NOT NULL,
		repo_id UUID,
		alias TEXT NOT NULL,
		human_name TEXT NOT NULL DEFAULT '',
		role TEXT,
		hostname TEXT,
		workspace_path TEXT,
		workspace_type TEXT NOT NULL DEFAULT 'agent',
		current_branch TEXT,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		focus_apex_bead_id TEXT,
		focus_apex_repo_name TEXT,
		focus_apex_branch TEXT,
		focus_apex_type TEXT,
		focus_updated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_workspaces_alias_live
		ON server.workspaces(project_id, alias) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_workspaces_project ON server.workspaces(project_id, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_workspaces_repo ON server.workspaces(repo_id) WHERE deleted_at IS NULL;

	-- Exclusive bead claims
	CREATE TABLE IF NOT EXISTS server.bead_claims (
		id BIGSERIAL PRIMARY KEY,
		project_id UUID NOT NULL,
		bead_id TEXT NOT NULL,
		workspace_id UUID NOT NULL,
		alias TEXT NOT NULL,
		human_name TEXT NOT NULL DEFAULT '',
		apex_bead_id TEXT,
		apex_repo_name TEXT,
		apex_branch TEXT,
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, bead_id, workspace_id)
	);
	CREATE INDEX IF NOT EXISTS idx_bead_claims_workspace ON server.bead_claims(project_id, workspace_id, claimed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_bead_claims_bead ON server.bead_claims(project_id, bead_id);

	-- Human escalations
	CREATE TABLE IF NOT EXISTS server.escalations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL,
		workspace_id UUID NOT NULL,
		alias TEXT NOT NULL,
		member_email TEXT,
		subject TEXT NOT NULL,
		situation TEXT NOT NULL,
		options JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		response TEXT,
		response_note TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		responded_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_escalations_project ON server.escalations(project_id, created_at DESC);

	-- Per-bead notification subscriptions
	CREATE TABLE IF NOT EXISTS server.subscriptions (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL,
		workspace_id UUID NOT NULL,
		alias TEXT NOT NULL,
		bead_id TEXT NOT NULL,
		repo TEXT,
		event_types TEXT[] NOT NULL DEFAULT '{status_change}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_target
		ON server.subscriptions(project_id, workspace_id, bead_id, COALESCE(repo, ''));

	-- Transactional notification outbox
	CREATE TABLE IF NOT EXISTS server.notifications_outbox (
		id BIGSERIAL PRIMARY KEY,
		project_id UUID NOT NULL,
		recipient_workspace_id UUID NOT NULL,
		recipient_alias TEXT NOT NULL DEFAULT '',
		bead_id TEXT NOT NULL,
		old_status TEXT,
		new_status TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		synced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON server.notifications_outbox(project_id, created_at) WHERE processed_at IS NULL;

	-- Best-effort audit trail
	CREATE TABLE IF NOT EXISTS server.audit_log (
		id BIGSERIAL PRIMARY KEY,
		project_id UUID NOT NULL,
		workspace_id UUID,
		event_type TEXT NOT NULL,
		details JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_project ON server.audit_log(project_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS server.project_policies (
		policy_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL,
		name TEXT NOT NULL,
		rules JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Synced issues, tenant-scoped and keyed per repo/branch
	CREATE TABLE IF NOT EXISTS beads.issues (
		project_id UUID NOT NULL,
		repo TEXT NOT NULL,
		branch TEXT NOT NULL,
		bead_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		priority INT NOT NULL DEFAULT 2,
		issue_type TEXT NOT NULL DEFAULT 'task',
		assignee TEXT,
		created_by TEXT,
		labels TEXT[] NOT NULL DEFAULT '{}',
		blocked_by JSONB NOT NULL DEFAULT '[]',
		parent_repo TEXT,
		parent_branch TEXT,
		parent_bead_id TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, repo, branch, bead_id)
	);
	CREATE INDEX IF NOT EXISTS idx_issues_status ON beads.issues(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_issues_bead ON beads.issues(project_id, bead_id, synced_at DESC);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}
	return nil
}
