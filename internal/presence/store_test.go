package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "presence:ws-1", presenceKey("ws-1"))
	assert.Equal(t, "idx:all_workspaces", AllWorkspacesKey())
	assert.Equal(t, "idx:project_workspaces:p1", ProjectKey("p1"))
	assert.Equal(t, "idx:project_slug_workspaces:myproj", ProjectSlugKey("myproj"))
	assert.Equal(t, "idx:repo_workspaces:r1", RepoKey("r1"))
	assert.Equal(t, "idx:branch_workspaces:r1:main", BranchKey("r1", "main"))
	assert.Equal(t, "idx:alias:p1:ada", AliasKey("p1", "ada"))
}

func TestKeyEscaping(t *testing.T) {
	// Colons in user input must not collide with the key scheme.
	assert.Equal(t, "idx:branch_workspaces:r1:feat%2Fx", BranchKey("r1", "feat/x"))
	assert.Equal(t, "idx:alias:p1:a%3Ab", AliasKey("p1", "a:b"))
}

func TestNewStoreDefaults(t *testing.T) {
	s := NewStore(nil, 0)
	assert.Equal(t, DefaultTTL, s.ttl)

	s.SetTTL(0)
	assert.Equal(t, DefaultTTL, s.ttl)

	s.SetTTL(60 * 1e9)
	assert.NotEqual(t, DefaultTTL, s.ttl)
}
