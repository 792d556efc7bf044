package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkspaceID(t *testing.T) {
	id, err := WorkspaceID(" 6F9619FF-8B86-D011-B42D-00C04FC964FF ")
	assert.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", id)

	_, err = WorkspaceID("not-a-uuid")
	assert.Error(t, err)
	_, err = WorkspaceID("")
	assert.Error(t, err)
}

func TestAlias(t *testing.T) {
	valid := []string{"crusher", "data-2", "geordi_la_forge", "A1", strings.Repeat("x", 64)}
	for _, a := range valid {
		assert.True(t, Alias(a), "alias %q", a)
	}

	invalid := []string{"", "-starts-wrong", "_x", "has space", "colon:bad", strings.Repeat("x", 65)}
	for _, a := range invalid {
		assert.False(t, Alias(a), "alias %q", a)
	}
}

func TestBeadID(t *testing.T) {
	valid := []string{"bd-1", "widgets:bd-42", "A_b-c", strings.Repeat("x", 100)}
	for _, b := range valid {
		assert.True(t, BeadID(b), "bead %q", b)
	}

	invalid := []string{"", ":bd-1", "repo:sub:bd-1", "-bad", strings.Repeat("x", 101)}
	for _, b := range invalid {
		assert.False(t, BeadID(b), "bead %q", b)
	}
}

func TestBranch(t *testing.T) {
	valid := []string{"main", "feature/claims-v2", "release-1.2", "users/worf/wip"}
	for _, b := range valid {
		assert.True(t, Branch(b), "branch %q", b)
	}

	invalid := []string{"", "../escape", "bad..dots", "trailing/", "-lead", strings.Repeat("x", 256)}
	for _, b := range invalid {
		assert.False(t, Branch(b), "branch %q", b)
	}
}

func TestHumanName(t *testing.T) {
	assert.NoError(t, HumanName("Beverly Crusher"))
	assert.Error(t, HumanName("   "))
	assert.Error(t, HumanName(strings.Repeat("n", 129)))
}

func TestSlug(t *testing.T) {
	assert.NoError(t, Slug("acme-widgets"))
	assert.NoError(t, Slug("proj.v2"))
	assert.Error(t, Slug("Has-Upper"))
	assert.Error(t, Slug(""))
	assert.Error(t, Slug("-lead"))
}
