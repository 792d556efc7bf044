package registry

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/pagination"
)

func sampleRow() *workspaceRow {
	return &workspaceRow{
		workspaceID:   "ws-1",
		alias:         "ada",
		humanName:     sql.NullString{String: "Ada L", Valid: true},
		currentBranch: sql.NullString{String: "main", Valid: true},
		projectID:     "proj-1",
		role:          sql.NullString{String: "programmer", Valid: true},
		hostname:      sql.NullString{String: "devbox", Valid: true},
		workspacePath: sql.NullString{String: "/home/ada/src", Valid: true},
		lastSeenAt:    sql.NullTime{Time: time.Now().UTC(), Valid: true},
		projectSlug:   sql.NullString{String: "myproj", Valid: true},
	}
}

// Cursor validation runs before any query is issued, so a Registry
// without a database is enough to exercise the rejection paths.
func TestList_RejectsBadCursors(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
		detail string
	}{
		{"empty object", pagination.EncodeCursor(map[string]any{}), `invalid cursor: missing field "updated_at"`},
		{"wrong field", pagination.EncodeCursor(map[string]any{"created_at": "2026-01-02T03:04:05Z"}), `invalid cursor: missing field "updated_at"`},
		{"non-string value", pagination.EncodeCursor(map[string]any{"updated_at": 42}), "invalid cursor: bad updated_at timestamp"},
		{"malformed timestamp", pagination.EncodeCursor(map[string]any{"updated_at": "yesterday"}), "invalid cursor: bad updated_at timestamp"},
		{"garbage encoding", "not-base64!", "invalid cursor encoding"},
	}
	r := &Registry{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.List(context.Background(), ListParams{ProjectID: "proj-1", Cursor: tt.cursor})
			require.Error(t, err)
			status, detail := httperr.StatusOf(err)
			assert.Equal(t, http.StatusUnprocessableEntity, status)
			assert.Equal(t, tt.detail, detail)
		})
	}
}

func TestBuildInfo_OfflineWithoutPresence(t *testing.T) {
	info := buildInfo(sampleRow(), nil, nil, true, false)
	assert.Equal(t, "offline", info.Status)
	assert.Equal(t, "ada", info.Alias)
	require.NotNil(t, info.HumanName)
	assert.Equal(t, "Ada L", *info.HumanName)
	assert.NotNil(t, info.LastSeen)
	assert.NotNil(t, info.Claims)
}

func TestBuildInfo_PresenceOverrides(t *testing.T) {
	pr := map[string]string{
		"program":        "bdh",
		"model":          "large",
		"status":         "active",
		"current_branch": "feature/x",
		"role":           "reviewer",
		"last_seen":      "2026-08-24T10:00:00Z",
	}
	info := buildInfo(sampleRow(), pr, nil, true, false)
	assert.Equal(t, "active", info.Status)
	assert.Equal(t, "feature/x", *info.Branch)
	assert.Equal(t, "reviewer", *info.Role)
	assert.Equal(t, "bdh", *info.Program)
	assert.Equal(t, "2026-08-24T10:00:00Z", *info.LastSeen)
}

func TestBuildInfo_PublicReaderRedaction(t *testing.T) {
	pr := map[string]string{"member_email": "ada@example.com", "status": "active"}
	info := buildInfo(sampleRow(), pr, nil, true, true)
	assert.Nil(t, info.HumanName)
	assert.Nil(t, info.MemberEmail)
	assert.Nil(t, info.Role)
	assert.Nil(t, info.Hostname)
	assert.Nil(t, info.WorkspacePath)
	// Non-PII survives redaction.
	assert.Equal(t, "ada", info.Alias)
	assert.Equal(t, "active", info.Status)
}

func TestBuildInfo_ApexFromFirstClaim(t *testing.T) {
	apex := "bh-root"
	claims := []Claim{
		{BeadID: "bh-2", ApexID: &apex},
		{BeadID: "bh-1"},
	}
	info := buildInfo(sampleRow(), nil, claims, false, false)
	require.NotNil(t, info.ApexID)
	assert.Equal(t, "bh-root", *info.ApexID)
	assert.Len(t, info.Claims, 2)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.True(t, hasControlChars("a\x01b"))
	assert.False(t, hasControlChars("plain"))
	assert.Nil(t, optString(""))
	assert.Equal(t, "x", *optString("x"))
	assert.Equal(t, "", deref(nil))
}
