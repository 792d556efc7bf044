package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/beadhub/internal/events"
)

func testHook() *Hook {
	// No collaborators needed for translation as long as the payload
	// already carries alias and project_slug.
	return &Hook{}
}

func TestTranslate_MessageDelivered(t *testing.T) {
	h := testHook()
	ev := h.translate(context.Background(), "message.delivered", map[string]any{
		"recipient_workspace_id": "ws-2",
		"project_slug":           "myproj",
		"message_id":             "41",
		"sender_workspace_id":    "ws-1",
		"sender_alias":           "ada",
		"recipient_alias":        "grace",
		"subject":                "hello",
	})
	require.NotNil(t, ev)
	md, ok := ev.(*events.MessageDelivered)
	require.True(t, ok)
	assert.Equal(t, "ws-2", md.WorkspaceID)
	assert.Equal(t, "message.delivered", md.Type)
	assert.Equal(t, "ada", md.FromAlias)
	assert.Equal(t, "grace", md.ToAlias)
	assert.Equal(t, "normal", md.Priority)
}

func TestTranslate_ReservationAcquired(t *testing.T) {
	h := testHook()
	ev := h.translate(context.Background(), "reservation.acquired", map[string]any{
		"workspace_id": "ws-1",
		"project_slug": "myproj",
		"alias":        "ada",
		"paths":        []any{"src/a.go", "src/b.go"},
		"ttl_seconds":  float64(600),
		"exclusive":    true,
	})
	require.NotNil(t, ev)
	ra, ok := ev.(*events.ReservationAcquired)
	require.True(t, ok)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, ra.Paths)
	assert.Equal(t, 600, ra.TTLSeconds)
	assert.True(t, ra.Exclusive)
}

func TestTranslate_UnknownTypeIgnored(t *testing.T) {
	h := testHook()
	ev := h.translate(context.Background(), "something.else", map[string]any{
		"workspace_id": "ws-1",
		"project_slug": "myproj",
	})
	assert.Nil(t, ev)
}

func TestTranslate_MissingWorkspaceIgnored(t *testing.T) {
	h := testHook()
	ev := h.translate(context.Background(), "message.delivered", map[string]any{
		"subject": "orphan",
	})
	assert.Nil(t, ev)
}

func TestPayloadHelpers(t *testing.T) {
	data := map[string]any{
		"s":     "x",
		"n_f":   float64(7),
		"n_i":   3,
		"b":     true,
		"list":  []any{"a", 1, "b"},
		"slist": []string{"c"},
	}
	assert.Equal(t, "x", str(data, "s"))
	assert.Equal(t, "", str(data, "missing"))
	assert.Equal(t, 7, num(data, "n_f"))
	assert.Equal(t, 3, num(data, "n_i"))
	assert.True(t, boolean(data, "b"))
	assert.False(t, boolean(data, "missing"))
	assert.Equal(t, []string{"a", "b"}, strs(data, "list"))
	assert.Equal(t, []string{"c"}, strs(data, "slist"))
	assert.Nil(t, strs(data, "missing"))
}
