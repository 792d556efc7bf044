package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "events:ws-1", ChannelName("ws-1"))
}

func TestMirrorSubject(t *testing.T) {
	assert.Equal(t, "beadhub.events.ws-1", MirrorSubject("ws-1"))
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryBead, CategoryOf("bead.status_changed"))
	assert.Equal(t, CategoryMessage, CategoryOf("message.delivered"))
	assert.Equal(t, CategoryChat, CategoryOf("chat.message_sent"))
	assert.Equal(t, Category("weird"), CategoryOf("weird"))
}

func TestEventEncoding(t *testing.T) {
	e := NewBeadStatusChanged("ws-1", "myproj")
	e.ProjectID = "proj-1"
	e.BeadID = "bh-42"
	e.Repo = "github.com/acme/api"
	e.OldStatus = "open"
	e.NewStatus = "in_progress"
	e.Alias = "ada"

	payload, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "bead.status_changed", decoded["type"])
	assert.Equal(t, "ws-1", decoded["workspace_id"])
	assert.Equal(t, "myproj", decoded["project_slug"])
	assert.Equal(t, "in_progress", decoded["new_status"])
	assert.NotEmpty(t, decoded["timestamp"])
	// Empty title is omitted from the wire form.
	_, hasTitle := decoded["title"]
	assert.False(t, hasTitle)
}

func TestReservationAcquiredDefaults(t *testing.T) {
	e := NewReservationAcquired("ws-1", "")
	assert.True(t, e.Exclusive)
	assert.Equal(t, "reservation.acquired", e.EventType())
	assert.Equal(t, "ws-1", e.EventWorkspace())
}

func TestMessageDeliveredDefaults(t *testing.T) {
	e := NewMessageDelivered("ws-2", "proj")
	assert.Equal(t, "normal", e.Priority)
	assert.Equal(t, CategoryMessage, CategoryOf(e.EventType()))
}
