package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := EncodeCursor(map[string]any{
		"sort_time": "2026-08-24T10:00:00Z",
		"priority":  float64(2),
		"bead_id":   "bd-17",
	})
	require.NotEmpty(t, cursor)

	fields, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-24T10:00:00Z", fields["sort_time"])
	assert.Equal(t, float64(2), fields["priority"])
	assert.Equal(t, "bd-17", fields["bead_id"])
}

func TestDecodeCursor_Garbage(t *testing.T) {
	_, err := DecodeCursor("!!not-base64!!")
	assert.Error(t, err)

	// Valid base64, invalid JSON.
	_, err = DecodeCursor("bm90LWpzb24=")
	assert.Error(t, err)
}

func TestValidateParams(t *testing.T) {
	limit, fields, err := ValidateParams(0, "", 200)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, limit)
	assert.Nil(t, fields)

	_, _, err = ValidateParams(201, "", 200)
	assert.Error(t, err)

	_, _, err = ValidateParams(-1, "", 200)
	assert.Error(t, err)

	cursor := EncodeCursor(map[string]any{"claimed_at": "2026-08-24T10:00:00Z"})
	limit, fields, err = ValidateParams(25, cursor, 200)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)
	assert.Equal(t, "2026-08-24T10:00:00Z", fields["claimed_at"])
}

func TestRequireFields(t *testing.T) {
	fields := map[string]any{"sort_time": "x", "priority": 1.0}
	assert.NoError(t, RequireFields(fields, "sort_time", "priority"))
	assert.Error(t, RequireFields(fields, "sort_time", "priority", "bead_id"))
}
