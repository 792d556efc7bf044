// Package pagination implements the URL-safe base64 JSON cursors used
// by every list endpoint.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// DefaultLimit is used when the client does not supply one.
	DefaultLimit = 50
	// MaxLimit bounds the per-page item count for list endpoints.
	MaxLimit = 200
)

// EncodeCursor serialises the sort-key fields into an opaque cursor.
func EncodeCursor(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		// Only non-serialisable values can land here; cursors are
		// built from strings and numbers.
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque cursor back into its sort-key fields.
func DecodeCursor(cursor string) (map[string]any, error) {
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid cursor payload")
	}
	return fields, nil
}

// ValidateParams normalises the limit and decodes the optional cursor.
// A zero limit selects DefaultLimit; limits above max are rejected.
func ValidateParams(limit int, cursor string, maxLimit int) (int, map[string]any, error) {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if limit == 0 {
		limit = DefaultLimit
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if limit < 1 || limit > maxLimit {
		return 0, nil, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	if cursor == "" {
		return limit, nil, nil
	}
	fields, err := DecodeCursor(cursor)
	if err != nil {
		return 0, nil, err
	}
	return limit, fields, nil
}

// RequireFields checks that a decoded cursor carries every named
// sort-key field; list endpoints reject incomplete cursors with 422.
func RequireFields(fields map[string]any, names ...string) error {
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("invalid cursor: missing field %q", name)
		}
	}
	return nil
}
