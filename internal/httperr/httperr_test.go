package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"validation", Validation("limit must be between 1 and %d", 200), http.StatusUnprocessableEntity, "limit must be between 1 and 200"},
		{"conflict", Conflict("Alias '%s' is already in use", "swift-falcon"), http.StatusConflict, "Alias 'swift-falcon' is already in use"},
		{"unauthorized fixed message", Unauthorized(), http.StatusUnauthorized, "Authentication required"},
		{"wrapped keeps status", fmt.Errorf("outer: %w", NotFound("Workspace not found")), http.StatusNotFound, "Workspace not found"},
		{"plain error is opaque 500", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := StatusOf(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.detail, detail)
		})
	}
}
