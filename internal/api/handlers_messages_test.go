package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Route shape and id parsing run before authentication, so a bare
// Server is enough to exercise them.
func TestHandleMessageAckRouting(t *testing.T) {
	s := &Server{}
	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"get is not found", http.MethodGet, "/v1/messages/12/ack", http.StatusNotFound},
		{"missing action", http.MethodPost, "/v1/messages/12", http.StatusNotFound},
		{"wrong action", http.MethodPost, "/v1/messages/12/read", http.StatusNotFound},
		{"non-numeric id", http.MethodPost, "/v1/messages/abc/ack", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.handleMessageByID(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHandleMessageAckInvalidIDDetail(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.handleMessageByID(rec, httptest.NewRequest(http.MethodPost, "/v1/messages/not-a-number/ack", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Invalid message id", decodeDetail(t, rec))
}
