package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/beadhub/internal/auth"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/ratelimit"
)

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestRequireMethod(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/v1/status", nil)

	ok := s.requireMethod(rec, r, http.MethodGet)

	assert.False(t, ok)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", decodeDetail(t, rec))

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	assert.True(t, s.requireMethod(rec, r, http.MethodGet))
}

func TestRespondErrorEnvelope(t *testing.T) {
	s := &Server{}
	tests := []struct {
		name   string
		err    error
		code   int
		detail string
	}{
		{"validation", httperr.Validation("bad input"), http.StatusUnprocessableEntity, "bad input"},
		{"not found", httperr.NotFound("Workspace not found"), http.StatusNotFound, "Workspace not found"},
		{"gone", httperr.Gone("Workspace has been deleted"), http.StatusGone, "Workspace has been deleted"},
		{"conflict", httperr.Conflict("taken"), http.StatusConflict, "taken"},
		{"unauthorized", httperr.Unauthorized(), http.StatusUnauthorized, "Authentication required"},
		{"opaque internal", assert.AnError, http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.respondError(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.detail, decodeDetail(t, rec))
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestDecodeBodyRejectsMalformedJSON(t *testing.T) {
	s := &Server{}
	r := httptest.NewRequest(http.MethodPost, "/v1/escalations", strings.NewReader("{not json"))

	var dst map[string]any
	err := s.decodeBody(r, &dst)

	require.Error(t, err)
	code, detail := httperr.StatusOf(err)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, detail, "Invalid request body")
}

func TestResolveWorkspace(t *testing.T) {
	s := &Server{}
	r := httptest.NewRequest(http.MethodPost, "/v1/bdh/command", nil)
	const self = "5f3a1c9e-0b6f-4c2a-9d6e-1a2b3c4d5e6f"
	const other = "0c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f"

	bearer := &auth.Identity{AuthMode: auth.ModeBearer, AgentID: self}
	proxy := &auth.Identity{AuthMode: auth.ModeProxy}

	t.Run("empty defaults to own workspace", func(t *testing.T) {
		got, err := s.resolveWorkspace(r, bearer, "")
		require.NoError(t, err)
		assert.Equal(t, self, got)
	})

	t.Run("empty without agent identity fails", func(t *testing.T) {
		_, err := s.resolveWorkspace(r, proxy, "")
		require.Error(t, err)
		code, _ := httperr.StatusOf(err)
		assert.Equal(t, http.StatusUnprocessableEntity, code)
	})

	t.Run("malformed id fails", func(t *testing.T) {
		_, err := s.resolveWorkspace(r, bearer, "not-a-uuid")
		require.Error(t, err)
		code, _ := httperr.StatusOf(err)
		assert.Equal(t, http.StatusUnprocessableEntity, code)
	})

	t.Run("bearer cannot act as another workspace", func(t *testing.T) {
		_, err := s.resolveWorkspace(r, bearer, other)
		require.Error(t, err)
		code, _ := httperr.StatusOf(err)
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("proxy may reference any workspace", func(t *testing.T) {
		got, err := s.resolveWorkspace(r, proxy, other)
		require.NoError(t, err)
		assert.Equal(t, other, got)
	})
}

func TestHandleInitMethodAndRateLimit(t *testing.T) {
	s := &Server{initLimiter: ratelimit.NewPerIP(1)}

	rec := httptest.NewRecorder()
	s.handleInit(rec, httptest.NewRequest(http.MethodGet, "/v1/init", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// First POST passes the limiter and fails on the malformed body.
	rec = httptest.NewRecorder()
	s.handleInit(rec, httptest.NewRequest(http.MethodPost, "/v1/init", strings.NewReader("{")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The bucket holds a single token, so the retry is throttled.
	rec = httptest.NewRecorder()
	s.handleInit(rec, httptest.NewRequest(http.MethodPost, "/v1/init", strings.NewReader("{")))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many init requests, slow down", decodeDetail(t, rec))
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/claims?limit=25", nil)
	n, err := queryInt(r, "limit")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	r = httptest.NewRequest(http.MethodGet, "/v1/claims", nil)
	n, err = queryInt(r, "limit")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r = httptest.NewRequest(http.MethodGet, "/v1/claims?limit=lots", nil)
	_, err = queryInt(r, "limit")
	require.Error(t, err)
	code, _ := httperr.StatusOf(err)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/workspaces?include_claims=false", nil)
	assert.False(t, queryBool(r, "include_claims", true))
	assert.True(t, queryBool(r, "include_presence", true))

	r = httptest.NewRequest(http.MethodGet, "/v1/workspaces?include_deleted=maybe", nil)
	assert.False(t, queryBool(r, "include_deleted", false))
}

func TestStatusRecorderCapturesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, code: http.StatusOK}

	sr.WriteHeader(http.StatusConflict)

	assert.Equal(t, http.StatusConflict, sr.code)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Flush must pass through for SSE responses behind the recorder.
	sr.Flush()
	assert.True(t, rec.Flushed)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := &Server{}
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeDetail(t, rec))
}

func TestResolveRepoBranchDefaults(t *testing.T) {
	repo, branch, err := resolveRepoBranch("github.com/acme/widgets", "")
	require.NoError(t, err)
	assert.Equal(t, "github.com/acme/widgets", repo)
	assert.Equal(t, "main", branch)

	_, branch, err = resolveRepoBranch("github.com/acme/widgets", "feature/sync-v2")
	require.NoError(t, err)
	assert.Equal(t, "feature/sync-v2", branch)

	_, _, err = resolveRepoBranch("", "")
	require.Error(t, err)
	code, _ := httperr.StatusOf(err)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}
