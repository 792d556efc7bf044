package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/beadhub/internal/httperr"
)

func TestParseInternalContext_Valid(t *testing.T) {
	secret := "test-secret"
	projectID := uuid.NewString()
	userID := uuid.NewString()
	actorID := uuid.NewString()

	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(InternalProjectHeader, projectID)
	r.Header.Set(InternalUserHeader, userID)
	r.Header.Set(InternalActorIDHeader, actorID)
	r.Header.Set(InternalAuthHeader, SignInternalContext(secret, projectID, "u", userID, actorID))

	ctx, err := ParseInternalContext(r, secret)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, projectID, ctx.ProjectID)
	assert.Equal(t, PrincipalUser, ctx.PrincipalType)
	assert.Equal(t, userID, ctx.PrincipalID)
	assert.Equal(t, actorID, ctx.ActorID)
}

func TestParseInternalContext_PublicReader(t *testing.T) {
	secret := "test-secret"
	projectID := uuid.NewString()
	publicID := uuid.NewString()

	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(InternalProjectHeader, projectID)
	r.Header.Set(InternalPublicHeader, publicID)
	r.Header.Set(InternalAuthHeader, SignInternalContext(secret, projectID, "p", publicID, ""))

	ctx, err := ParseInternalContext(r, secret)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, PrincipalPublic, ctx.PrincipalType)
	assert.Empty(t, ctx.ActorID)
}

func TestParseInternalContext_NoHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/status", nil)
	ctx, err := ParseInternalContext(r, "secret")
	assert.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestParseInternalContext_NoSecretIgnored(t *testing.T) {
	// Client-supplied internal headers are untrusted without a secret.
	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(InternalAuthHeader, "v2:whatever:u:x:y:deadbeef")
	r.Header.Set(InternalProjectHeader, uuid.NewString())

	ctx, err := ParseInternalContext(r, "")
	assert.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestParseInternalContext_BadSignature(t *testing.T) {
	secret := "test-secret"
	projectID := uuid.NewString()
	userID := uuid.NewString()
	actorID := uuid.NewString()

	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(InternalProjectHeader, projectID)
	r.Header.Set(InternalUserHeader, userID)
	r.Header.Set(InternalActorIDHeader, actorID)
	r.Header.Set(InternalAuthHeader, SignInternalContext("wrong-secret", projectID, "u", userID, actorID))

	_, err := ParseInternalContext(r, secret)
	status, detail := httperr.StatusOf(err)
	assert.Equal(t, 401, status)
	assert.Equal(t, "Authentication required", detail)
}

func TestParseInternalContext_MissingPrincipal(t *testing.T) {
	secret := "test-secret"
	projectID := uuid.NewString()

	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(InternalProjectHeader, projectID)
	r.Header.Set(InternalActorIDHeader, uuid.NewString())
	r.Header.Set(InternalAuthHeader, "v2:something:signed")

	_, err := ParseInternalContext(r, secret)
	status, _ := httperr.StatusOf(err)
	assert.Equal(t, 401, status)
}

func TestParseInternalContext_MalformedUUIDs(t *testing.T) {
	secret := "test-secret"

	r := httptest.NewRequest("GET", "/v1/status", nil)
	r.Header.Set(InternalProjectHeader, "not-a-uuid")
	r.Header.Set(InternalUserHeader, uuid.NewString())
	r.Header.Set(InternalActorIDHeader, uuid.NewString())
	r.Header.Set(InternalAuthHeader, "v2:x:y:z:w:sig")

	_, err := ParseInternalContext(r, secret)
	status, _ := httperr.StatusOf(err)
	assert.Equal(t, 401, status)
}

func TestEnforceActorBinding(t *testing.T) {
	wsID := uuid.NewString()

	bearer := &Identity{ProjectID: uuid.NewString(), AgentID: wsID, AuthMode: ModeBearer}
	assert.NoError(t, EnforceActorBinding(bearer, wsID))

	err := EnforceActorBinding(bearer, uuid.NewString())
	status, detail := httperr.StatusOf(err)
	assert.Equal(t, 403, status)
	assert.Equal(t, "workspace_id does not match API key identity", detail)

	// Proxy mode delegates the check to the wrapper.
	proxy := &Identity{ProjectID: uuid.NewString(), AgentID: "", AuthMode: ModeProxy}
	assert.NoError(t, EnforceActorBinding(proxy, wsID))
}

func TestParseBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ParseBearerToken(r))

	r.Header.Set("Authorization", "Bearer aw_sk_abc123")
	assert.Equal(t, "aw_sk_abc123", ParseBearerToken(r))

	r.Header.Set("Authorization", "bearer aw_sk_abc123")
	assert.Equal(t, "aw_sk_abc123", ParseBearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, ParseBearerToken(r))
}

func TestGenerateAPIKey(t *testing.T) {
	token, prefix, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, len(token) > 20)
	assert.Equal(t, token[:14], prefix)
	assert.Contains(t, token, KeyPrefix)
	assert.NotEqual(t, token, hash)

	// Two keys never collide.
	token2, _, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestDashboardTokenRoundTrip(t *testing.T) {
	resolver := NewResolver(nil, "", "jwt-secret")
	id := &Identity{ProjectID: uuid.NewString(), AgentID: uuid.NewString(), AuthMode: ModeBearer}

	token, expires, err := resolver.MintDashboardToken(id)
	require.NoError(t, err)
	assert.False(t, expires.IsZero())

	got, err := resolver.VerifyDashboardToken(token)
	require.NoError(t, err)
	assert.Equal(t, id.ProjectID, got.ProjectID)
	assert.Equal(t, id.AgentID, got.AgentID)
	assert.Equal(t, ModeProxy, got.AuthMode)

	_, err = resolver.VerifyDashboardToken(token + "tampered")
	status, _ := httperr.StatusOf(err)
	assert.Equal(t, 401, status)
}

func TestMintDashboardToken_NoSecret(t *testing.T) {
	resolver := NewResolver(nil, "", "")
	_, _, err := resolver.MintDashboardToken(&Identity{ProjectID: uuid.NewString()})
	assert.Error(t, err)
}
