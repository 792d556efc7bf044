// Package auth resolves every request to a tenant-scoped identity.
// Two paths exist: the default bearer path (aw_sk_ API keys) and the
// trusted-proxy path (HMAC-signed internal context headers).
package auth

const (
	// ModeBearer marks identities resolved from an aw_sk_ API key.
	ModeBearer = "bearer"
	// ModeProxy marks identities resolved from signed proxy headers.
	ModeProxy = "proxy"
)

// Principal types carried by the proxy context.
const (
	PrincipalUser      = "u"
	PrincipalAPIKey    = "k"
	PrincipalPublic    = "p" // read-only, redacted, public projects only
)

// Identity is the resolved caller context attached to each request.
type Identity struct {
	ProjectID string
	AgentID   string // empty for user/public principals
	APIKeyID  string
	UserID    string
	AuthMode  string
	// PublicReader marks a redacted read-only principal; only valid
	// in proxy mode.
	PublicReader bool
}

// IsProxy reports whether the identity came through the trusted proxy.
func (id *Identity) IsProxy() bool {
	return id.AuthMode == ModeProxy
}
