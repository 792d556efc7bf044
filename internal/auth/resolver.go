package auth

import (
	"net/http"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// Resolver turns incoming requests into identities. Priority order:
// validated proxy context first, then the local bearer path.
type Resolver struct {
	db             *database.Database
	internalSecret string
	jwtSecret      string
}

// NewResolver creates a request identity resolver.
func NewResolver(db *database.Database, internalSecret, jwtSecret string) *Resolver {
	return &Resolver{db: db, internalSecret: internalSecret, jwtSecret: jwtSecret}
}

// GetIdentity resolves the caller's identity or fails with 401.
func (a *Resolver) GetIdentity(r *http.Request) (*Identity, error) {
	internal, err := ParseInternalContext(r, a.internalSecret)
	if err != nil {
		return nil, err
	}
	if internal != nil {
		id := &Identity{
			ProjectID:    internal.ProjectID,
			AgentID:      internal.ActorID,
			AuthMode:     ModeProxy,
			PublicReader: internal.PrincipalType == PrincipalPublic,
		}
		switch internal.PrincipalType {
		case PrincipalAPIKey:
			id.APIKeyID = internal.PrincipalID
		case PrincipalUser:
			id.UserID = internal.PrincipalID
		}
		return id, nil
	}

	token := ParseBearerToken(r)
	if token == "" {
		// Dashboard session tokens are accepted where headers are
		// unavailable (SSE / WebSocket from a browser).
		if qt := r.URL.Query().Get("token"); qt != "" && a.jwtSecret != "" {
			return a.VerifyDashboardToken(qt)
		}
		return nil, httperr.Unauthorized()
	}
	return VerifyBearer(r.Context(), a.db, token)
}

// GetProjectID resolves just the tenant scope of the caller.
func (a *Resolver) GetProjectID(r *http.Request) (string, error) {
	id, err := a.GetIdentity(r)
	if err != nil {
		return "", err
	}
	return id.ProjectID, nil
}

// IsPublicReader reports whether the request is from a redacted
// public principal. Resolution failures count as not-public; the
// caller's own auth check will surface them.
func (a *Resolver) IsPublicReader(r *http.Request) bool {
	id, err := a.GetIdentity(r)
	return err == nil && id.PublicReader
}

// ParseBearerToken extracts the bearer token from the Authorization
// header, or "" when absent.
func ParseBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
