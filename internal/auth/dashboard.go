package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// DashboardTokenTTL bounds dashboard session tokens.
const DashboardTokenTTL = 12 * time.Hour

// DashboardClaims is the JWT payload minted for browser dashboards
// that cannot attach Authorization headers to EventSource/WebSocket
// connections.
type DashboardClaims struct {
	ProjectID    string `json:"project_id"`
	WorkspaceID  string `json:"workspace_id,omitempty"`
	PublicReader bool   `json:"public,omitempty"`
	jwt.RegisteredClaims
}

// MintDashboardToken issues a short-lived HS256 session token scoped
// to the given identity.
func (a *Resolver) MintDashboardToken(id *Identity) (string, time.Time, error) {
	if a.jwtSecret == "" {
		return "", time.Time{}, fmt.Errorf("jwt_secret is not configured")
	}

	now := time.Now().UTC()
	expires := now.Add(DashboardTokenTTL)
	claims := &DashboardClaims{
		ProjectID:    id.ProjectID,
		WorkspaceID:  id.AgentID,
		PublicReader: id.PublicReader,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "beadhub",
			Subject:   id.AgentID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.jwtSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign dashboard token: %w", err)
	}
	return signed, expires, nil
}

// VerifyDashboardToken validates a session token and returns the
// embedded identity in proxy mode (the binding was done at mint time).
func (a *Resolver) VerifyDashboardToken(tokenString string) (*Identity, error) {
	claims := &DashboardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil || !token.Valid || claims.ProjectID == "" {
		return nil, httperr.Unauthorized()
	}

	return &Identity{
		ProjectID:    claims.ProjectID,
		AgentID:      claims.WorkspaceID,
		AuthMode:     ModeProxy,
		PublicReader: claims.PublicReader,
	}, nil
}
