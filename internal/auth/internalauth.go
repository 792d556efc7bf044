package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/jordanhubbard/beadhub/internal/httperr"
)

// Proxy context headers. The wrapper authenticates the caller and
// injects project scope; the core trusts the headers only when
// X-BH-Auth validates against the shared secret.
const (
	InternalAuthHeader     = "X-BH-Auth"
	InternalProjectHeader  = "X-Project-ID"
	InternalUserHeader     = "X-User-ID"
	InternalAPIKeyIDHeader = "X-API-Key"
	InternalPublicHeader   = "X-Public-ID"
	InternalActorIDHeader  = "X-Aweb-Actor-ID"
)

// InternalContext is the validated proxy-injected auth context.
type InternalContext struct {
	ProjectID     string
	PrincipalType string // "u", "k", or "p"
	PrincipalID   string
	ActorID       string
}

// SignInternalContext computes the full X-BH-Auth header value for a
// context: the v2 payload followed by its hex HMAC-SHA256 signature.
func SignInternalContext(secret, projectID, principalType, principalID, actorID string) string {
	msg := fmt.Sprintf("v2:%s:%s:%s:%s", projectID, principalType, principalID, actorID)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return msg + ":" + hex.EncodeToString(mac.Sum(nil))
}

// ParseInternalContext validates proxy-injected auth headers.
// Returns (nil, nil) when the request carries no proxy context or when
// no secret is configured; client-supplied internal headers are never
// trusted without a secret.
func ParseInternalContext(r *http.Request, secret string) (*InternalContext, error) {
	supplied := r.Header.Get(InternalAuthHeader)
	if supplied == "" {
		return nil, nil
	}

	if secret == "" {
		log.Printf("[Auth] ignoring %s header: internal auth secret is not configured (path=%s)",
			InternalAuthHeader, r.URL.Path)
		return nil, nil
	}

	projectID, err := requireUUIDHeader(r, InternalProjectHeader)
	if err != nil {
		return nil, err
	}

	var principalType, principalID string
	switch {
	case r.Header.Get(InternalUserHeader) != "":
		principalType = PrincipalUser
		principalID, err = requireUUIDHeader(r, InternalUserHeader)
	case r.Header.Get(InternalAPIKeyIDHeader) != "":
		principalType = PrincipalAPIKey
		principalID, err = requireUUIDHeader(r, InternalAPIKeyIDHeader)
	case r.Header.Get(InternalPublicHeader) != "":
		principalType = PrincipalPublic
		principalID, err = requireUUIDHeader(r, InternalPublicHeader)
	default:
		return nil, httperr.Unauthorized()
	}
	if err != nil {
		return nil, err
	}

	actorID := ""
	if principalType != PrincipalPublic {
		actorID, err = requireUUIDHeader(r, InternalActorIDHeader)
		if err != nil {
			return nil, err
		}
	} else if raw := r.Header.Get(InternalActorIDHeader); raw != "" {
		actorID, err = requireUUIDHeader(r, InternalActorIDHeader)
		if err != nil {
			return nil, err
		}
	}

	expected := SignInternalContext(secret, projectID, principalType, principalID, actorID)
	if !hmac.Equal([]byte(supplied), []byte(expected)) {
		return nil, httperr.Unauthorized()
	}

	return &InternalContext{
		ProjectID:     projectID,
		PrincipalType: principalType,
		PrincipalID:   principalID,
		ActorID:       actorID,
	}, nil
}

func requireUUIDHeader(r *http.Request, name string) (string, error) {
	raw := r.Header.Get(name)
	if raw == "" {
		return "", httperr.Unauthorized()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", httperr.Unauthorized()
	}
	return id.String(), nil
}
