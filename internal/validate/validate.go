// Package validate holds the input validators shared across handlers.
// Validator errors carry the user-facing message; the API layer maps
// them to 422.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxAliasLength bounds workspace aliases.
	MaxAliasLength = 64
	// MaxHumanNameLength bounds display names.
	MaxHumanNameLength = 128
	// MaxBranchLength bounds git branch names.
	MaxBranchLength = 255
	// MaxSlugLength bounds project slugs.
	MaxSlugLength = 256
)

var (
	aliasRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
	slugRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	// Bead IDs are optionally namespaced "repo:bead-id"; each part is
	// alphanumeric with hyphens/underscores, 1-100 chars.
	beadIDPart = `[a-zA-Z0-9][a-zA-Z0-9_-]{0,99}`
	beadIDRe   = regexp.MustCompile(`^(` + beadIDPart + `:)?` + beadIDPart + `$`)
	branchRe   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)
	// Canonical origins are lowercase host/path, e.g. "github.com/acme/api".
	canonicalOriginRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*(/[a-z0-9._-]+)+$`)
)

// WorkspaceID validates and normalises a workspace ID (a UUID).
func WorkspaceID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid workspace_id: must be a UUID")
	}
	return id.String(), nil
}

// ProjectID validates and normalises a project ID (a UUID).
func ProjectID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid project_id: must be a UUID")
	}
	return id.String(), nil
}

// AliasErrMessage is the user-facing alias validation failure text.
const AliasErrMessage = "Invalid alias: must be alphanumeric with hyphens/underscores, 1-64 chars"

// Alias reports whether s is a valid workspace alias.
func Alias(s string) bool {
	return aliasRe.MatchString(s)
}

// AliasErr validates an alias, returning the user-facing message on failure.
func AliasErr(s string) error {
	if !Alias(s) {
		return fmt.Errorf("%s", AliasErrMessage)
	}
	return nil
}

// CanonicalOrigin validates an already-canonicalized repo origin of
// the form "host/owner/repo" and returns it unchanged.
func CanonicalOrigin(s string) (string, error) {
	if s == "" || len(s) > 255 {
		return "", fmt.Errorf("invalid canonical origin length")
	}
	if !canonicalOriginRe.MatchString(s) {
		return "", fmt.Errorf("invalid canonical origin format")
	}
	return s, nil
}

// BeadID reports whether s is a valid, optionally repo-namespaced bead ID.
func BeadID(s string) bool {
	return beadIDRe.MatchString(s)
}

// Branch reports whether s is a valid git branch name for our purposes.
func Branch(s string) bool {
	if s == "" || len(s) > MaxBranchLength {
		return false
	}
	if strings.Contains(s, "..") || strings.HasSuffix(s, "/") {
		return false
	}
	return branchRe.MatchString(s)
}

// HumanName validates a display name.
func HumanName(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fmt.Errorf("human_name must not be empty")
	}
	if len(trimmed) > MaxHumanNameLength {
		return fmt.Errorf("human_name too long: max %d chars", MaxHumanNameLength)
	}
	return nil
}

// Slug validates a project slug.
func Slug(s string) error {
	if s == "" || len(s) > MaxSlugLength {
		return fmt.Errorf("invalid project slug: 1-%d chars required", MaxSlugLength)
	}
	if !slugRe.MatchString(s) {
		return fmt.Errorf("invalid project slug: lowercase alphanumeric with . _ - only")
	}
	return nil
}
