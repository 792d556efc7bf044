// Package names suggests alias prefixes for new workspaces.
package names

import "strings"

// classicNames is the pool of friendly alias prefixes handed out to
// new agents, in preference order.
var classicNames = []string{
	"ada", "grace", "alan", "edsger", "donald", "barbara", "dennis",
	"ken", "bjarne", "guido", "linus", "margaret", "katherine", "radia",
	"vint", "tim", "john", "claude", "kurt", "alonzo", "haskell",
	"niklaus", "tony", "leslie", "robin", "frances", "jean", "betty",
	"marlyn", "kathleen", "ruth", "adele", "evelyn", "ida", "hedy",
}

// maxNumberedVariant bounds the numbered fallback (ada-01 .. ada-99).
const maxNumberedVariant = 99

// SuggestPrefix returns the first available classic name, trying base
// names first and numbered variants (ada-01, grace-01, ...) after the
// pool is exhausted. ok is false when every variant is taken.
func SuggestPrefix(taken map[string]bool) (string, bool) {
	for _, name := range classicNames {
		if !taken[name] {
			return name, true
		}
	}
	for num := 1; num <= maxNumberedVariant; num++ {
		for _, name := range classicNames {
			candidate := name + "-" + pad2(num)
			if !taken[candidate] {
				return candidate, true
			}
		}
	}
	return "", false
}

// PrefixOf extracts the name prefix from an alias. "ada-programmer"
// yields "ada"; "ada-01-programmer" yields "ada-01"; a bare name is
// its own prefix.
func PrefixOf(alias string) string {
	parts := strings.Split(alias, "-")
	if len(parts) >= 2 && isDigits(parts[1]) {
		return strings.ToLower(parts[0] + "-" + parts[1])
	}
	return strings.ToLower(parts[0])
}

// PoolSize reports how many base names exist.
func PoolSize() int { return len(classicNames) }

// Pool returns a copy of the classic name pool.
func Pool() []string {
	out := make([]string, len(classicNames))
	copy(out, classicNames)
	return out
}

func pad2(n int) string {
	if n < 10 {
		return "0" + string(rune('0'+n))
	}
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
