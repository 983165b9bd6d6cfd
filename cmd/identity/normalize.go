package identity

import (
	"slices"
	"strings"
)

// NormalizeEmail performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeScopes trims, drops empties and duplicates, and sorts.
// Scopes never contain spaces because the JWT "scope" claim is space-delimited.
func NormalizeScopes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || strings.ContainsAny(s, " \t\n") {
			continue
		}
		out = append(out, s)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
