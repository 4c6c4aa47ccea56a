package util

import "path"

// MatchWildcard reports whether name matches the wildcard pattern.
// The pattern syntax is the same as path.Match: '*' matches any sequence
// of non-separator characters, '?' matches any single character, and
// '[...]' matches character ranges.
func MatchWildcard(pattern, name string) bool {
	matched, _ := path.Match(pattern, name)
	return matched
}

// FilterWildcard returns the names matching pattern, preserving order. An
// empty pattern matches everything.
func FilterWildcard(pattern string, names []string) []string {
	if pattern == "" {
		return names
	}
	var out []string
	for _, name := range names {
		if MatchWildcard(pattern, name) {
			out = append(out, name)
		}
	}
	return out
}
