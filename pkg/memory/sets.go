package memory

import "strings"

// StringSetEqual compares two string slices as sets: order and duplicates
// are ignored. Used for set-valued observation fields (concepts, files).
func StringSetEqual(a, b []string) bool {
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s] = 1
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			return false
		}
		seen[s] = 2
	}
	for _, v := range seen {
		if v != 2 {
			return false
		}
	}
	return true
}

// DedupeStrings returns s with duplicates removed, preserving first-seen
// order. Comparison is exact.
func DedupeStrings(s []string) []string {
	seen := make(map[string]bool, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NormalizeName lowercases and trims an entity name for case-insensitive
// (type, name) addressing.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
