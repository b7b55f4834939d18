package policy

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchTable reports whether a table path matches a pattern. Matching is
// case-insensitive and segment-wise: both must have the same number of
// segments, and each pattern segment is a glob matched against exactly one
// table segment ("*" matches any single segment, "fact_*" a prefix).
func MatchTable(pattern, table []string) bool {
	if len(pattern) != len(table) {
		return false
	}
	for i := range pattern {
		if !matchSegment(pattern[i], table[i]) {
			return false
		}
	}
	return true
}

// MatchColumn reports whether a column name matches a glob pattern,
// case-insensitively.
func MatchColumn(pattern, column string) bool {
	return matchSegment(pattern, column)
}

func matchSegment(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := doublestar.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}
