package db

import (
	"strings"
)

// NormalizeUID applies the platform normalization rule to one raw import
// line. It returns the canonical UID and whether the line is usable.
//
// Rules: surrounding whitespace is trimmed; pure numeric IDs pass through;
// facebook.com links reduce to the profile.php?id= value or the trailing
// path segment; anything with interior whitespace is rejected. The result
// is case-folded so "ABC" and "abc" collide as duplicates.
func NormalizeUID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if isDigits(s) {
		return s, true
	}

	lower := strings.ToLower(s)
	if strings.Contains(lower, "facebook.com") {
		if id, ok := profileIDFromURL(lower); ok {
			return id, true
		}
		return "", false
	}

	if strings.ContainsAny(s, " \t") || strings.ContainsAny(lower, ":/") {
		return "", false
	}
	return lower, true
}

// SkipImportLine reports whether an import line is neither a UID nor an
// error: blank lines and # comments.
func SkipImportLine(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || strings.HasPrefix(s, "#")
}

// importCandidate is one normalized line staged for insertion.
type importCandidate struct {
	raw  string
	norm string
}

// classifyImport is the pre-insert pass over raw import lines: skippable
// lines are dropped, unusable lines collected as invalid, and repeats of a
// normalized UID within the batch counted as duplicates. Duplicates against
// already-stored records surface later through the insert's conflict clause.
func classifyImport(rawLines []string) (candidates []importCandidate, duplicates int, invalid []string) {
	seen := make(map[string]bool)
	for _, line := range rawLines {
		if SkipImportLine(line) {
			continue
		}
		norm, ok := NormalizeUID(line)
		if !ok {
			invalid = append(invalid, line)
			continue
		}
		if seen[norm] {
			duplicates++
			continue
		}
		seen[norm] = true
		candidates = append(candidates, importCandidate{raw: line, norm: norm})
	}
	return candidates, duplicates, invalid
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func profileIDFromURL(lower string) (string, bool) {
	if strings.Contains(lower, "profile.php") {
		_, after, found := strings.Cut(lower, "id=")
		if !found {
			return "", false
		}
		id, _, _ := strings.Cut(after, "&")
		if id == "" {
			return "", false
		}
		return id, true
	}
	trimmed := strings.TrimRight(lower, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return "", false
	}
	username, _, _ := strings.Cut(trimmed[idx+1:], "?")
	if username == "" || strings.Contains(username, "facebook.com") {
		return "", false
	}
	return username, true
}
