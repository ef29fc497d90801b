// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reservation

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternsConflict reports whether two reservation patterns can match
// a common concrete path. Both literal paths and doublestar globs are
// handled:
//
//   - literal vs literal: cleaned-path equality
//   - pattern vs literal: the glob matches the literal
//   - pattern vs pattern: the static prefixes (everything before the
//     first metacharacter) are segment-compatible — one extends the
//     other, so some concrete path can satisfy both
//
// Pattern-vs-pattern intersection is over-approximate: "src/*.go" and
// "src/*.md" share the prefix "src/" and are reported as conflicting
// even though no path matches both. For an advisory mechanism a rare
// false conflict is the right failure direction; a false clear is not.
func PatternsConflict(a, b string) bool {
	a = normalizePattern(a)
	b = normalizePattern(b)

	aGlob := isGlob(a)
	bGlob := isGlob(b)

	switch {
	case !aGlob && !bGlob:
		return a == b
	case aGlob && !bGlob:
		return matchPath(a, b)
	case !aGlob && bGlob:
		return matchPath(b, a)
	default:
		return prefixesCompatible(staticPrefix(a), staticPrefix(b))
	}
}

// normalizePattern cleans a pattern for comparison: slash-separated,
// no leading "./", no trailing slash. Metacharacters survive
// path.Clean untouched.
func normalizePattern(pattern string) string {
	cleaned := path.Clean(strings.TrimPrefix(pattern, "./"))
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// isGlob reports whether the pattern contains doublestar
// metacharacters.
func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// matchPath runs a doublestar match, treating an invalid pattern as
// conflicting with everything: a claim we cannot interpret must not
// silently clear.
func matchPath(pattern, concrete string) bool {
	matched, err := doublestar.Match(pattern, concrete)
	if err != nil {
		return true
	}
	return matched
}

// staticPrefix returns the pattern's leading segments up to the first
// segment containing a metacharacter.
func staticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, segment := range segments {
		if isGlob(segment) {
			return strings.Join(segments[:i], "/")
		}
	}
	return pattern
}

// prefixesCompatible reports whether one slash-separated prefix
// extends the other, segment-aligned.
func prefixesCompatible(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return a == b || strings.HasPrefix(b, a+"/")
}
