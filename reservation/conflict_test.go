// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reservation_test

import (
	"testing"

	"github.com/bureau-foundation/mailroom/reservation"
)

func TestPatternsConflict(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		// Literal vs literal.
		{"src/foo.py", "src/foo.py", true},
		{"src/foo.py", "src/bar.py", false},
		{"./src/foo.py", "src/foo.py", true},

		// Pattern vs literal, both directions.
		{"src/*", "src/foo.py", true},
		{"src/foo.py", "src/*", true},
		{"src/*.go", "src/foo.py", false},
		{"src/**/*.go", "src/deep/nested/thing.go", true},
		{"src/*", "lib/foo.py", false},
		{"**", "anything/at/all", true},

		// Pattern vs pattern: static prefix compatibility.
		{"src/**", "src/parser/*.go", true},
		{"src/**", "docs/*.md", false},
		{"src/parser/*", "src/**", true},
		{"*", "docs/*.md", true},

		// Prefixes must align on segment boundaries.
		{"src/*", "srcfiles/*", false},
	}
	for _, tc := range cases {
		if got := reservation.PatternsConflict(tc.a, tc.b); got != tc.want {
			t.Errorf("PatternsConflict(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
		// Detection is symmetric.
		if got := reservation.PatternsConflict(tc.b, tc.a); got != tc.want {
			t.Errorf("PatternsConflict(%q, %q) = %v, want %v (symmetry)", tc.b, tc.a, got, tc.want)
		}
	}
}
