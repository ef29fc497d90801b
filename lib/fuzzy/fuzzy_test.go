// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzy_test

import (
	"sort"
	"testing"

	"github.com/bureau-foundation/mailroom/lib/fuzzy"
)

func TestMatchSubstring(t *testing.T) {
	result := fuzzy.Match("Blocked on schema review", []rune("schema"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for substring match")
	}
	if len(result.Positions) == 0 {
		t.Fatal("expected non-empty match positions")
	}
}

func TestMatchNonContiguous(t *testing.T) {
	// "srw" should match "schema review" — s from schema, r from
	// review, w from review.
	result := fuzzy.Match("schema review", []rune("srw"), nil)
	if result.Score <= 0 {
		t.Fatal("expected positive score for non-contiguous fuzzy match")
	}
}

func TestMatchNoMatch(t *testing.T) {
	result := fuzzy.Match("Blocked on schema review", []rune("xyzq"), nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for no match, got %d", result.Score)
	}
	if len(result.Positions) != 0 {
		t.Errorf("expected empty positions for no match, got %v", result.Positions)
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	result := fuzzy.Match("Blocked On Schema Review", []rune("schema"), nil)
	if result.Score <= 0 {
		t.Fatalf("expected case-insensitive match, got score=%d", result.Score)
	}
}

func TestMatchCaseInsensitiveAllCaps(t *testing.T) {
	result := fuzzy.Match("URGENT: CI BROKEN", []rune("urgent"), nil)
	if result.Score <= 0 {
		t.Fatalf("expected match for 'urgent' in all-caps text, got score=%d", result.Score)
	}
}

func TestMatchEmptyPattern(t *testing.T) {
	result := fuzzy.Match("anything", []rune{}, nil)
	if result.Score != 0 {
		t.Errorf("expected zero score for empty pattern, got %d", result.Score)
	}
}

func TestMatchPositionsWithinText(t *testing.T) {
	text := "release checklist for sprint nine"
	result := fuzzy.Match(text, []rune("rcs"), nil)
	if result.Score <= 0 {
		t.Fatal("expected match")
	}
	runeCount := len([]rune(text))
	for _, position := range result.Positions {
		if position < 0 || position >= runeCount {
			t.Errorf("position %d outside text of %d runes", position, runeCount)
		}
	}
}

func TestMatchSlabReuse(t *testing.T) {
	slab := fuzzy.MakeSlab()
	texts := []string{
		"Blocked on schema review",
		"URGENT: CI BROKEN",
		"release checklist for sprint nine",
	}
	for _, text := range texts {
		first := fuzzy.Match(text, []rune("re"), slab)
		second := fuzzy.Match(text, []rune("re"), slab)
		if first.Score != second.Score {
			t.Errorf("%q: score changed across slab reuse: %d then %d",
				text, first.Score, second.Score)
		}
	}
}

func TestMatchRanking(t *testing.T) {
	// A word-boundary match should outrank a scattered match, which is
	// what the watch TUI relies on for ordering.
	subjects := []string{
		"deploy plan for friday",
		"dependency list overhaul",
	}
	scores := make(map[string]int, len(subjects))
	for _, subject := range subjects {
		scores[subject] = fuzzy.Match(subject, []rune("deploy"), nil).Score
	}

	sorted := append([]string(nil), subjects...)
	sort.Slice(sorted, func(i, j int) bool {
		return scores[sorted[i]] > scores[sorted[j]]
	})
	if sorted[0] != "deploy plan for friday" {
		t.Errorf("ranking = %v with scores %v, want exact word first", sorted, scores)
	}
}
