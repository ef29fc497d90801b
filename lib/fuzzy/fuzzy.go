// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzzy wraps fzf's fuzzy matching algorithm for interactive
// filtering in the watch TUI. It fixes the knobs Mailroom wants
// everywhere (case-insensitive, latin normalization, forward scan) and
// exposes a result type that carries both the score and the matched
// rune positions for highlighting.
package fuzzy

import (
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

func init() {
	// Populates the algorithm's character-class and bonus tables.
	// Without this, every match scores zero.
	algo.Init("default")
}

// Slab is scratch memory for the matcher. Type alias so consumers
// import only lib/fuzzy, not fzf's util directly.
type Slab = util.Slab

// MakeSlab allocates a slab sized the way fzf sizes its own. Reuse one
// slab per goroutine across many Match calls; passing nil works but
// allocates per call.
func MakeSlab() *Slab {
	return util.MakeSlab(100*1024, 2048)
}

// Result holds the outcome of a fuzzy match. Score is positive for a
// match and zero otherwise. Positions lists the rune indexes of text
// that matched the pattern, for highlighting.
type Result struct {
	Score     int
	Positions []int
}

// Match runs fzf's FuzzyMatchV2 over text. The pattern is lowercased
// before matching, which combined with case-insensitive mode makes
// "mcp" match "MCP SERVER CONFIG". An empty pattern scores zero.
func Match(text string, pattern []rune, slab *Slab) Result {
	if len(pattern) == 0 {
		return Result{}
	}

	lowered := make([]rune, len(pattern))
	for i, r := range pattern {
		lowered[i] = unicode.ToLower(r)
	}

	chars := util.ToChars([]byte(text))
	match, positions := algo.FuzzyMatchV2(false, true, true, &chars, lowered, true, slab)
	if match.Score <= 0 {
		return Result{}
	}

	result := Result{Score: match.Score}
	if positions != nil {
		result.Positions = *positions
	}
	return result
}
