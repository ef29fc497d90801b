// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mdterm

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors used when rendering a message body. All
// colors use lipgloss ANSI 256-color codes for broad terminal
// compatibility.
type Theme struct {
	// Text is the color for ordinary prose.
	Text lipgloss.Color

	// Faint is used for secondary content: code spans, unhighlighted
	// code blocks, image placeholders, stripped HTML.
	Faint lipgloss.Color

	// Heading is the color for level-1 and level-2 headings. Deeper
	// headings render bold in the Text color.
	Heading lipgloss.Color

	// Rule is used for thematic breaks and table separators.
	Rule lipgloss.Color

	// Done is the color for checked task-list boxes.
	Done lipgloss.Color

	// Link is the color for URLs and autolinks.
	Link lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme, designed
// for 256-color terminals with a dark background.
var DefaultTheme = Theme{
	Text:    lipgloss.Color("252"),
	Faint:   lipgloss.Color("245"),
	Heading: lipgloss.Color("255"),
	Rule:    lipgloss.Color("240"),
	Done:    lipgloss.Color("114"),
	Link:    lipgloss.Color("75"),
}
