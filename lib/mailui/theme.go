// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailui

import "github.com/charmbracelet/lipgloss"

// Theme collects the styles used by the viewer.
type Theme struct {
	Header     lipgloss.Style
	Selected   lipgloss.Style
	Unread     lipgloss.Style
	ReadRow    lipgloss.Style
	Urgent     lipgloss.Style
	StatusBar  lipgloss.Style
	ErrorLine  lipgloss.Style
	DetailMeta lipgloss.Style
}

// DefaultTheme uses the 256-color palette so it degrades cleanly on
// basic terminals.
var DefaultTheme = Theme{
	Header:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
	Selected:   lipgloss.NewStyle().Background(lipgloss.Color("236")).Bold(true),
	Unread:     lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true),
	ReadRow:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	Urgent:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	StatusBar:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Background(lipgloss.Color("237")),
	ErrorLine:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	DetailMeta: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}
