// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/mailroom/lib/fuzzy"
	"github.com/bureau-foundation/mailroom/lib/mdterm"
	"github.com/bureau-foundation/mailroom/mail"
	"github.com/bureau-foundation/mailroom/store"
)

// pollInterval is the fallback refresh cadence when no signal watcher
// is available (or events are missed).
const pollInterval = 30 * time.Second

// FocusRegion identifies which pane has keyboard focus.
type FocusRegion int

const (
	// FocusList means navigation keys move the message list cursor.
	FocusList FocusRegion = iota
	// FocusDetail means navigation keys scroll the detail viewport.
	FocusDetail
)

// Config configures a Model.
type Config struct {
	// Source supplies inbox data. Required.
	Source Source

	// Signals, when non-nil, delivers refresh ticks from a signal
	// watcher. Polling continues regardless as a fallback.
	Signals <-chan struct{}

	// Title is shown in the header (typically "agent @ project").
	Title string
}

// Model is the bubbletea model for the inbox viewer.
type Model struct {
	source  Source
	signals <-chan struct{}
	title   string
	keys    KeyMap
	theme   Theme

	entries    []store.InboxEntry
	cursor     int
	unreadOnly bool
	focus      FocusRegion

	// visible indexes into entries after fuzzy filtering; the cursor
	// addresses visible, not entries.
	visible      []int
	filter       []rune
	filterActive bool
	slab         *fuzzy.Slab

	viewport viewport.Model
	width    int
	height   int

	status string
	err    error
}

// NewModel creates the viewer model.
func NewModel(cfg Config) Model {
	if cfg.Source == nil {
		panic("mailui.Model: Source is required")
	}
	return Model{
		source:     cfg.Source,
		signals:    cfg.Signals,
		title:      cfg.Title,
		keys:       DefaultKeyMap,
		theme:      DefaultTheme,
		unreadOnly: true,
		viewport:   viewport.New(0, 0),
		slab:       fuzzy.MakeSlab(),
	}
}

type entriesMsg []store.InboxEntry

type deliveryMsg mail.Delivery

type errMsg struct{ err error }

type signalMsg struct{}

type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.waitSignal(), tick())
}

func (m Model) fetch() tea.Cmd {
	source, unreadOnly := m.source, m.unreadOnly
	return func() tea.Msg {
		entries, err := source.Fetch(context.Background(), unreadOnly)
		if err != nil {
			return errMsg{err}
		}
		return entriesMsg(entries)
	}
}

func (m Model) waitSignal() tea.Cmd {
	if m.signals == nil {
		return nil
	}
	signals := m.signals
	return func() tea.Msg {
		if _, ok := <-signals; !ok {
			return nil
		}
		return signalMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.renderDetail()
		return m, nil

	case entriesMsg:
		m.entries = msg
		m.err = nil
		m.applyFilter()
		m.renderDetail()
		return m, nil

	case deliveryMsg:
		m.applyDelivery(mail.Delivery(msg))
		m.renderDetail()
		// Unread-only view: a read message drops out on next fetch.
		return m, m.fetch()

	case errMsg:
		m.err = msg.err
		return m, nil

	case signalMsg:
		return m, tea.Batch(m.fetch(), m.waitSignal())

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filterActive {
		return m.handleFilterKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.FilterActivate):
		m.filterActive = true
		return m, nil

	case key.Matches(msg, m.keys.FilterClear):
		if len(m.filter) > 0 {
			m.filter = nil
			m.applyFilter()
			m.renderDetail()
		}
		return m, nil

	case key.Matches(msg, m.keys.FocusToggle):
		if m.focus == FocusList {
			m.focus = FocusDetail
		} else {
			m.focus = FocusList
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()

	case key.Matches(msg, m.keys.ToggleRead):
		m.unreadOnly = !m.unreadOnly
		m.cursor = 0
		return m, m.fetch()

	case key.Matches(msg, m.keys.MarkRead):
		return m, m.flip(false)

	case key.Matches(msg, m.keys.Ack):
		return m, m.flip(true)
	}

	if m.focus == FocusDetail {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.PageUp):
		m.moveCursor(-m.listHeight())
	case key.Matches(msg, m.keys.PageDown):
		m.moveCursor(m.listHeight())
	case key.Matches(msg, m.keys.Home):
		m.cursor = 0
		m.renderDetail()
	case key.Matches(msg, m.keys.End):
		m.cursor = max(0, len(m.visible)-1)
		m.renderDetail()
	}
	return m, nil
}

// handleFilterKey routes keystrokes while the filter input is active.
// Enter keeps the filter and returns focus to the list; escape clears
// it.
func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filterActive = false
		return m, nil
	case tea.KeyEscape:
		m.filterActive = false
		m.filter = nil
	case tea.KeyBackspace:
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyRunes, tea.KeySpace:
		m.filter = append(m.filter, msg.Runes...)
	default:
		return m, nil
	}
	m.applyFilter()
	m.renderDetail()
	return m, nil
}

// applyFilter recomputes the visible index list. An empty filter shows
// everything in delivery order; otherwise entries are fuzzy-matched on
// sender and subject and kept in order.
func (m *Model) applyFilter() {
	m.visible = m.visible[:0]
	for i, entry := range m.entries {
		if len(m.filter) > 0 {
			text := entry.Message.Sender + " " + entry.Message.Subject
			if fuzzy.Match(text, m.filter, m.slab).Score <= 0 {
				continue
			}
		}
		m.visible = append(m.visible, i)
	}
	if m.cursor >= len(m.visible) {
		m.cursor = max(0, len(m.visible)-1)
	}
}

// selected returns the entry under the cursor, or nil.
func (m *Model) selected() *store.InboxEntry {
	if m.cursor >= len(m.visible) {
		return nil
	}
	return &m.entries[m.visible[m.cursor]]
}

func (m *Model) moveCursor(delta int) {
	m.cursor = min(max(0, m.cursor+delta), max(0, len(m.visible)-1))
	m.renderDetail()
}

func (m Model) flip(acknowledge bool) tea.Cmd {
	entry := m.selected()
	if entry == nil {
		return nil
	}
	source := m.source
	seq := entry.Message.Seq
	return func() tea.Msg {
		var delivery mail.Delivery
		var err error
		if acknowledge {
			delivery, err = source.Acknowledge(context.Background(), seq)
		} else {
			delivery, err = source.MarkRead(context.Background(), seq)
		}
		if err != nil {
			return errMsg{err}
		}
		return deliveryMsg(delivery)
	}
}

func (m *Model) applyDelivery(delivery mail.Delivery) {
	for i := range m.entries {
		if m.entries[i].Message.Seq == delivery.MessageSeq {
			m.entries[i].Delivery = delivery
			return
		}
	}
}

// listHeight is the number of rows available for the message list:
// header and status bar take one line each, the detail pane takes the
// rest below the separator.
func (m Model) listHeight() int {
	return max(3, (m.height-3)/2)
}

func (m *Model) layout() {
	m.viewport.Width = m.width
	m.viewport.Height = max(1, m.height-3-m.listHeight())
}

func (m *Model) renderDetail() {
	selected := m.selected()
	if selected == nil {
		m.viewport.SetContent("")
		return
	}
	entry := *selected
	width := max(20, m.width)

	var b strings.Builder
	b.WriteString(m.theme.DetailMeta.Render(fmt.Sprintf(
		"#%d  from %s  to %s  %s",
		entry.Message.Seq,
		entry.Message.Sender,
		strings.Join(entry.Message.Recipients, ", "),
		entry.Message.CreatedAt.Local().Format("Jan 2 15:04:05"),
	)))
	b.WriteString("\n")
	b.WriteString(m.theme.Header.Render(entry.Message.Subject))
	b.WriteString("\n\n")
	if entry.Message.Body != "" {
		b.WriteString(mdterm.Render(entry.Message.Body, mdterm.DefaultTheme, width))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoTop()
}

func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.theme.Header.Render(m.headerLine()))
	b.WriteString("\n")

	height := m.listHeight()
	top := 0
	if m.cursor >= height {
		top = m.cursor - height + 1
	}
	for i := top; i < min(len(m.visible), top+height); i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}
	for i := len(m.visible); i < top+height; i++ {
		b.WriteString("\n")
	}

	b.WriteString(strings.Repeat("─", max(0, m.width)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) headerLine() string {
	scope := "unread"
	if !m.unreadOnly {
		scope = "all"
	}
	line := fmt.Sprintf(" %s — %d messages (%s)", m.title, len(m.visible), scope)
	if len(m.filter) > 0 {
		line += fmt.Sprintf("  filter: %s", string(m.filter))
	}
	return line
}

func (m Model) renderRow(i int) string {
	entry := m.entries[m.visible[i]]
	marker := " "
	style := m.theme.ReadRow
	switch {
	case !entry.Delivery.Read:
		marker = "●"
		style = m.theme.Unread
	case entry.Message.AckRequired && !entry.Delivery.Acknowledged:
		marker = "!"
		style = m.theme.Urgent
	}
	if entry.Message.Importance == mail.ImportanceUrgent {
		style = m.theme.Urgent
	}

	row := fmt.Sprintf(" %s #%-5d %-12s %s",
		marker, entry.Message.Seq, truncate(entry.Message.Sender, 12),
		truncate(entry.Message.Subject, max(10, m.width-26)))
	if i == m.cursor {
		return m.theme.Selected.Render(row)
	}
	return style.Render(row)
}

func (m Model) statusLine() string {
	if m.filterActive {
		return m.theme.StatusBar.Render(" /" + string(m.filter) + "▌  (enter keeps, esc clears)")
	}
	if m.err != nil {
		return m.theme.ErrorLine.Render(" error: " + m.err.Error())
	}
	help := " j/k move · tab pane · m read · a ack · u unread · / filter · r refresh · q quit"
	if m.status != "" {
		help = " " + m.status
	}
	return m.theme.StatusBar.Render(help)
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}
