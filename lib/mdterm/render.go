// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mdterm

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// wrapBreakpoints are the characters ansi.Wrap may break a line at, in
// addition to spaces.
const wrapBreakpoints = " ,.;-+|"

// parserInstance is initialized once and reused. The parser
// configuration never changes and the goldmark Parser is safe to
// share — actual parsing creates per-call state via Parse(reader).
var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func parser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return parserInstance
}

// Render parses a markdown message body and renders it as styled
// terminal output wrapped to width. Soft line breaks (single newlines
// within paragraphs) become spaces so hard-wrapped source reflows
// correctly at any terminal width. Code blocks, lists, and other
// structural elements keep their formatting.
func Render(input string, theme Theme, width int) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := parser().Parser().Parse(text.NewReader(source))

	// Force the ANSI256 color profile: this output is always for
	// terminal display, so auto-detection (which produces uncolored
	// output when stdout is not a TTY, as in tests and pipelines)
	// is bypassed. SetColorProfile is required because
	// lipgloss.Renderer.ColorProfile() re-detects from the environment
	// unless an explicit profile is set.
	styles := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	styles.SetColorProfile(termenv.ANSI256)

	r := &renderer{
		source: source,
		theme:  theme,
		width:  width,
		styles: styles,
	}
	ast.Walk(document, r.walk)

	return strings.TrimRight(r.output.String(), "\n")
}

// renderer walks a goldmark AST and produces styled terminal text. It
// uses a direct ast.Walk rather than goldmark's renderer interface
// because terminal rendering needs accumulate-then-wrap semantics:
// paragraph inline content collects in a buffer and gets word-wrapped
// as a unit when the paragraph closes. Goldmark's streaming
// NodeRendererFunc callbacks don't fit this pattern without the
// intermediate-buffer gymnastics glamour uses.
type renderer struct {
	source []byte
	theme  Theme
	width  int

	// Final rendered output.
	output strings.Builder

	// Inline accumulator: collects styled text fragments within a
	// paragraph, heading, or other inline-containing block. Flushed
	// with word-wrap when the containing block closes.
	inline strings.Builder

	// Prefix stack for nested block containers (blockquotes, lists).
	prefixStack     []prefixFrame
	linePrefix      string // Concatenation of all prefix texts.
	linePrefixWidth int    // Sum of all visible prefix widths.

	// Pending bullet: replaces linePrefix for the very next emitted
	// line, then clears. Used for list item bullets/numbers.
	pendingBullet string

	// Inline style counters: incremented by Emphasis/Strikethrough
	// entering, decremented on leaving. Text nodes read these to
	// determine the current style. Counters (not booleans) handle
	// nested emphasis correctly.
	boldCount          int
	italicCount        int
	strikethroughCount int

	// List nesting state.
	listStack []listFrame

	// lipgloss renderer with forced color profile for ANSI output.
	styles *lipgloss.Renderer

	// Trailing newlines at end of output, for blank line management.
	trailingNewlines int
}

type prefixFrame struct {
	text  string
	width int
}

type listFrame struct {
	ordered bool
	counter int
	tight   bool
}

// newStyle creates a lipgloss style using the forced color profile,
// ensuring ANSI output regardless of terminal detection.
func (r *renderer) newStyle() lipgloss.Style {
	return r.styles.NewStyle()
}

// contentWidth returns the available width after accounting for all
// nesting prefixes. Clamped to a minimum of 10 to prevent degenerate
// wrapping.
func (r *renderer) contentWidth() int {
	width := r.width - r.linePrefixWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (r *renderer) pushPrefix(prefixText string, visibleWidth int) {
	r.prefixStack = append(r.prefixStack, prefixFrame{
		text:  prefixText,
		width: visibleWidth,
	})
	r.linePrefix += prefixText
	r.linePrefixWidth += visibleWidth
}

func (r *renderer) popPrefix() {
	if len(r.prefixStack) == 0 {
		return
	}
	top := r.prefixStack[len(r.prefixStack)-1]
	r.prefixStack = r.prefixStack[:len(r.prefixStack)-1]
	r.linePrefix = r.linePrefix[:len(r.linePrefix)-len(top.text)]
	r.linePrefixWidth -= top.width
}

func (r *renderer) inTightList() bool {
	if len(r.listStack) == 0 {
		return false
	}
	return r.listStack[len(r.listStack)-1].tight
}

// write appends text to the output buffer, tracking trailing newlines
// for blank line management.
func (r *renderer) write(s string) {
	if s == "" {
		return
	}
	r.output.WriteString(s)

	newTrailing := 0
	entirelyNewlines := true
	for index := len(s) - 1; index >= 0; index-- {
		if s[index] == '\n' {
			newTrailing++
		} else {
			entirelyNewlines = false
			break
		}
	}

	// A string of pure newlines extends the existing trailing count;
	// any non-newline character resets it.
	if entirelyNewlines {
		r.trailingNewlines += newTrailing
	} else {
		r.trailingNewlines = newTrailing
	}
}

func (r *renderer) ensureNewline() {
	if r.trailingNewlines < 1 {
		r.write("\n")
	}
}

func (r *renderer) ensureBlankLine() {
	for r.trailingNewlines < 2 {
		r.write("\n")
	}
}

// takeLinePrefix returns the prefix for the current line. If a pending
// bullet is set, returns and clears it (used for the first line of a
// list item). Otherwise returns the regular line prefix.
func (r *renderer) takeLinePrefix() string {
	if r.pendingBullet != "" {
		bullet := r.pendingBullet
		r.pendingBullet = ""
		return bullet
	}
	return r.linePrefix
}

// withPrefixes prepends the appropriate line prefix to each line of
// content. The first line uses the pending bullet (if set), subsequent
// lines use the regular line prefix.
func (r *renderer) withPrefixes(content string) string {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	for index, line := range lines {
		if index == 0 {
			result.WriteString(r.takeLinePrefix())
		} else {
			result.WriteString(r.linePrefix)
		}
		result.WriteString(line)
		if index < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}

// flushInline word-wraps the accumulated inline content to the current
// width, applies line prefixes, and returns the result. Resets the
// inline buffer.
func (r *renderer) flushInline() string {
	content := r.inline.String()
	r.inline.Reset()
	if content == "" {
		return ""
	}

	content = ansi.Wrap(content, r.contentWidth(), wrapBreakpoints)
	return r.withPrefixes(content)
}

// styledText applies the current inline style (bold, italic,
// strikethrough) to a text string.
func (r *renderer) styledText(content string) string {
	style := r.newStyle().Foreground(r.theme.Text)
	if r.boldCount > 0 {
		style = style.Bold(true)
	}
	if r.italicCount > 0 {
		style = style.Italic(true)
	}
	if r.strikethroughCount > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// inlineContent walks a node's children to collect inline content into
// a string. Saves and restores the inline buffer and style state so
// the caller's context is unaffected.
func (r *renderer) inlineContent(node ast.Node) string {
	savedInline := r.inline.String()
	savedBold := r.boldCount
	savedItalic := r.italicCount
	savedStrikethrough := r.strikethroughCount

	r.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, r.walk)
	}
	result := r.inline.String()

	r.inline.Reset()
	r.inline.WriteString(savedInline)
	r.boldCount = savedBold
	r.italicCount = savedItalic
	r.strikethroughCount = savedStrikethrough

	return result
}

// highlightCode uses Chroma to syntax-highlight code. Returns
// ANSI-styled text on success, or Faint-styled plain text on failure
// (unknown language, Chroma error).
func (r *renderer) highlightCode(code, language string) string {
	if language == "" {
		return r.newStyle().Foreground(r.theme.Faint).Render(code)
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, "terminal256", "monokai"); err != nil {
		return r.newStyle().Foreground(r.theme.Faint).Render(code)
	}
	return buffer.String()
}

// --- AST walk dispatcher ---

func (r *renderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {

	// Block nodes.
	case ast.KindDocument:
		// No action on entering or leaving.

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			r.inline.Reset()
		} else {
			flushed := r.flushInline()
			if flushed != "" {
				r.write(flushed)
				r.ensureNewline()
				if !r.inTightList() {
					r.ensureBlankLine()
				}
			}
		}

	case ast.KindHeading:
		if entering {
			r.inline.Reset()
		} else {
			r.leaveHeading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			r.writeFencedCode(node.(*ast.FencedCodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			r.writeIndentedCode(node.(*ast.CodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			r.pushPrefix("│ ", 2)
		} else {
			r.popPrefix()
			r.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			r.enterList(node.(*ast.List))
		} else {
			r.leaveList()
		}

	case ast.KindListItem:
		if entering {
			r.enterListItem()
		} else {
			r.leaveListItem()
		}

	case ast.KindThematicBreak:
		if entering {
			r.writeRule()
		}

	case ast.KindHTMLBlock:
		if entering {
			r.writeHTMLBlock(node.(*ast.HTMLBlock))
			return ast.WalkSkipChildren, nil
		}

	// Inline nodes.
	case ast.KindText:
		if entering {
			r.appendText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			str := node.(*ast.String)
			r.inline.WriteString(r.styledText(string(str.Value)))
		}

	case ast.KindEmphasis:
		r.toggleEmphasis(node.(*ast.Emphasis), entering)

	case ast.KindCodeSpan:
		if entering {
			r.appendCodeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			r.appendLink(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			r.appendAutoLink(node.(*ast.AutoLink))
		}

	case ast.KindImage:
		if entering {
			r.appendImage(node.(*ast.Image))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			r.appendRawHTML(node.(*ast.RawHTML))
		}

	// GFM extension nodes.
	case extast.KindStrikethrough:
		if entering {
			r.strikethroughCount++
		} else {
			r.strikethroughCount--
		}

	case extast.KindTable:
		if entering {
			r.writeTable(node)
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			checkbox := node.(*extast.TaskCheckBox)
			if checkbox.IsChecked {
				done := r.newStyle().Foreground(r.theme.Done)
				r.inline.WriteString(done.Render("[x]") + " ")
			} else {
				r.inline.WriteString(r.styledText("[ ] "))
			}
		}
	}

	return ast.WalkContinue, nil
}

// --- Block-level handlers ---

func (r *renderer) leaveHeading(heading *ast.Heading) {
	// Strip existing inline styling — the heading has its own style
	// that replaces the default Text color applied by styledText.
	content := ansi.Strip(r.inline.String())
	r.inline.Reset()
	if content == "" {
		return
	}

	style := r.newStyle().Bold(true)
	if heading.Level <= 2 {
		style = style.Foreground(r.theme.Heading)
	} else {
		style = style.Foreground(r.theme.Text)
	}

	wrapped := ansi.Wrap(style.Render(content), r.contentWidth(), wrapBreakpoints)
	flushed := r.withPrefixes(wrapped)
	r.ensureBlankLine()
	r.write(flushed)
	r.ensureNewline()
	r.ensureBlankLine()
}

func (r *renderer) writeFencedCode(node *ast.FencedCodeBlock) {
	language := string(node.Language(r.source))
	var code strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(r.source))
	}

	highlighted := r.highlightCode(code.String(), language)
	r.ensureBlankLine()
	for _, line := range strings.Split(strings.TrimRight(highlighted, "\n"), "\n") {
		r.write(r.takeLinePrefix() + line)
		r.ensureNewline()
	}
	r.ensureBlankLine()
}

func (r *renderer) writeIndentedCode(node *ast.CodeBlock) {
	var code strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(r.source))
	}

	faint := r.newStyle().Foreground(r.theme.Faint)
	r.ensureBlankLine()
	for _, line := range strings.Split(strings.TrimRight(code.String(), "\n"), "\n") {
		r.write(r.takeLinePrefix() + faint.Render(line))
		r.ensureNewline()
	}
	r.ensureBlankLine()
}

func (r *renderer) enterList(list *ast.List) {
	startNumber := 0
	if list.IsOrdered() {
		startNumber = list.Start
	}
	r.listStack = append(r.listStack, listFrame{
		ordered: list.IsOrdered(),
		counter: startNumber,
		tight:   list.IsTight,
	})
}

func (r *renderer) leaveList() {
	if len(r.listStack) > 0 {
		r.listStack = r.listStack[:len(r.listStack)-1]
	}
	if !r.inTightList() {
		r.ensureBlankLine()
	}
}

func (r *renderer) enterListItem() {
	if len(r.listStack) == 0 {
		return
	}
	top := &r.listStack[len(r.listStack)-1]

	var bullet string
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		top.counter++
	} else {
		bullet = "- "
	}

	bulletWidth := len(bullet) // ASCII-only, so byte length == visual width.
	continuation := strings.Repeat(" ", bulletWidth)

	// The pending bullet includes the current linePrefix so it
	// replaces the entire prefix for the first line of this item.
	r.pendingBullet = r.linePrefix + bullet
	r.pushPrefix(continuation, bulletWidth)
}

func (r *renderer) leaveListItem() {
	r.popPrefix()
	if !r.inTightList() {
		r.ensureBlankLine()
	} else {
		r.ensureNewline()
	}
}

func (r *renderer) writeRule() {
	rule := strings.Repeat("─", r.contentWidth())
	style := r.newStyle().Foreground(r.theme.Rule)
	r.ensureBlankLine()
	r.write(r.withPrefixes(style.Render(rule)))
	r.ensureNewline()
	r.ensureBlankLine()
}

func (r *renderer) writeHTMLBlock(node *ast.HTMLBlock) {
	var html strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		html.Write(segment.Value(r.source))
	}
	stripped := strings.TrimSpace(stripTags(html.String()))
	if stripped != "" {
		faint := r.newStyle().Foreground(r.theme.Faint)
		r.write(r.withPrefixes(faint.Render(stripped)))
		r.ensureNewline()
		r.ensureBlankLine()
	}
}

// --- Inline handlers ---

func (r *renderer) appendText(node *ast.Text) {
	segment := node.Segment
	r.inline.WriteString(r.styledText(string(segment.Value(r.source))))

	if node.SoftLineBreak() {
		// The key reflow behavior: soft line breaks become spaces so
		// hard-wrapped source text reflows at any terminal width.
		r.inline.WriteString(" ")
	}
	if node.HardLineBreak() {
		r.inline.WriteString("\n")
	}
}

func (r *renderer) toggleEmphasis(node *ast.Emphasis, entering bool) {
	if node.Level >= 2 {
		if entering {
			r.boldCount++
		} else {
			r.boldCount--
		}
	} else {
		if entering {
			r.italicCount++
		} else {
			r.italicCount--
		}
	}
}

func (r *renderer) appendCodeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if textNode, ok := child.(*ast.Text); ok {
			segment := textNode.Segment
			code.Write(segment.Value(r.source))
		} else if strNode, ok := child.(*ast.String); ok {
			code.Write(strNode.Value)
		}
	}
	style := r.newStyle().Foreground(r.theme.Faint)
	r.inline.WriteString(style.Render(code.String()))
}

func (r *renderer) appendLink(node *ast.Link) {
	// inlineContent already applies inline styling (bold, italic,
	// etc.) to the link text, so it is written without double-styling.
	display := r.inlineContent(node)
	url := string(node.Destination)

	r.inline.WriteString(display)
	if url != "" {
		style := r.newStyle().Foreground(r.theme.Link)
		r.inline.WriteString(" " + style.Render("("+url+")"))
	}
}

func (r *renderer) appendAutoLink(node *ast.AutoLink) {
	url := string(node.URL(r.source))
	style := r.newStyle().Foreground(r.theme.Link)
	r.inline.WriteString(style.Render(url))
}

func (r *renderer) appendImage(node *ast.Image) {
	altText := r.inlineContent(node)
	url := string(node.Destination)
	faint := r.newStyle().Foreground(r.theme.Faint)
	r.inline.WriteString(faint.Render("[" + altText + "]"))
	if url != "" {
		r.inline.WriteString(" " + faint.Render("("+url+")"))
	}
}

func (r *renderer) appendRawHTML(node *ast.RawHTML) {
	var html strings.Builder
	for index := 0; index < node.Segments.Len(); index++ {
		segment := node.Segments.At(index)
		html.Write(segment.Value(r.source))
	}
	stripped := stripTags(html.String())
	if stripped != "" {
		faint := r.newStyle().Foreground(r.theme.Faint)
		r.inline.WriteString(faint.Render(stripped))
	}
}

// --- Table rendering ---

func (r *renderer) writeTable(node ast.Node) {
	table := node.(*extast.Table)
	alignments := table.Alignments

	var headerCells []string
	var bodyRows [][]string

	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			headerCells = r.rowCells(child)
		case extast.KindTableRow:
			bodyRows = append(bodyRows, r.rowCells(child))
		}
	}

	columnCount := len(headerCells)
	if columnCount == 0 && len(bodyRows) > 0 {
		columnCount = len(bodyRows[0])
	}
	if columnCount == 0 {
		return
	}

	// Column widths from visible content width.
	columnWidths := make([]int, columnCount)
	for index, cell := range headerCells {
		if index < columnCount {
			if width := lipgloss.Width(cell); width > columnWidths[index] {
				columnWidths[index] = width
			}
		}
	}
	for _, row := range bodyRows {
		for index, cell := range row {
			if index < columnCount {
				if width := lipgloss.Width(cell); width > columnWidths[index] {
					columnWidths[index] = width
				}
			}
		}
	}

	// Cap total width to available space. If the table is too wide,
	// proportionally shrink columns.
	separator := "  "
	totalWidth := 0
	for _, width := range columnWidths {
		totalWidth += width
	}
	totalWidth += len(separator) * (columnCount - 1)
	available := r.contentWidth()
	if totalWidth > available && columnCount > 0 {
		// Shrink proportionally, minimum 3 chars per column.
		usable := available - len(separator)*(columnCount-1)
		if usable < columnCount*3 {
			usable = columnCount * 3
		}
		for index := range columnWidths {
			columnWidths[index] = (columnWidths[index] * usable) / totalWidth
			if columnWidths[index] < 3 {
				columnWidths[index] = 3
			}
		}
	}

	r.ensureBlankLine()

	if len(headerCells) > 0 {
		bold := r.newStyle().Bold(true).Foreground(r.theme.Text)
		r.write(r.takeLinePrefix() + r.formatRow(headerCells, columnWidths, alignments, bold))
		r.ensureNewline()

		var separatorParts []string
		for _, width := range columnWidths {
			separatorParts = append(separatorParts, strings.Repeat("─", width))
		}
		rule := r.newStyle().Foreground(r.theme.Rule)
		r.write(r.linePrefix + rule.Render(strings.Join(separatorParts, separator)))
		r.ensureNewline()
	}

	for _, row := range bodyRows {
		r.write(r.linePrefix + r.formatRow(row, columnWidths, alignments, r.newStyle()))
		r.ensureNewline()
	}

	r.ensureBlankLine()
}

// rowCells extracts cell content strings from a table row node.
func (r *renderer) rowCells(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, r.inlineContent(cell))
		}
	}
	return cells
}

// formatRow formats a single table row with padded columns.
func (r *renderer) formatRow(
	cells []string,
	columnWidths []int,
	alignments []extast.Alignment,
	baseStyle lipgloss.Style,
) string {
	separator := "  "
	var parts []string
	for index, width := range columnWidths {
		var cell string
		if index < len(cells) {
			cell = cells[index]
		}

		visibleWidth := lipgloss.Width(cell)
		if visibleWidth > width {
			cell = ansi.Truncate(cell, width, "…")
			visibleWidth = lipgloss.Width(cell)
		}

		padding := width - visibleWidth
		if padding < 0 {
			padding = 0
		}

		var alignment extast.Alignment
		if index < len(alignments) {
			alignment = alignments[index]
		}

		switch alignment {
		case extast.AlignRight:
			cell = strings.Repeat(" ", padding) + cell
		case extast.AlignCenter:
			leftPad := padding / 2
			rightPad := padding - leftPad
			cell = strings.Repeat(" ", leftPad) + cell + strings.Repeat(" ", rightPad)
		default: // Left or unset.
			cell = cell + strings.Repeat(" ", padding)
		}
		parts = append(parts, cell)
	}
	return baseStyle.Render(strings.Join(parts, separator))
}

// --- Utilities ---

// stripTags removes HTML tags from a string, returning only the text
// content. Used for HTMLBlock and RawHTML nodes.
func stripTags(html string) string {
	var result strings.Builder
	inTag := false
	for _, character := range html {
		if character == '<' {
			inTag = true
			continue
		}
		if character == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(character)
		}
	}
	return result.String()
}
