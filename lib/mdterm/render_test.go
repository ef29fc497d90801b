// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mdterm_test

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/mailroom/lib/mdterm"
)

// stripped renders markdown and returns ANSI-stripped visible text.
func stripped(input string, width int) string {
	return ansi.Strip(mdterm.Render(input, mdterm.DefaultTheme, width))
}

// raw renders markdown and returns the raw ANSI-styled output.
func raw(input string, width int) string {
	return mdterm.Render(input, mdterm.DefaultTheme, width)
}

func TestRenderEmpty(t *testing.T) {
	if result := mdterm.Render("", mdterm.DefaultTheme, 80); result != "" {
		t.Errorf("expected empty string for empty input, got %q", result)
	}
}

func TestRenderParagraphReflow(t *testing.T) {
	// Message body hard-wrapped at ~40 columns by the sending agent.
	input := "The migration is blocked on the\nschema review. I need a decision\non the index layout before noon."
	result := stripped(input, 120)

	if strings.Contains(result, "\n") {
		t.Errorf("expected no newlines at width=120, got:\n%s", result)
	}
	if !strings.Contains(result, "on the schema review") {
		t.Errorf("expected soft break converted to space, got:\n%s", result)
	}
}

func TestRenderParagraphWrapNarrow(t *testing.T) {
	input := "This is a paragraph that should be wrapped at the target width."
	result := stripped(input, 30)

	for _, line := range strings.Split(result, "\n") {
		if len(line) > 30 {
			t.Errorf("line exceeds width 30: %q (len=%d)", line, len(line))
		}
	}
}

func TestRenderHardLineBreak(t *testing.T) {
	// Two trailing spaces create a hard line break in CommonMark.
	input := "Line one  \nLine two"
	result := stripped(input, 80)

	if !strings.Contains(result, "Line one\nLine two") {
		t.Errorf("expected hard line break preserved, got:\n%s", result)
	}
}

func TestRenderHeadings(t *testing.T) {
	input := "# Status\n\n## Details\n\n### Notes"
	result := stripped(input, 80)

	for _, want := range []string{"Status", "Details", "Notes"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing heading text %q", want)
		}
	}

	if raw(input, 80) == result {
		t.Error("expected ANSI styling in heading output")
	}
}

func TestRenderEmphasis(t *testing.T) {
	input := "This is *italic* and **bold** text."
	result := stripped(input, 80)

	if !strings.Contains(result, "italic") || !strings.Contains(result, "bold") {
		t.Errorf("missing emphasis text, got:\n%s", result)
	}
	if raw(input, 80) == result {
		t.Error("expected ANSI styling in emphasis output")
	}
}

func TestRenderBoldItalic(t *testing.T) {
	result := stripped("***now or never***", 80)
	if !strings.Contains(result, "now or never") {
		t.Errorf("expected combined bold+italic text, got:\n%s", result)
	}
}

func TestRenderCodeSpan(t *testing.T) {
	result := stripped("Run `mailroom inbox` first.", 80)
	if !strings.Contains(result, "mailroom inbox") {
		t.Errorf("missing code span text, got:\n%s", result)
	}
}

func TestRenderFencedCodeBlock(t *testing.T) {
	input := "Before.\n\n```go\nfunc main() {\n\tfmt.Println(\"hello\")\n}\n```\n\nAfter."
	result := stripped(input, 80)

	for _, want := range []string{"func main()", "fmt.Println", "Before.", "After."} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in output:\n%s", want, result)
		}
	}
}

func TestRenderFencedCodeBlockHighlighted(t *testing.T) {
	rawResult := raw("```go\npackage main\n```", 80)

	// Chroma should produce ANSI escape sequences for Go syntax.
	if !strings.Contains(rawResult, "\x1b[") {
		t.Error("expected ANSI escapes from syntax highlighting")
	}
}

func TestRenderFencedCodeBlockNoLanguage(t *testing.T) {
	result := stripped("```\nplain code\n```", 80)
	if !strings.Contains(result, "plain code") {
		t.Errorf("missing code block content, got:\n%s", result)
	}
}

func TestRenderCodeBlockNotReflowed(t *testing.T) {
	result := stripped("```\nshort\nlines\nhere\n```", 80)
	if !strings.Contains(result, "short\nlines\nhere") {
		t.Errorf("expected code block lines preserved, got:\n%s", result)
	}
}

func TestRenderBlockquote(t *testing.T) {
	result := stripped("> Quoting the earlier decision.", 80)

	if !strings.Contains(result, "│") {
		t.Errorf("expected blockquote prefix, got:\n%s", result)
	}
	if !strings.Contains(result, "Quoting the earlier decision.") {
		t.Error("missing blockquote content")
	}
}

func TestRenderBlockquoteReflow(t *testing.T) {
	input := "> This quoted reply was written\n> at a narrow width with hard\n> line breaks."
	result := stripped(input, 80)

	for _, line := range strings.Split(result, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "│") {
			t.Errorf("expected blockquote prefix on every line, got: %q", line)
		}
	}
}

func TestRenderUnorderedList(t *testing.T) {
	result := stripped("- reserve the files\n- run the migration\n- release", 80)

	for _, want := range []string{"- reserve the files", "- run the migration", "- release"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing list item %q, got:\n%s", want, result)
		}
	}
}

func TestRenderOrderedList(t *testing.T) {
	result := stripped("1. First\n2. Second\n3. Third", 80)

	for _, want := range []string{"1. First", "2. Second", "3. Third"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing ordered list item %q, got:\n%s", want, result)
		}
	}
}

func TestRenderNestedList(t *testing.T) {
	result := stripped("- Outer\n  - Inner\n- Outer two", 80)

	var outerIndent, innerIndent int
	for _, line := range strings.Split(result, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		if strings.Contains(line, "Inner") {
			innerIndent = indent
		}
		if strings.Contains(line, "Outer") && !strings.Contains(line, "two") {
			outerIndent = indent
		}
	}
	if innerIndent <= outerIndent {
		t.Errorf("expected inner list more indented: outer=%d, inner=%d",
			outerIndent, innerIndent)
	}
}

func TestRenderTaskCheckbox(t *testing.T) {
	result := stripped("- [x] schema approved\n- [ ] migration run", 80)

	if !strings.Contains(result, "[x]") {
		t.Errorf("missing checked checkbox, got:\n%s", result)
	}
	if !strings.Contains(result, "[ ]") {
		t.Error("missing unchecked checkbox")
	}
	if !strings.Contains(result, "schema approved") {
		t.Error("missing checkbox label")
	}
}

func TestRenderStrikethrough(t *testing.T) {
	input := "This approach is ~~abandoned~~ superseded."
	result := stripped(input, 80)

	if !strings.Contains(result, "abandoned") {
		t.Error("missing strikethrough text")
	}
	if raw(input, 80) == result {
		t.Error("expected ANSI styling for strikethrough")
	}
}

func TestRenderLink(t *testing.T) {
	result := stripped("See [the runbook](https://example.com/runbook) for details.", 80)

	if !strings.Contains(result, "the runbook") {
		t.Error("missing link text")
	}
	if !strings.Contains(result, "(https://example.com/runbook)") {
		t.Errorf("missing link URL, got:\n%s", result)
	}
}

func TestRenderAutoLink(t *testing.T) {
	result := stripped("Dashboard at https://example.com/grafana today.", 80)
	if !strings.Contains(result, "https://example.com/grafana") {
		t.Errorf("missing autolink URL, got:\n%s", result)
	}
}

func TestRenderImage(t *testing.T) {
	result := stripped("![flame graph](https://example.com/profile.png)", 80)

	if !strings.Contains(result, "[flame graph]") {
		t.Errorf("missing image alt text, got:\n%s", result)
	}
	if !strings.Contains(result, "(https://example.com/profile.png)") {
		t.Error("missing image URL")
	}
}

func TestRenderThematicBreak(t *testing.T) {
	result := stripped("Before.\n\n---\n\nAfter.", 40)

	if !strings.Contains(result, "Before.") || !strings.Contains(result, "After.") {
		t.Errorf("missing surrounding text, got:\n%s", result)
	}
	if !strings.Contains(result, "───") {
		t.Errorf("expected horizontal rule, got:\n%s", result)
	}
}

func TestRenderTable(t *testing.T) {
	input := "| Agent | Unread |\n|-------|--------|\n| planner | 3 |\n| builder | 0 |"
	result := stripped(input, 80)

	for _, want := range []string{"Agent", "planner", "builder"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing table content %q, got:\n%s", want, result)
		}
	}
	if !strings.Contains(result, "───") {
		t.Error("missing table header separator")
	}
}

func TestRenderHTMLStripped(t *testing.T) {
	result := stripped("<div>inline status</div>", 80)
	if strings.Contains(result, "<div>") {
		t.Errorf("expected HTML tags stripped, got:\n%s", result)
	}
	if !strings.Contains(result, "inline status") {
		t.Errorf("expected HTML text content kept, got:\n%s", result)
	}
}
