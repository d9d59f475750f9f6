package block_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/euforicio/mathenv/internal/block"
)

func TestDepth(t *testing.T) {
	t.Parallel()
	tests := map[string]int{
		"":             0,
		"A":            0,
		"  A":          2,
		"\tA":          1,
		"\t  A":        3,
		"    ":         4,
		"  \\tikzcd":   2,
		"- \\tikzcd  ": 0,
	}
	for line, want := range tests {
		if got := block.Depth(line); got != want {
			t.Errorf("Depth(%q) = %d, want %d", line, got, want)
		}
	}
}

// collect runs Replace with a replacer that records every directive and
// substitutes a numbered placeholder.
func collect(t *testing.T, doc, marker string) (string, []block.Directive) {
	t.Helper()
	var seen []block.Directive
	out, err := block.Replace(doc, marker, func(d block.Directive) (string, error) {
		seen = append(seen, d)
		return "<R" + string(rune('0'+len(seen))) + ">", nil
	})
	if err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	return out, seen
}

func TestReplaceWithoutDirectivesIsIdentity(t *testing.T) {
	t.Parallel()
	docs := []string{
		"",
		"# Title\n\nplain text\n",
		"mentions tikzcd without a backslash\n",
		"\\tikzcdx is another command\n",
		"inline \\tikzcd mention in prose\n",
	}
	for _, doc := range docs {
		out, seen := collect(t, doc, "tikzcd")
		if len(seen) != 0 {
			t.Fatalf("unexpected directives for %q: %#v", doc, seen)
		}
		if out != doc {
			t.Fatalf("output changed for %q: %q", doc, out)
		}
	}
}

func TestReplaceIndentationBoundary(t *testing.T) {
	t.Parallel()
	out, seen := collect(t, "\\tikzcd\n  A\n  B\nC", "tikzcd")

	want := []block.Directive{{
		Command:  "tikzcd",
		Body:     "  A\n  B",
		Trailing: "C",
	}}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("directive mismatch (-want +got):\n%s", diff)
	}
	if out != "<R1>\nC" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReplaceDeeperLinesStayInBody(t *testing.T) {
	t.Parallel()
	doc := "\\tikzcd\n  A \\arrow[r]\n      & B\n  C\n\nafter\n"
	out, seen := collect(t, doc, "tikzcd")
	if len(seen) != 1 {
		t.Fatalf("expected one directive, got %d", len(seen))
	}
	if seen[0].Body != "  A \\arrow[r]\n      & B\n  C" {
		t.Fatalf("unexpected body %q", seen[0].Body)
	}
	if seen[0].Trailing != "\nafter\n" {
		t.Fatalf("unexpected trailing %q", seen[0].Trailing)
	}
	if out != "<R1>\n\nafter\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReplaceKeepsInnerBlankLines(t *testing.T) {
	t.Parallel()
	_, seen := collect(t, "\\tikzpicture\n  \\node (a) {};\n\n  \\node (b) {};\nend", "tikzpicture")
	if len(seen) != 1 {
		t.Fatalf("expected one directive, got %d", len(seen))
	}
	if seen[0].Body != "  \\node (a) {};\n\n  \\node (b) {};" {
		t.Fatalf("unexpected body %q", seen[0].Body)
	}
	if seen[0].Trailing != "end" {
		t.Fatalf("unexpected trailing %q", seen[0].Trailing)
	}
}

func TestReplaceMissingBody(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, doc, output, trailing string
	}{
		{name: "end of document", doc: "\\tikzcd\n", output: "<R1>\n", trailing: ""},
		{name: "no newline", doc: "\\tikzcd", output: "<R1>\n", trailing: ""},
		{name: "unindented next line", doc: "\\tikzcd\nC\n", output: "<R1>\nC\n", trailing: "C\n"},
		{name: "blank then unindented", doc: "\\tikzcd\n\nC", output: "<R1>\n\nC", trailing: "\nC"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, seen := collect(t, tc.doc, "tikzcd")
			if len(seen) != 1 {
				t.Fatalf("expected one directive, got %d", len(seen))
			}
			if seen[0].Body != "" {
				t.Fatalf("expected empty body, got %q", seen[0].Body)
			}
			if seen[0].Trailing != tc.trailing {
				t.Fatalf("trailing = %q, want %q", seen[0].Trailing, tc.trailing)
			}
			if out != tc.output {
				t.Fatalf("output = %q, want %q", out, tc.output)
			}
		})
	}
}

func TestReplaceOptionsAndMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, doc, mode, options string
	}{
		{name: "none", doc: "\\tikzcd\n  A\n"},
		{name: "options", doc: "\\tikzcd[row sep=large]\n  A\n", options: "row sep=large"},
		{name: "nested", doc: "\\tikzcd[>={Stealth[round]}, x=1cm]\n  A\n", options: ">={Stealth[round]}, x=1cm"},
		{name: "mode", doc: "\\tikzcd{automata}\n  A\n", mode: "automata"},
		{name: "mode and options", doc: "\\tikzcd{automata}[scale=2]  \n  A\n", mode: "automata", options: "scale=2"},
		{name: "unterminated", doc: "\\tikzcd[row sep=large\n  A\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, seen := collect(t, tc.doc, "tikzcd")
			if len(seen) != 1 {
				t.Fatalf("expected one directive, got %d", len(seen))
			}
			if seen[0].Mode != tc.mode || seen[0].Options != tc.options {
				t.Fatalf("got mode %q options %q, want %q %q", seen[0].Mode, seen[0].Options, tc.mode, tc.options)
			}
			if seen[0].Body != "  A" {
				t.Fatalf("unexpected body %q", seen[0].Body)
			}
			if out != "<R1>\n" {
				t.Fatalf("unexpected output %q", out)
			}
		})
	}
}

func TestReplaceEscapedMarker(t *testing.T) {
	t.Parallel()
	doc := "write \\\\tikzcd to get a diagram:\n\\tikzcd\n  A\nand \\\\tikzcd again\n"
	out, seen := collect(t, doc, "tikzcd")
	if len(seen) != 1 {
		t.Fatalf("expected one directive, got %d", len(seen))
	}
	want := "write \\tikzcd to get a diagram:\n<R1>\nand \\tikzcd again\n"
	if out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
}

func TestReplaceLeadingTextAndNesting(t *testing.T) {
	t.Parallel()
	doc := "- item\n- \\tikzcd\n    A\n    B\n- next\n"
	out, seen := collect(t, doc, "tikzcd")
	if len(seen) != 1 {
		t.Fatalf("expected one directive, got %d", len(seen))
	}
	if seen[0].Leading != "- " {
		t.Fatalf("unexpected leading %q", seen[0].Leading)
	}
	if out != "- item\n- <R1>\n- next\n" {
		t.Fatalf("unexpected output %q", out)
	}

	indented := "!!! note\n    \\tikzcd\n        A\n    more note\n"
	out, seen = collect(t, indented, "tikzcd")
	if len(seen) != 1 || seen[0].Body != "        A" {
		t.Fatalf("unexpected directives %#v", seen)
	}
	if out != "!!! note\n    <R1>\n    more note\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReplaceMultipleInOrder(t *testing.T) {
	t.Parallel()
	doc := "\\tikzcd\n  first\ntext\n\\tikzcd\n  second\n"
	var bodies []string
	out, err := block.Replace(doc, "tikzcd", func(d block.Directive) (string, error) {
		bodies = append(bodies, strings.TrimSpace(d.Body))
		// replacement output must not be scanned again
		return "\\tikzcd", nil
	})
	if err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"first", "second"}, bodies); diff != "" {
		t.Fatalf("bodies mismatch (-want +got):\n%s", diff)
	}
	if out != "\\tikzcd\ntext\n\\tikzcd\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReplacePropagatesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	calls := 0
	_, err := block.Replace("\\tikzcd\n  A\n\\tikzcd\n  B\n", "tikzcd", func(block.Directive) (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected scan to stop after first failure, got %d calls", calls)
	}
}
