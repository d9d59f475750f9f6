package transform_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/euforicio/mathenv/internal/callout"
	"github.com/euforicio/mathenv/internal/tex"
	"github.com/euforicio/mathenv/internal/transform"
)

type call struct {
	Req   tex.Request
	Cache bool
}

type fakeRenderer struct {
	calls []call
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, req tex.Request, cacheEnabled bool) (string, error) {
	f.calls = append(f.calls, call{Req: req, Cache: cacheEnabled})
	if f.err != nil {
		return "", f.err
	}
	return "<svg>" + req.Command + "</svg>", nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTransformer(t *testing.T, r transform.Renderer, opts transform.Options) *transform.Transformer {
	t.Helper()
	tr, err := transform.New(r, opts, quietLogger())
	if err != nil {
		t.Fatalf("transform.New: %v", err)
	}
	return tr
}

func allKinds() []transform.Kind {
	return []transform.Kind{
		{Command: "tikzcd", Enabled: true, Cache: true},
		{Command: "tikzpicture", Enabled: true, Cache: false},
	}
}

func TestTransformSplicesWrappedSVG(t *testing.T) {
	t.Parallel()
	r := &fakeRenderer{}
	tr := newTransformer(t, r, transform.Options{Kinds: allKinds()})

	doc := "# Diagrams\n\n\\tikzcd[row sep=large]\n  A \\arrow[r] & B\nText between.\n\n\\tikzpicture\n  \\draw (0,0) -- (1,1);\n"
	got, err := tr.Transform(context.Background(), doc)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	want := "# Diagrams\n\n" +
		"<div class=tikzcd-svg align=center><svg>tikzcd</svg></div>\n" +
		"Text between.\n\n" +
		"<div class=tikzcd-svg align=center><svg>tikzpicture</svg></div>\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	wantCalls := []call{
		{Req: tex.Request{Command: "tikzcd", Options: "row sep=large", Body: "  A \\arrow[r] & B"}, Cache: true},
		{Req: tex.Request{Command: "tikzpicture", Body: "  \\draw (0,0) -- (1,1);"}, Cache: false},
	}
	if diff := cmp.Diff(wantCalls, r.calls); diff != "" {
		t.Fatalf("render calls mismatch (-want +got):\n%s", diff)
	}
}

func TestTransformAutomataMode(t *testing.T) {
	t.Parallel()
	r := &fakeRenderer{}
	tr := newTransformer(t, r, transform.Options{Kinds: allKinds()})

	doc := "\\tikzpicture{automata}[scale=2]\n  \\node[state] (q0) {$q_0$};\n\\tikzpicture{automata}\n  \\node[state] (q1) {$q_1$};\n"
	if _, err := tr.Transform(context.Background(), doc); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected two renders, got %d", len(r.calls))
	}
	if got := r.calls[0].Req.Options; got != transform.AutomataOptions+",scale=2" {
		t.Fatalf("mode options not prepended: %q", got)
	}
	if got := r.calls[1].Req.Options; got != transform.AutomataOptions {
		t.Fatalf("unexpected options without user options: %q", got)
	}
}

func TestTransformUnknownModeIsConfigError(t *testing.T) {
	t.Parallel()
	r := &fakeRenderer{}
	tr := newTransformer(t, r, transform.Options{Kinds: allKinds()})
	_, err := tr.Transform(context.Background(), "\\tikzcd{petri}\n  A\n")
	if !errors.Is(err, tex.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("renderer called for an invalid mode")
	}
}

func TestTransformDisabledKindsUntouched(t *testing.T) {
	t.Parallel()
	r := &fakeRenderer{}
	tr := newTransformer(t, r, transform.Options{Kinds: []transform.Kind{
		{Command: "tikzcd", Enabled: true},
		{Command: "tikzpicture", Enabled: false},
	}})
	doc := "\\tikzpicture\n  \\draw (0,0);\n\\\\tikzpicture\n"
	got, err := tr.Transform(context.Background(), doc)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got != doc {
		t.Fatalf("disabled directive changed: %q", got)
	}
}

func TestTransformEscapePartition(t *testing.T) {
	t.Parallel()
	r := &fakeRenderer{}
	tr := newTransformer(t, r, transform.Options{
		Theorem: true,
		Labels:  callout.DefaultLabels(),
		Kinds:   allKinds(),
	})
	doc := "\\theorem\n    statement\n\nType \\\\theorem or \\\\tikzcd literally.\n\\tikzcd\n  A\n"
	got, err := tr.Transform(context.Background(), doc)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	want := "!!! success \"定理\"\n    statement\n\n" +
		"Type \\theorem or \\tikzcd literally.\n" +
		"<div class=tikzcd-svg align=center><svg>tikzcd</svg></div>\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected a single render, got %d", len(r.calls))
	}
}

func TestTransformAliases(t *testing.T) {
	t.Parallel()
	tr := newTransformer(t, nil, transform.Options{Aliases: map[string]string{"R": "\\mathbb{R}"}})
	got, err := tr.Transform(context.Background(), "$x \\in \\R$")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got != "$x \\in \\mathbb{R}$" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestTransformPropagatesRenderError(t *testing.T) {
	t.Parallel()
	rerr := &tex.RenderError{Stage: tex.StageCompile, Program: "xelatex", Digest: "d", Err: errors.New("exit status 1")}
	r := &fakeRenderer{err: rerr}
	tr := newTransformer(t, r, transform.Options{Kinds: allKinds()})

	_, err := tr.Transform(context.Background(), "ok\n\\tikzcd\n  \\undefined\n\\tikzcd\n  B\n")
	var got *tex.RenderError
	if !errors.As(err, &got) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "\\tikzcd directive 1") {
		t.Fatalf("error should name the directive: %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected the transform to stop after the first failure, got %d calls", len(r.calls))
	}
}

func TestNewRejectsUnknownCommand(t *testing.T) {
	t.Parallel()
	_, err := transform.New(&fakeRenderer{}, transform.Options{Kinds: []transform.Kind{{Command: "circuitikz", Enabled: true}}}, nil)
	if !errors.Is(err, tex.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestTransformNoDirectivesIsIdentity(t *testing.T) {
	t.Parallel()
	r := &fakeRenderer{}
	tr := newTransformer(t, r, transform.Options{Theorem: true, Labels: callout.DefaultLabels(), Kinds: allKinds()})
	doc := "# Plain page\n\nwith `code` and $x^2$.\n"
	got, err := tr.Transform(context.Background(), doc)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got != doc {
		t.Fatalf("expected identity, got %q", got)
	}
}
