package renderer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/mathenv/internal/renderer"
)

type upperTikz struct {
	calls int
	err   error
}

func (u *upperTikz) Transform(_ context.Context, doc string) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	return strings.ReplaceAll(doc, `\tikzcd`, `<div class=tikzcd-svg align=center><svg viewBox="0 0 1 1"></svg></div>`), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRenderWithMetadataAndHighlighting(t *testing.T) {
	t.Parallel()
	svc := renderer.NewService(quietLogger(), nil)

	content := []byte("---\n" +
		"title: Example Doc\n" +
		"description: Sample description\n" +
		"tags:\n" +
		"  - math\n" +
		"  - tikz\n" +
		"---\n\n" +
		"# Hello\n\n" +
		"See [the next page](next.md#part-2) or [home](https://example.com/a.md).\n\n" +
		"```go\n" +
		"package main\n" +
		"```\n")

	modTime := time.Unix(1_000, 0)
	doc, err := svc.Render(context.Background(), "docs/example.md", modTime, content)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if doc.Metadata.Title != "Example Doc" {
		t.Fatalf("expected title 'Example Doc', got %q", doc.Metadata.Title)
	}
	if doc.Metadata.Description != "Sample description" {
		t.Fatalf("unexpected description: %q", doc.Metadata.Description)
	}
	if len(doc.Metadata.Tags) != 2 || doc.Metadata.Tags[0] != "math" || doc.Metadata.Tags[1] != "tikz" {
		t.Fatalf("unexpected tags: %#v", doc.Metadata.Tags)
	}

	html := doc.HTML
	if !strings.Contains(html, `href="next.html#part-2"`) {
		t.Fatalf("expected relative md link rewritten, got %s", html)
	}
	if !strings.Contains(html, `href="https://example.com/a.md"`) {
		t.Fatalf("external link should be untouched, got %s", html)
	}
	if !strings.Contains(html, `class="chroma"`) {
		t.Fatalf("expected chroma highlighter output, got %s", html)
	}
	if doc.Markdown != string(content) || doc.Source != string(content) {
		t.Fatalf("without a preprocessor the page should pass through")
	}
	if !doc.Modified.Equal(modTime) {
		t.Fatalf("expected modified timestamp to match, got %v", doc.Modified)
	}
}

func TestRenderRunsPreprocessor(t *testing.T) {
	t.Parallel()
	pre := &upperTikz{}
	svc := renderer.NewService(quietLogger(), pre)

	content := []byte("Before\n\n\\tikzcd\n\nAfter\n")
	doc, err := svc.Render(context.Background(), "diagram.md", time.Unix(5, 0), content)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(doc.Markdown, "<svg") {
		t.Fatalf("preprocessed markdown missing svg: %q", doc.Markdown)
	}
	if !strings.Contains(doc.HTML, `<div class=tikzcd-svg align=center><svg viewBox="0 0 1 1"></svg></div>`) {
		t.Fatalf("inline svg should pass through as raw HTML, got %s", doc.HTML)
	}
	if doc.Source != string(content) {
		t.Fatalf("raw content should be the original page")
	}
}

func TestRenderPreprocessorErrorNotCached(t *testing.T) {
	t.Parallel()
	pre := &upperTikz{err: errors.New("compile failed")}
	svc := renderer.NewService(quietLogger(), pre)
	ctx := context.Background()
	modTime := time.Unix(7, 0)

	if _, err := svc.Render(ctx, "bad.md", modTime, []byte("\\tikzcd\n")); err == nil {
		t.Fatalf("expected preprocessor error")
	}
	pre.err = nil
	if _, err := svc.Render(ctx, "bad.md", modTime, []byte("\\tikzcd\n")); err != nil {
		t.Fatalf("second render: %v", err)
	}
	if pre.calls != 2 {
		t.Fatalf("failed render must not be cached, preprocessor ran %d times", pre.calls)
	}
}

func TestRenderCaching(t *testing.T) {
	t.Parallel()
	pre := &upperTikz{}
	svc := renderer.NewService(quietLogger(), pre)

	ctx := context.Background()
	path := "docs/cache.md"
	modTime := time.Unix(2_000, 0)

	doc1, err := svc.Render(ctx, path, modTime, []byte("# First"))
	if err != nil {
		t.Fatalf("first render: %v", err)
	}

	doc2, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if doc2.HTML != doc1.HTML || pre.calls != 1 {
		t.Fatalf("expected cached document, got different output")
	}

	svc.Invalidate(path)
	doc3, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("third render: %v", err)
	}
	if !strings.Contains(doc3.HTML, "Second") {
		t.Fatalf("expected new HTML after invalidation, got %s", doc3.HTML)
	}

	doc4, err := svc.Render(ctx, path, modTime.Add(time.Second), []byte("# Third"))
	if err != nil {
		t.Fatalf("fourth render: %v", err)
	}
	if !strings.Contains(doc4.HTML, "Third") {
		t.Fatalf("expected updated render after mod time change, got %s", doc4.HTML)
	}
}
