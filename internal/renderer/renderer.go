// Package renderer transforms a markdown page and converts it to an HTML
// preview with caching and syntax highlighting.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"
)

// Preprocessor rewrites page source before it is converted.
type Preprocessor interface {
	Transform(ctx context.Context, doc string) (string, error)
}

// Metadata is the frontmatter a preview page uses.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
}

// Document is a processed markdown page.
type Document struct {
	// Markdown is the page after preprocessing.
	Markdown string
	// HTML is Markdown converted for preview.
	HTML     string
	Source   string
	Metadata Metadata
	Modified time.Time
}

type entry struct {
	modTime time.Time
	doc     Document
}

// Service preprocesses pages and converts them to HTML. Documents are cached
// by path until the source modification time changes.
type Service struct {
	md     goldmark.Markdown
	pre    Preprocessor
	logger *slog.Logger
	pages  sync.Map // path -> entry
}

// linkTransformer points relative .md links at the .html preview next to them.
type linkTransformer struct{}

func (t *linkTransformer) Transform(node *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if link, ok := n.(*ast.Link); ok {
			if dest, ok := previewLink(string(link.Destination)); ok {
				link.Destination = []byte(dest)
			}
		}
		return ast.WalkContinue, nil
	})
}

func previewLink(dest string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "#") || strings.Contains(dest, "://") || strings.HasPrefix(dest, "mailto:") {
		return "", false
	}
	target, fragment, _ := strings.Cut(dest, "#")
	if !strings.HasSuffix(target, ".md") {
		return "", false
	}
	target = strings.TrimSuffix(target, ".md") + ".html"
	if fragment != "" {
		target += "#" + fragment
	}
	return target, true
}

// NewService constructs a renderer. The markdown converter includes:
//   - GitHub-flavored markdown extensions
//   - Syntax highlighting with the github-dark theme
//   - YAML frontmatter parsing for document metadata
//   - Relative .md links rewritten to .html
//   - Raw HTML rendering, so inline SVG passes through untouched
//
// pre runs on every page before conversion; nil leaves pages unchanged. If
// logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger, pre Preprocessor) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle("github-dark"),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
	)

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{
				Position: anchor.After,
			},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
			parser.WithASTTransformers(
				util.Prioritized(&linkTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
		),
	)

	return &Service{
		md:     md,
		pre:    pre,
		logger: logger.With("component", "renderer"),
	}
}

// Render preprocesses content and converts the result to HTML. A cached entry
// with a matching modification time is returned without any work. Failed
// renders are not cached.
func (s *Service) Render(ctx context.Context, path string, modTime time.Time, content []byte) (Document, error) {
	if v, ok := s.pages.Load(path); ok {
		if e := v.(entry); !e.modTime.IsZero() && e.modTime.Equal(modTime) {
			return e.doc, nil
		}
	}

	start := time.Now()
	page := string(content)
	if s.pre != nil {
		var err error
		if page, err = s.pre.Transform(ctx, page); err != nil {
			return Document{}, fmt.Errorf("transform %s: %w", path, err)
		}
	}

	pctx := parser.NewContext()
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(page), &buf, parser.WithContext(pctx)); err != nil {
		return Document{}, fmt.Errorf("convert %s: %w", path, err)
	}

	doc := Document{
		Markdown: page,
		HTML:     buf.String(),
		Source:   string(content),
		Metadata: metadataFrom(goldmarkmeta.Get(pctx)),
		Modified: modTime,
	}
	s.pages.Store(path, entry{modTime: modTime, doc: doc})
	s.logger.Debug("rendered page", slog.String("path", path), slog.Duration("elapsed", time.Since(start)))
	return doc, nil
}

// Invalidate drops the cached document for path.
func (s *Service) Invalidate(path string) {
	s.pages.Delete(path)
}

func metadataFrom(front map[string]any) Metadata {
	var m Metadata
	if v, ok := front["title"]; ok {
		m.Title = scalar(v)
	}
	for _, key := range []string{"description", "summary"} {
		if v, ok := front[key]; ok && m.Description == "" {
			m.Description = scalar(v)
		}
	}
	for _, key := range []string{"tags", "keywords"} {
		v, ok := front[key]
		if !ok || len(m.Tags) > 0 {
			continue
		}
		if list, isList := v.([]any); isList {
			for _, item := range list {
				if tag := scalar(item); tag != "" {
					m.Tags = append(m.Tags, tag)
				}
			}
		} else if tag := scalar(v); tag != "" {
			m.Tags = []string{tag}
		}
	}
	return m
}

// scalar formats a YAML scalar; collections yield "".
func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int, int64, float64, bool:
		return fmt.Sprint(val)
	default:
		return ""
	}
}
