// Package site builds an output tree from a docs directory: every markdown page
// is transformed and written back out, optionally with an HTML preview, and
// other files are copied alongside.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/euforicio/mathenv/internal/content/tree"
	"github.com/euforicio/mathenv/internal/renderer"
	mathstatic "github.com/euforicio/mathenv/static"
)

// PageRenderer turns page source into a processed document.
type PageRenderer interface {
	Render(ctx context.Context, path string, modTime time.Time, content []byte) (renderer.Document, error)
	Invalidate(path string)
}

// Options configure a Builder.
type Options struct {
	Root          string
	OutputDir     string
	ExcludeDirs   []string
	// Ignore lists directories, such as a cache directory nested in the
	// root, whose contents are never built or copied.
	Ignore        []string
	Jobs          int
	HTML          bool
	IncludeHidden bool
	CleanOutput   bool
}

// Result summarizes a full build.
type Result struct {
	Pages    int
	Assets   int
	Duration time.Duration
}

// Builder writes transformed pages into the output directory.
type Builder struct {
	renderer  PageRenderer
	templates *templateRenderer
	logger    *slog.Logger
	opts      Options
}

// New constructs a Builder. Root and OutputDir are resolved to absolute paths.
func New(r PageRenderer, opts Options, logger *slog.Logger) (*Builder, error) {
	if r == nil {
		return nil, errors.New("page renderer must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}

	var err error
	if opts.Root, err = filepath.Abs(opts.Root); err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if opts.OutputDir, err = filepath.Abs(opts.OutputDir); err != nil {
		return nil, fmt.Errorf("resolve output: %w", err)
	}
	ignore := make([]string, 0, len(opts.Ignore))
	for _, dir := range opts.Ignore {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve ignored directory: %w", err)
		}
		ignore = append(ignore, abs)
	}
	opts.Ignore = ignore
	if opts.Root == opts.OutputDir {
		return nil, fmt.Errorf("output directory %s must differ from root", opts.OutputDir)
	}

	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Builder{
		renderer:  r,
		templates: tmpl,
		logger:    logger.With("component", "site"),
		opts:      opts,
	}, nil
}

// Root returns the absolute docs directory.
func (b *Builder) Root() string { return b.opts.Root }

// OutputDir returns the absolute output directory.
func (b *Builder) OutputDir() string { return b.opts.OutputDir }

// IncludeHidden reports whether dot files are part of the build.
func (b *Builder) IncludeHidden() bool { return b.opts.IncludeHidden }

// Build transforms every page under the root and copies the remaining files.
// Pages are processed by up to Jobs workers; the first error cancels the rest.
func (b *Builder) Build(ctx context.Context) (Result, error) {
	start := time.Now()

	if err := b.prepareOutputDir(); err != nil {
		return Result{}, err
	}

	root, err := tree.Build(ctx, b.opts.Root, tree.Options{
		ExcludeDirs:   b.opts.ExcludeDirs,
		IncludeHidden: b.opts.IncludeHidden,
		Assets:        true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build content tree: %w", err)
	}

	if err := b.writeStylesheets(); err != nil {
		return Result{}, err
	}

	var pages, assets atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Jobs)

	for _, node := range root.Files() {
		if !b.tracked(node.RelativePath) {
			continue
		}
		g.Go(func() error {
			if err := b.BuildPage(gctx, node.RelativePath); err != nil {
				return err
			}
			pages.Add(1)
			return nil
		})
	}
	for _, node := range root.Assets() {
		if !b.tracked(node.RelativePath) {
			continue
		}
		g.Go(func() error {
			if err := b.CopyAsset(node.RelativePath); err != nil {
				return err
			}
			assets.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Pages:    int(pages.Load()),
		Assets:   int(assets.Load()),
		Duration: time.Since(start),
	}
	b.logger.Info("build complete",
		slog.Int("pages", res.Pages),
		slog.Int("assets", res.Assets),
		slog.String("output", b.opts.OutputDir),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// BuildPage transforms the page at rel (slash separated, relative to the
// root) and writes the result, plus its HTML preview when enabled.
func (b *Builder) BuildPage(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs := b.sourcePath(rel)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	raw, err := os.ReadFile(abs) //nolint:gosec // abs constructed from validated root
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	doc, err := b.renderer.Render(ctx, rel, info.ModTime(), raw)
	if err != nil {
		return fmt.Errorf("render %s: %w", rel, err)
	}

	dest := b.outputPath(rel)
	if err := writeFileAtomic(dest, []byte(doc.Markdown)); err != nil {
		return fmt.Errorf("write page %s: %w", rel, err)
	}

	if b.opts.HTML {
		page := pageViewData{
			Title:       firstNonEmpty(doc.Metadata.Title, titleFromPath(rel)),
			Description: doc.Metadata.Description,
			Tags:        doc.Metadata.Tags,
			Body:        template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
			Modified:    doc.Modified,
			AssetBase:   assetBase(rel),
		}
		var buf bytes.Buffer
		if err := b.templates.render(&buf, "page", page); err != nil {
			return fmt.Errorf("render preview %s: %w", rel, err)
		}
		if err := writeFileAtomic(b.outputPath(toHTMLRel(rel)), buf.Bytes()); err != nil {
			return fmt.Errorf("write preview %s: %w", rel, err)
		}
	}

	b.logger.Debug("page written", slog.String("path", rel))
	return nil
}

// CopyAsset copies a non-markdown file into the output tree.
func (b *Builder) CopyAsset(rel string) error {
	if err := copyFile(b.sourcePath(rel), b.outputPath(rel)); err != nil {
		return fmt.Errorf("copy %s: %w", rel, err)
	}
	return nil
}

// RemovePage deletes the outputs produced for rel. Directories are removed
// recursively. Missing outputs are not an error.
func (b *Builder) RemovePage(rel string) error {
	b.renderer.Invalidate(rel)

	dest := b.outputPath(rel)
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
		return nil
	}

	targets := []string{dest}
	if tree.IsMarkdown(rel) {
		targets = append(targets, b.outputPath(toHTMLRel(rel)))
	}
	for _, target := range targets {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
	}
	return nil
}

// Update brings the output for rel in line with the source: pages are
// rebuilt, other files copied, and vanished sources removed. Paths the build
// ignores are skipped.
func (b *Builder) Update(ctx context.Context, rel string) error {
	if !b.tracked(rel) {
		return nil
	}
	info, err := os.Stat(b.sourcePath(rel))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b.RemovePage(rel)
	case err != nil:
		return fmt.Errorf("stat %s: %w", rel, err)
	case info.IsDir():
		return b.updateDir(ctx, rel)
	case tree.IsMarkdown(rel):
		b.renderer.Invalidate(rel)
		return b.BuildPage(ctx, rel)
	case info.Mode().IsRegular():
		return b.CopyAsset(rel)
	default:
		return nil
	}
}

func (b *Builder) updateDir(ctx context.Context, rel string) error {
	return filepath.WalkDir(b.sourcePath(rel), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		child, err := filepath.Rel(b.opts.Root, path)
		if err != nil {
			return err
		}
		return b.Update(ctx, filepath.ToSlash(child))
	})
}

// tracked reports whether rel takes part in the build.
func (b *Builder) tracked(rel string) bool {
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}
	abs := b.sourcePath(rel)
	if within(abs, b.opts.OutputDir) {
		return false
	}
	for _, dir := range b.opts.Ignore {
		if within(abs, dir) {
			return false
		}
	}
	for _, part := range strings.Split(rel, "/") {
		if !b.opts.IncludeHidden && strings.HasPrefix(part, ".") {
			return false
		}
		for _, ex := range b.opts.ExcludeDirs {
			if strings.EqualFold(part, ex) {
				return false
			}
		}
	}
	return true
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func (b *Builder) prepareOutputDir() error {
	if b.opts.CleanOutput {
		if err := os.RemoveAll(b.opts.OutputDir); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(b.opts.OutputDir, 0o755) //nolint:gosec // standard directory permissions
}

// writeStylesheets emits css/svg.css and, for previews, the code highlighting
// stylesheet.
func (b *Builder) writeStylesheets() error {
	if err := mathstatic.CopyAll(b.opts.OutputDir); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}
	if !b.opts.HTML {
		return nil
	}
	var buf bytes.Buffer
	if err := writeHighlightCSS(&buf); err != nil {
		return fmt.Errorf("generate highlight css: %w", err)
	}
	return writeFileAtomic(filepath.Join(b.opts.OutputDir, "css", highlightCSS), buf.Bytes())
}

func (b *Builder) sourcePath(rel string) string {
	return filepath.Join(b.opts.Root, filepath.FromSlash(rel))
}

func (b *Builder) outputPath(rel string) string {
	return filepath.Join(b.opts.OutputDir, filepath.FromSlash(rel))
}

func toHTMLRel(rel string) string {
	clean := strings.TrimSpace(rel)
	if ext := filepath.Ext(clean); ext != "" {
		clean = strings.TrimSuffix(clean, ext)
	}
	if clean == "" {
		return "index.html"
	}
	return clean + ".html"
}

// assetBase is the relative prefix from the page at rel to the output root.
func assetBase(rel string) string {
	return strings.Repeat("../", strings.Count(rel, "/"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "_", " ")
	parts := strings.Split(base, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(part)
		parts[i] = string(unicode.ToUpper(r)) + strings.ToLower(part[size:])
	}
	return strings.Join(parts, " ")
}
