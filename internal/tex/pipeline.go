package tex

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/srwiley/oksvg"
	"golang.org/x/sync/singleflight"

	"github.com/euforicio/mathenv/internal/cache"
)

// DefaultCompiler is the only LaTeX engine the pipeline drives.
const DefaultCompiler = "xelatex"

// DefaultTimeout bounds each external stage.
const DefaultTimeout = 2 * time.Minute

// Options configure the toolchain.
type Options struct {
	// Compiler names the LaTeX engine. Only "xelatex" is implemented.
	Compiler string
	// CompilerPath overrides the executable for the compiler.
	CompilerPath string
	// ConverterPath overrides the dvisvgm executable.
	ConverterPath string
	// WorkDir is the parent of per-request scratch directories. Empty means os.TempDir().
	WorkDir string
	// Timeout bounds each stage. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Registerer receives the pipeline's Prometheus collectors when set.
	Registerer prometheus.Registerer
}

// ValidateCompiler reports a ConfigError for engines other than xelatex.
func ValidateCompiler(name string) error {
	if name == "" || name == DefaultCompiler {
		return nil
	}
	return &ConfigError{Field: "compiler", Value: name}
}

// Pipeline turns Requests into normalized SVG text. It is safe for concurrent
// use: every render runs in its own scratch directory and concurrent requests
// for the same input share one toolchain run.
type Pipeline struct {
	store   cache.Store
	logger  *slog.Logger
	opts    Options
	group   singleflight.Group
	metrics *metrics
}

// New constructs a pipeline backed by store. A nil store disables caching.
func New(store cache.Store, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = cache.Discard{}
	}
	if err := ValidateCompiler(opts.Compiler); err != nil {
		return nil, err
	}
	if opts.Compiler == "" {
		opts.Compiler = DefaultCompiler
	}
	if opts.CompilerPath == "" {
		opts.CompilerPath = opts.Compiler
	}
	if opts.ConverterPath == "" {
		opts.ConverterPath = "dvisvgm"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil { //nolint:gosec // standard directory permissions
			return nil, fmt.Errorf("create work directory: %w", err)
		}
	}

	return &Pipeline{
		store:   store,
		logger:  logger.With("component", "tex"),
		opts:    opts,
		metrics: newMetrics(opts.Registerer),
	}, nil
}

// Stats returns counters accumulated since construction.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}

// Render returns the normalized SVG for req. With cacheEnabled the store is
// consulted first and a fresh render is written back; otherwise the store is
// bypassed and nothing persists.
func (p *Pipeline) Render(ctx context.Context, req Request, cacheEnabled bool) (string, error) {
	name, env, err := lookupEnvironment(req.Command)
	if err != nil {
		return "", err
	}
	digest := cache.Key(req.Body)

	if cacheEnabled {
		if svg, ok := p.lookup(ctx, digest); ok {
			return svg, nil
		}
	}

	key := strings.Join([]string{name, req.Options, digest, strconv.FormatBool(cacheEnabled)}, "\x00")
	// The flight outlives any single caller; each stage keeps its own timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		return p.render(flightCtx, name, env, req, digest, cacheEnabled)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		p.group.Forget(key)
		return "", context.Cause(ctx)
	}
}

func (p *Pipeline) lookup(ctx context.Context, digest string) (string, bool) {
	svg, ok, err := p.store.Lookup(ctx, digest)
	if err != nil {
		p.metrics.lookupError()
		p.logger.Warn("cache lookup failed, rendering without cache", slog.String("digest", digest), slog.Any("err", err))
		return "", false
	}
	if !ok {
		p.metrics.miss()
		return "", false
	}
	p.metrics.hit()
	p.logger.Debug("cache hit", slog.String("digest", digest))
	return Normalize(svg), true
}

func (p *Pipeline) render(ctx context.Context, name string, env environment, req Request, digest string, cacheEnabled bool) (string, error) {
	dir, err := os.MkdirTemp(p.opts.WorkDir, "mathenv-"+digest[:12]+"-")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	ok := false
	defer func() {
		if ok {
			if err := os.RemoveAll(dir); err != nil {
				p.logger.Warn("cleanup scratch directory", slog.String("dir", dir), slog.Any("err", err))
			}
		}
	}()

	texFile := digest + ".tex"
	if err := os.WriteFile(filepath.Join(dir, texFile), []byte(assemble(name, env, req)), 0o644); err != nil { //nolint:gosec // standard file permissions
		return "", fmt.Errorf("write source: %w", err)
	}

	compileArgs := append(env.mode.compilerArgs(), "-halt-on-error", "-interaction=batchmode", texFile)
	if err := p.run(ctx, dir, StageCompile, p.opts.CompilerPath, compileArgs...); err != nil {
		return "", p.stageError(StageCompile, p.opts.CompilerPath, digest, dir, err)
	}

	svgFile := digest + cache.Ext
	convertArgs := append(env.mode.converterArgs(), "--output="+svgFile, digest+"."+env.mode.intermediateExt())
	if err := p.run(ctx, dir, StageConvert, p.opts.ConverterPath, convertArgs...); err != nil {
		return "", p.stageError(StageConvert, p.opts.ConverterPath, digest, dir, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, svgFile))
	if err != nil {
		return "", p.stageError(StageConvert, p.opts.ConverterPath, digest, dir, fmt.Errorf("read output: %w", err))
	}
	if err := p.inspect(digest, raw); err != nil {
		return "", p.stageError(StageConvert, p.opts.ConverterPath, digest, dir, err)
	}

	svg := Normalize(string(raw))
	p.metrics.renders.Add(1)
	ok = true

	if cacheEnabled {
		if err := p.store.Store(ctx, digest, svg); err != nil {
			p.logger.Warn("cache store failed", slog.String("digest", digest), slog.Any("err", err))
		}
	}
	return svg, nil
}

// run executes one stage with stdout and stderr discarded; only the exit
// status is consulted.
func (p *Pipeline) run(ctx context.Context, dir string, stage Stage, program string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second

	p.logger.Debug("running", slog.String("stage", stage.String()), slog.String("program", program), slog.Any("args", args))
	start := time.Now()
	err := cmd.Run()
	p.metrics.duration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (p *Pipeline) stageError(stage Stage, program, digest, dir string, err error) error {
	p.metrics.fail(stage)
	rerr := &RenderError{Stage: stage, Program: program, Digest: digest, Dir: dir, Err: err}
	p.logger.Error("render failed", slog.String("stage", stage.String()), slog.String("digest", digest), slog.Any("err", err))
	return rerr
}

var errNoSVG = errors.New("output contains no <svg> element")

// inspect rejects converter output that is not a well-formed SVG document.
// Malformed or truncated XML fails the render. Style values the parser cannot
// model are only logged.
func (p *Pipeline) inspect(digest string, raw []byte) error {
	if !strings.Contains(string(raw), "<svg") {
		return errNoSVG
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(string(raw)), oksvg.IgnoreErrorMode)
	var syntaxErr *xml.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("parse svg output: %w", err)
	case err != nil:
		p.logger.Warn("svg output partly unparsed", slog.String("digest", digest), slog.Any("err", err))
		return nil
	}
	p.logger.Debug("rendered",
		slog.String("digest", digest),
		slog.Float64("width", icon.ViewBox.W),
		slog.Float64("height", icon.ViewBox.H))
	return nil
}
