// Package transform rewrites a markdown page: theorem keywords become
// admonitions, aliases expand, and TikZ directives become inline SVG.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/euforicio/mathenv/internal/block"
	"github.com/euforicio/mathenv/internal/callout"
	"github.com/euforicio/mathenv/internal/tex"
)

// AutomataOptions are prepended to the user's options in {automata} mode.
const AutomataOptions = `->,>={Stealth[round]},shorten >=1pt,auto,node distance=2cm,on grid,semithick,inner sep=2pt,bend angle=50,initial text=`

var modes = map[string]string{
	"automata": AutomataOptions,
}

// Renderer produces inline SVG for a diagram request.
type Renderer interface {
	Render(ctx context.Context, req tex.Request, cacheEnabled bool) (string, error)
}

// Kind configures one directive, e.g. \tikzcd.
type Kind struct {
	Command string
	Enabled bool
	Cache   bool
}

// Options select the passes a Transformer runs.
type Options struct {
	Theorem bool
	Labels  callout.Labels
	Aliases map[string]string
	Kinds   []Kind
}

// Transformer applies the configured passes to markdown documents.
type Transformer struct {
	renderer Renderer
	logger   *slog.Logger
	theorem  []callout.Rule
	aliases  []callout.Rule
	kinds    []Kind
}

// New validates opts and returns a Transformer. Unknown directive commands are
// rejected with a *tex.ConfigError.
func New(renderer Renderer, opts Options, logger *slog.Logger) (*Transformer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	known := tex.Commands()
	var kinds []Kind
	for _, k := range opts.Kinds {
		if !k.Enabled {
			continue
		}
		if !slices.Contains(known, k.Command) {
			return nil, &tex.ConfigError{Field: "command", Value: k.Command}
		}
		kinds = append(kinds, k)
	}
	if len(kinds) > 0 && renderer == nil {
		return nil, fmt.Errorf("diagram directives enabled without a renderer")
	}

	t := &Transformer{
		renderer: renderer,
		logger:   logger.With("component", "transform"),
		kinds:    kinds,
		aliases:  callout.AliasRules(opts.Aliases),
	}
	if opts.Theorem {
		t.theorem = callout.TheoremRules(opts.Labels)
	}
	return t, nil
}

// Transform returns doc with every enabled pass applied. The first render or
// configuration error aborts the document.
func (t *Transformer) Transform(ctx context.Context, doc string) (string, error) {
	doc = callout.Apply(doc, t.theorem)
	doc = callout.Apply(doc, t.aliases)

	for _, k := range t.kinds {
		var (
			err   error
			count int
		)
		doc, err = block.Replace(doc, k.Command, func(d block.Directive) (string, error) {
			count++
			return t.replace(ctx, k, d)
		})
		if err != nil {
			return "", fmt.Errorf("\\%s directive %d: %w", k.Command, count, err)
		}
		if count > 0 {
			t.logger.Debug("rendered directives", slog.String("command", k.Command), slog.Int("count", count))
		}
	}
	return doc, nil
}

func (t *Transformer) replace(ctx context.Context, k Kind, d block.Directive) (string, error) {
	options, err := withMode(d.Mode, d.Options)
	if err != nil {
		return "", err
	}
	svg, err := t.renderer.Render(ctx, tex.Request{
		Command: d.Command,
		Options: options,
		Body:    d.Body,
	}, k.Cache)
	if err != nil {
		return "", err
	}
	return Wrap(svg), nil
}

// Wrap places an inline SVG in the container markup spliced into the page.
func Wrap(svg string) string {
	return `<div class=tikzcd-svg align=center>` + svg + `</div>`
}

func withMode(mode, options string) (string, error) {
	if mode == "" {
		return options, nil
	}
	extra, ok := modes[mode]
	if !ok {
		return "", &tex.ConfigError{Field: "mode", Value: mode}
	}
	if options == "" {
		return extra, nil
	}
	return extra + "," + options, nil
}
