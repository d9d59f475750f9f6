// Package tex renders TikZ diagram bodies to inline SVG with xelatex and
// dvisvgm, caching results by a digest of the body.
package tex

import (
	"sort"
	"strings"
)

// Request carries everything that determines a rendered image.
type Request struct {
	// Command is the LaTeX environment, e.g. "tikzcd". A leading backslash is ignored.
	Command string
	// Options is written as \begin{Command}[Options] when non-empty.
	Options string
	// Body is the environment content.
	Body string
}

// outputMode selects the intermediate format between the two stages.
type outputMode int

const (
	// modePDF: xelatex writes a PDF, dvisvgm reads it with -P.
	modePDF outputMode = iota
	// modeXDV: xelatex -no-pdf writes XDV, dvisvgm converts it directly.
	modeXDV
)

func (m outputMode) intermediateExt() string {
	if m == modeXDV {
		return "xdv"
	}
	return "pdf"
}

func (m outputMode) compilerArgs() []string {
	if m == modeXDV {
		return []string{"-no-pdf"}
	}
	return nil
}

func (m outputMode) converterArgs() []string {
	if m == modeXDV {
		return []string{"--no-fonts", "--font-format=woff2"}
	}
	return []string{"-P", "--no-styles", "--font-format=woff2"}
}

type environment struct {
	preamble string
	mode     outputMode
}

const tikzcdPreamble = `
\documentclass{standalone}
\usepackage{tikz}
\usepackage{amssymb}
\usetikzlibrary{cd, decorations.markings, automata, positioning, arrows}
\tikzset{double line with arrow/.style args={#1,#2}{decorate,decoration={markings,%
mark=at position 0 with {\coordinate (ta-base-1) at (0,1pt);
\coordinate (ta-base-2) at (0,-1pt);},
mark=at position 1 with {\draw[#1] (ta-base-1) -- (0,1pt);
\draw[#2] (ta-base-2) -- (0,-1pt);
}}}}
`

const tikzpicturePreamble = `
\documentclass[dvisvgm]{standalone}
\usepackage{tikz}
\usetikzlibrary{cd, decorations.markings, automata, positioning, arrows}
`

var environments = map[string]environment{
	"tikzcd":      {preamble: tikzcdPreamble, mode: modePDF},
	"tikzpicture": {preamble: tikzpicturePreamble, mode: modeXDV},
}

// Commands lists the environments the pipeline can render.
func Commands() []string {
	out := make([]string, 0, len(environments))
	for name := range environments {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func commandName(cmd string) string {
	return strings.TrimPrefix(strings.TrimSpace(cmd), `\`)
}

func lookupEnvironment(cmd string) (string, environment, error) {
	name := commandName(cmd)
	env, ok := environments[name]
	if !ok {
		return name, environment{}, &ConfigError{Field: "command", Value: name}
	}
	return name, env, nil
}

// Source assembles the complete LaTeX document for req.
func Source(req Request) (string, error) {
	name, env, err := lookupEnvironment(req.Command)
	if err != nil {
		return "", err
	}
	return assemble(name, env, req), nil
}

func assemble(name string, env environment, req Request) string {
	begin := `\begin{` + name + `}`
	if req.Options != "" {
		begin += "[" + req.Options + "]"
	}
	content := strings.Join([]string{
		begin,
		strings.TrimSpace(req.Body),
		`\end{` + name + "}\n",
	}, "\n")

	return strings.Join([]string{
		env.preamble,
		`\begin{document}`,
		content,
		`\end{document}`,
	}, "\n\n") + "\n"
}

var newlineStripper = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

// Normalize strips a leading XML declaration and removes line breaks so the
// image can sit inline in markdown.
func Normalize(svg string) string {
	s := strings.TrimPrefix(svg, "\ufeff")
	if strings.HasPrefix(s, "<?xml") {
		if end := strings.Index(s, "?>"); end >= 0 {
			s = strings.TrimLeft(s[end+2:], "\r\n")
		}
	}
	return newlineStripper.Replace(s)
}
