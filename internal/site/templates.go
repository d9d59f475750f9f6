package site

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
)

const (
	highlightCSS   = "highlight.css"
	highlightStyle = "github-dark"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

type pageViewData struct {
	Modified    time.Time
	Title       string
	Description string
	AssetBase   string
	Body        template.HTML
	Tags        []string
}

type templateRenderer struct {
	tmpl *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("Jan 2, 2006 3:04 PM")
		},
	}

	base, err := template.New("page").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{tmpl: base}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// writeHighlightCSS writes the class based stylesheet matching the renderer's
// chroma output.
func writeHighlightCSS(w io.Writer) error {
	formatter := html.New(
		html.WithClasses(true),
	)
	return formatter.WriteCSS(w, styles.Get(highlightStyle))
}
