// Package static embeds the stylesheets shipped with every build.
package static

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SVGStylesheet is the output-relative path of the inline SVG stylesheet.
const SVGStylesheet = "css/svg.css"

//go:embed css/*.css
var assets embed.FS

// Files lists the embedded asset paths, slash separated.
func Files() []string {
	var out []string
	_ = fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			out = append(out, path)
		}
		return err
	})
	return out
}

// CopyAll writes every embedded asset below dest, keeping its relative path.
func CopyAll(dest string) error {
	for _, name := range Files() {
		data, err := assets.ReadFile(name)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil { //nolint:gosec // standard file permissions
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
