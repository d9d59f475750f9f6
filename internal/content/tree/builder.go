// Package tree walks a docs directory and collects its markdown pages and
// supporting files.
package tree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

// NodeType identifies what a tree node represents.
type NodeType string

// Node type constants for directory, page and asset entries.
const (
	NodeTypeDirectory NodeType = "directory"
	NodeTypeFile      NodeType = "file"
	NodeTypeAsset     NodeType = "asset"
)

// Node is a directory, markdown page or asset below the root.
type Node struct {
	Modified time.Time
	// RelativePath is slash separated and empty for the root.
	RelativePath string
	Type         NodeType
	Children     []*Node
}

// Options control how the tree is constructed.
type Options struct {
	// ExcludeDirs are directory names skipped at any depth, compared
	// case-insensitively.
	ExcludeDirs   []string
	IncludeHidden bool
	// Assets includes non-markdown files as NodeTypeAsset entries.
	Assets bool
}

var defaultExcludedDirs = []string{
	"node_modules",
	"vendor",
	"venv",
	".venv",
	".git",
	".hg",
	".svn",
	"__pycache__",
}

// Build walks root and returns its tree. Directories without any collected
// entry are pruned.
func Build(ctx context.Context, root string, opts Options) (*Node, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	w := walker{root: absRoot, opts: opts, exclude: make(map[string]bool)}
	for _, name := range slices.Concat(defaultExcludedDirs, opts.ExcludeDirs) {
		if name = strings.TrimSpace(name); name != "" {
			w.exclude[strings.ToLower(name)] = true
		}
	}

	return w.dir(ctx, "", info.ModTime())
}

// Files returns every page below n in walk order.
func (n *Node) Files() []*Node {
	return n.collect(NodeTypeFile, nil)
}

// Assets returns every asset below n in walk order.
func (n *Node) Assets() []*Node {
	return n.collect(NodeTypeAsset, nil)
}

func (n *Node) collect(kind NodeType, out []*Node) []*Node {
	if n == nil {
		return out
	}
	if n.Type == kind {
		out = append(out, n)
	}
	for _, child := range n.Children {
		out = child.collect(kind, out)
	}
	return out
}

// IsMarkdown reports whether name has a markdown extension.
func IsMarkdown(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return true
	default:
		return false
	}
}

type walker struct {
	root    string
	opts    Options
	exclude map[string]bool
}

func (w *walker) dir(ctx context.Context, rel string, modTime time.Time) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", abs, err)
	}

	var children []*Node
	for _, entry := range entries {
		name := entry.Name()
		if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}

		kind := NodeTypeFile
		switch {
		case entry.IsDir():
			if w.exclude[strings.ToLower(name)] {
				continue
			}
			kind = NodeTypeDirectory
		case IsMarkdown(name):
		case w.opts.Assets && entry.Type().IsRegular():
			kind = NodeTypeAsset
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", childRel, err)
		}
		if kind != NodeTypeDirectory {
			children = append(children, &Node{RelativePath: childRel, Type: kind, Modified: info.ModTime()})
			continue
		}
		sub, err := w.dir(ctx, childRel, info.ModTime())
		if err != nil {
			return nil, err
		}
		if sub != nil {
			children = append(children, sub)
		}
	}

	if len(children) == 0 && rel != "" {
		return nil, nil
	}
	sort.SliceStable(children, func(i, j int) bool {
		di, dj := children[i].Type == NodeTypeDirectory, children[j].Type == NodeTypeDirectory
		if di != dj {
			return di
		}
		return children[i].RelativePath < children[j].RelativePath
	})
	return &Node{RelativePath: rel, Type: NodeTypeDirectory, Modified: modTime, Children: children}, nil
}
