package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirStore keeps one <digest>.svg file per entry in a flat directory.
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at dir, creating the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory must be provided")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &IOError{Op: "resolve", Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil { //nolint:gosec // standard directory permissions
		return nil, &IOError{Op: "create", Err: err}
	}
	return &DirStore{root: abs}, nil
}

// Root returns the absolute cache directory.
func (s *DirStore) Root() string {
	return s.root
}

// Path returns the file that holds digest.
func (s *DirStore) Path(digest string) string {
	return filepath.Join(s.root, digest+Ext)
}

// Lookup reads the entry for digest.
func (s *DirStore) Lookup(ctx context.Context, digest string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := ValidateDigest(digest); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(s.Path(digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, &IOError{Op: "read", Digest: digest, Err: err}
	}
	return string(data), true, nil
}

// Store writes svg under digest unless an entry already exists. The file is
// written to a temp name and renamed so readers never see a partial entry.
func (s *DirStore) Store(ctx context.Context, digest, svg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateDigest(digest); err != nil {
		return err
	}
	target := s.Path(digest)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.root, "."+digest+"-*")
	if err != nil {
		return &IOError{Op: "write", Digest: digest, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(svg); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Digest: digest, Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Digest: digest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Digest: digest, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		return &IOError{Op: "write", Digest: digest, Err: err}
	}
	keep = true
	return nil
}
