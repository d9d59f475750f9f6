package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/euforicio/mathenv/internal/config"
)

func TestRunTransformsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	input := filepath.Join(dir, "page.md")
	if err := os.WriteFile(input, []byte("\\lemma\n    Every group is a category.\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	cfg := config.Default()
	cfg.RootDir = dir
	cfg.OutputDir = filepath.Join(dir, "site")
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Theorem.Enable = true
	cfg.Theorem.Lemma = "Lemma"
	if err := config.Finalize(&cfg); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := run(context.Background(), cfg, input, &out, logger); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got, want := out.String(), "!!! success \"Lemma\"\n    Every group is a category.\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadInputMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := readInput(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
