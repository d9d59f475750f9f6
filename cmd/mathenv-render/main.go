// Package main provides a CLI that transforms a single markdown document and
// writes the result to stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/mathenv/internal/app"
	"github.com/euforicio/mathenv/internal/buildinfo"
	"github.com/euforicio/mathenv/internal/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("load configuration", slog.Any("err", err))
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("mathenv-render", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mathenv-render [flags] [file|-]\n\n")
		flags.PrintDefaults()
	}
	config.RegisterTransformFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		os.Exit(0)
	}
	if flags.NArg() > 1 {
		flags.Usage()
		os.Exit(2)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, flags.Arg(0), os.Stdout, logger); err != nil {
		cancel()
		logger.Error("render failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, input string, out io.Writer, logger *slog.Logger) error {
	doc, err := readInput(input)
	if err != nil {
		return err
	}

	stack, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("close cache", slog.Any("err", err))
		}
	}()

	result, err := stack.Transformer.Transform(ctx, string(doc))
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, result)
	return err
}

func readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name) //nolint:gosec // path supplied by the user
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}
