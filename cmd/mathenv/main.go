// Package main provides the mathenv build CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/euforicio/mathenv/internal/app"
	"github.com/euforicio/mathenv/internal/buildinfo"
	"github.com/euforicio/mathenv/internal/config"
	"github.com/euforicio/mathenv/internal/renderer"
	"github.com/euforicio/mathenv/internal/site"
	"github.com/euforicio/mathenv/internal/watch"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("load configuration", slog.Any("err", err))
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("mathenv", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		os.Exit(0)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "mathenv")
	slog.SetDefault(logger)
	logger.Info("starting mathenv", slog.String("version", buildinfo.Summary()), slog.String("root", cfg.RootDir))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		cancel()
		logger.Error("build failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	stack, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("close cache", slog.Any("err", err))
		}
	}()

	svc := renderer.NewService(logger, stack.Transformer)
	builder, err := site.New(svc, site.Options{
		Root:          cfg.RootDir,
		OutputDir:     cfg.OutputDir,
		Ignore:        []string{cfg.Cache.Dir},
		Jobs:          cfg.Jobs,
		HTML:          cfg.HTML,
		IncludeHidden: cfg.IncludeHidden,
		CleanOutput:   cfg.Clean,
	}, logger)
	if err != nil {
		return err
	}

	res, buildErr := builder.Build(ctx)
	stats := stack.Pipeline.Stats()
	if buildErr == nil {
		fmt.Printf("built %d pages and %d files into %s in %s (renders: %d, cache hits: %d)\n",
			res.Pages, res.Assets, cfg.OutputDir, res.Duration.Round(time.Millisecond), stats.Renders, stats.Hits)
	}
	if err := writeMetrics(stack, cfg.MetricsFile); err != nil {
		logger.Warn("metrics not written", slog.Any("err", err))
	}
	if !cfg.Watch {
		return buildErr
	}
	if buildErr != nil {
		logger.Error("initial build failed, watching for changes", slog.Any("err", buildErr))
	}

	w, err := watch.New(ctx, cfg.RootDir, builder, logger, watch.Options{
		IncludeHidden: cfg.IncludeHidden,
		Ignore:        []string{cfg.OutputDir, cfg.Cache.Dir},
	})
	if err != nil {
		return err
	}
	fmt.Printf("watching %s for changes\n", cfg.RootDir)

	events := w.Subscribe(ctx)
	for evt := range events {
		switch evt.Type {
		case watch.EventFailed:
			fmt.Fprintf(os.Stderr, "failed %s: %v\n", evt.Path, evt.Err)
		default:
			fmt.Printf("%s %s\n", evt.Type, evt.Path)
		}
	}

	if err := writeMetrics(stack, cfg.MetricsFile); err != nil {
		logger.Warn("metrics not written", slog.Any("err", err))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("shutdown complete")
	}
	return nil
}

func writeMetrics(stack *app.Stack, path string) error {
	if path == "" {
		return nil
	}
	return stack.WriteMetrics(path)
}
