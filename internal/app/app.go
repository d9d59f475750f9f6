// Package app assembles the cache, render pipeline and transformer from a
// finalized configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/euforicio/mathenv/internal/buildinfo"
	"github.com/euforicio/mathenv/internal/cache"
	"github.com/euforicio/mathenv/internal/config"
	"github.com/euforicio/mathenv/internal/tex"
	"github.com/euforicio/mathenv/internal/transform"
)

// Stack holds the long-lived services shared by a build.
type Stack struct {
	Store       cache.Store
	Pipeline    *tex.Pipeline
	Transformer *transform.Transformer
	Registry    *prometheus.Registry

	closers []func() error
}

// New opens the configured cache backend and constructs the pipeline and
// transformer. The cache is only opened, and its directory created, when an
// enabled diagram kind caches. A backend that cannot be opened is logged and
// the stack renders without a cache.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{Registry: prometheus.NewRegistry()}

	promauto.With(s.Registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   "mathenv",
		Name:        "build_info",
		Help:        "Build metadata of the running binary.",
		ConstLabels: prometheus.Labels{"version": buildinfo.Summary()},
	}).Set(1)

	if cfg.Caching() {
		store, err := s.openStore(ctx, cfg, logger)
		if err != nil {
			logger.Warn("cache unavailable, rendering without cache", slog.Any("err", err))
		} else {
			s.Store = store
		}
	}

	opts := cfg.PipelineOptions()
	opts.Registerer = s.Registry
	pipeline, err := tex.New(s.Store, logger, opts)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init render pipeline: %w", err)
	}
	s.Pipeline = pipeline

	tr, err := transform.New(pipeline, cfg.TransformOptions(), logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init transformer: %w", err)
	}
	s.Transformer = tr
	return s, nil
}

func (s *Stack) openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		client, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		logger.Info("using redis cache", slog.String("addr", cfg.Cache.RedisAddr))
		return cache.NewRedisStore(client, cfg.Cache.RedisPrefix, cfg.Cache.TTL), nil
	default:
		store, err := cache.NewDirStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("open cache directory: %w", err)
		}
		logger.Debug("using cache directory", slog.String("dir", store.Root()))
		return store, nil
	}
}

// WriteMetrics dumps the registry to path in the Prometheus text format.
func (s *Stack) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, s.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Close releases the cache backend.
func (s *Stack) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}
