// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// framesd serves the video library to annotation tooling over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/frameio/internal/config"
	"github.com/ManuGH/frameio/internal/indexcache"
	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/server"
	"github.com/ManuGH/frameio/internal/telemetry"
	"github.com/ManuGH/frameio/internal/version"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/ManuGH/frameio/internal/watch"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "", "path to framesd.yaml")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "framesd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	cfg = config.ApplyEnv(cfg)
	if err := cfg.Normalize(); err != nil {
		return err
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "framesd", Version: version.Version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "framesd",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	lib, err := watch.New(cfg.Library.Roots, cfg.Library.Extensions)
	if err != nil {
		return fmt.Errorf("library: %w", err)
	}

	var openOpts []video.Option
	if cfg.Index.CachePath != "" {
		store, err := indexcache.Open(cfg.Index.CachePath)
		if err != nil {
			return fmt.Errorf("index cache: %w", err)
		}
		defer func() { _ = store.Close() }()
		openOpts = append(openOpts, video.WithIndexCache(store))
		logger.Info().Str("path", cfg.Index.CachePath).Msg("index cache enabled")
	}

	srv := server.New(lib, server.Options{
		Opener: func(ctx context.Context, path string) (*video.Reader, error) {
			return video.Open(ctx, path, openOpts...)
		},
		RateLimitPerMin: cfg.API.RateLimitPerMin,
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           otelhttp.NewHandler(srv.Router(), "framesd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lib.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		logger.Info().
			Str("event", "daemon.started").
			Str("listen", cfg.API.Listen).
			Strs("roots", cfg.Library.Roots).
			Str("version", version.Version).
			Msg("framesd listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.API.ShutdownGraceSec)*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Str("event", "daemon.stopped").Msg("framesd stopped")
	return err
}
