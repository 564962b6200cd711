package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/shelver/internal/config"
	"github.com/JonMunkholm/shelver/internal/core"
	"github.com/JonMunkholm/shelver/internal/enrich"
	"github.com/JonMunkholm/shelver/internal/imagestore"
	"github.com/JonMunkholm/shelver/internal/metrics"
	"github.com/JonMunkholm/shelver/internal/store/memory"
	"github.com/JonMunkholm/shelver/internal/store/postgres"
)

// app is the wired service plus what must be released on exit.
type app struct {
	service *core.Service
	metrics *metrics.PrometheusRecorder
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case config.DriverMemory:
		slog.Warn("using in-memory store; batches are lost on exit")
		return memory.New(), func() {}, nil
	default:
		pg, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	recorder := metrics.NewPrometheusRecorder()
	chain, err := enrich.FromConfig(cfg.Enrichment, slog.Default(), recorder)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("build enrichment chain: %w", err)
	}

	service := core.NewService(store, chain, serviceOptions(cfg),
		core.WithImageStore(imagestore.New(cfg.Upload.ImageDir)),
		core.WithRecorder(recorder),
	)
	return &app{service: service, metrics: recorder, close: closeStore}, nil
}

func serviceOptions(cfg *config.Config) core.Options {
	return core.Options{
		BatchLimit:             cfg.Upload.MaxRecords,
		DefaultSectionCapacity: cfg.Placement.DefaultSectionCapacity,
		MaxConcurrentBatches:   cfg.Processing.MaxConcurrentBatches,
		MaxWaitTime:            cfg.Processing.MaxWaitTime,
		BatchTimeout:           cfg.Processing.BatchTimeout,
		Processing: core.ProcessOptions{
			SubBatchSize: cfg.Processing.SubBatchSize,
			Concurrency:  cfg.Processing.Concurrency,
		},
		Placement: core.PlacementOptions{
			MaxSectionsPerShelf: cfg.Placement.MaxSectionsPerShelf,
			OverflowCapacity:    cfg.Placement.OverflowCapacity,
			ReserveAttempts:     cfg.Placement.ReserveAttempts,
		},
	}
}
