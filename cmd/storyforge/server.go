package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperjump/storyforge/internal/extract"
	"github.com/hyperjump/storyforge/internal/harvest"
	"github.com/hyperjump/storyforge/internal/scheduler"
	"github.com/hyperjump/storyforge/internal/server"
	"github.com/hyperjump/storyforge/internal/watcher"
	"go.uber.org/zap"
)

// snapshotter persists the vector indices.
type snapshotter interface {
	Save() error
}

// harvestOnChange feeds watcher events into the harvester and snapshots the
// vector indices after each change.
type harvestOnChange struct {
	harvester *harvest.Harvester
	db        snapshotter
	logger    *zap.Logger
}

func (h *harvestOnChange) FileChanged(path string) {
	rep, err := h.harvester.HarvestFile(context.Background(), path)
	if err != nil {
		h.logger.Warn("watch harvest failed", zap.String("path", path), zap.Error(err))
		return
	}
	h.logger.Debug("watch harvested file", zap.String("path", path), zap.Int("added", rep.Added))
	if rep.Files > 0 {
		h.save()
	}
}

func (h *harvestOnChange) FileRemoved(path string) {
	n, err := h.harvester.RemoveFile(context.Background(), path)
	if err != nil {
		h.logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
		return
	}
	h.logger.Debug("watch removed file records", zap.String("path", path), zap.Int("removed", n))
	if n > 0 {
		h.save()
	}
}

func (h *harvestOnChange) save() {
	if err := h.db.Save(); err != nil {
		h.logger.Warn("vector index save failed", zap.Error(err))
	}
}

func harvestable(path string) bool {
	return extract.KindOf(path) != extract.KindUnsupported
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watch events, harvested files, etc.)")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Close()

	if cfg.Ingest.Watch {
		w := watcher.New(cfg.Ingest.DatasetsPath,
			&harvestOnChange{harvester: components.Harvester, db: components.DB, logger: logger},
			watcher.WithLogger(logger),
			watcher.WithFilter(harvestable),
		)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		go w.SyncExisting()
	}

	if cfg.Ingest.Schedule != "" {
		sched, err := scheduler.New(cfg.Ingest.Schedule, func(ctx context.Context) error {
			if _, err := components.Harvester.Harvest(ctx, cfg.Ingest.DatasetsPath); err != nil {
				return err
			}
			return components.DB.Save()
		}, 30*time.Minute, logger)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop(time.Minute)
		logger.Info("scheduled harvest", zap.String("spec", cfg.Ingest.Schedule), zap.Time("next", sched.Next()))
	}

	client, teller := newStoryteller(cfg, logger)
	srv := server.NewServer(components.DB, components.Harvester, teller, client, cfg, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}
