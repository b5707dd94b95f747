package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threatprint/internal/api"
	"threatprint/internal/api/handlers"
	"threatprint/internal/config"
	"threatprint/internal/engine"
	"threatprint/internal/metrics"
	"threatprint/internal/snapshot"
	"threatprint/internal/streaming"
	"threatprint/pkg/logger"
)

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting threatprint")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional NATS event streaming
	engineOpts := []engine.Option{}
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without event streaming")
		} else {
			defer natsPublisher.Close()
			engineOpts = append(engineOpts, engine.WithEventPublisher(
				streaming.NewEnginePublisher(natsPublisher, log)))
		}
	}

	eng, err := engine.New(cfg.Engine, log, engineOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}
	log.Info().
		Str("similarity_engine", cfg.Engine.SimilarityEngine).
		Int("batch_size", cfg.Engine.BatchSize).
		Msg("engine initialized")

	// Optional Redis snapshot persistence
	var snapRepo *snapshot.RedisRepository
	if cfg.Redis.Enabled {
		snapRepo, err = snapshot.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer snapRepo.Close()

		restoreSnapshot(ctx, eng, snapRepo, cfg.Snapshot.Key, log)
		go snapshotLoop(ctx, eng, snapRepo, cfg.Snapshot, log)
	}

	m := metrics.New(cfg.App.Name)
	m.RegisterEngine(cfg.App.Name, eng.Stats)

	h := handlers.New(eng, m, cfg.App.Version, log)
	router := api.NewRouter(*cfg, h, m, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Final snapshot so a restart resumes from current state
	if snapRepo != nil {
		if err := snapRepo.Save(shutdownCtx, cfg.Snapshot.Key, eng.Export()); err != nil {
			log.Error().Err(err).Msg("final snapshot failed")
		}
	}

	log.Info().Msg("shutdown complete")
}

// restoreSnapshot loads the last persisted corpus, if any
func restoreSnapshot(ctx context.Context, eng *engine.Engine, repo *snapshot.RedisRepository, key string, log *logger.Logger) {
	snap, err := repo.Load(ctx, key)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		log.Info().Msg("no stored snapshot, starting empty")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to load snapshot, starting empty")
		return
	}
	if err := eng.Import(snap); err != nil {
		log.Warn().Err(err).Msg("failed to import snapshot, starting empty")
		return
	}
	log.Info().
		Int("indicators", len(snap.Indicators)).
		Time("taken_at", snap.TakenAt).
		Msg("snapshot restored")
}

// snapshotLoop persists the corpus periodically. The distributed lock
// keeps replicas from overwriting each other within one interval.
func snapshotLoop(ctx context.Context, eng *engine.Engine, repo *snapshot.RedisRepository, cfg config.SnapshotConfig, log *logger.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := repo.AcquireLock(ctx, cfg.Key, interval/2)
			if err != nil || !acquired {
				continue
			}
			if err := repo.Save(ctx, cfg.Key, eng.Export()); err != nil {
				log.Error().Err(err).Msg("periodic snapshot failed")
			}
			repo.ReleaseLock(ctx, cfg.Key)
		}
	}
}
