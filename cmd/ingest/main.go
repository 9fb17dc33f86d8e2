// Command ingest runs the streaming ingestion service: one scheduled
// pipeline per data source (household, weather, grid), a Postgres-backed
// job log, and an HTTP surface for health, metrics, and run history.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/energy-data-ingest/internal/adapter/http"
	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/events"
	"github.com/couchcryptid/energy-data-ingest/internal/observability"
	"github.com/couchcryptid/energy-data-ingest/internal/pipeline"
	"github.com/couchcryptid/energy-data-ingest/internal/source"
	"github.com/couchcryptid/energy-data-ingest/internal/store"
	"github.com/couchcryptid/energy-data-ingest/internal/validate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	tracker := store.NewJobTracker(pool, logger)
	upserter := store.NewUpserter(pool, cfg.BatchSize, logger)
	validator := validate.New(cfg, logger)

	// Synthetic generation is feature-flagged; without it, exhausted
	// fallback chains surface as job failures instead.
	var gen *source.Generator
	if cfg.SyntheticFallback {
		gen = source.NewGenerator(cfg.SyntheticTier, time.Now().UnixNano())
		logger.Info("synthetic fallback enabled", "tier", cfg.SyntheticTier)
	} else {
		logger.Info("synthetic fallback disabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.JobEventsEnabled() {
		kp := events.NewKafkaPublisher(cfg, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
		publisher = kp
		logger.Info("job event publishing enabled", "topic", cfg.KafkaJobTopic)
	}

	newOrchestrator := func(client source.Client) *pipeline.Orchestrator {
		return pipeline.NewOrchestrator(client, validator, upserter, tracker, publisher,
			logger, metrics, cfg.MaxRetries, cfg.RetryDelay, cfg.RetryBackoffFactor)
	}

	schedules := []pipeline.Schedule{
		{Orchestrator: newOrchestrator(source.NewHouseholdClient(cfg, logger, gen)), Interval: cfg.HouseholdInterval},
		{Orchestrator: newOrchestrator(source.NewWeatherClient(cfg, logger, gen)), Interval: cfg.WeatherInterval},
		{Orchestrator: newOrchestrator(source.NewGridClient(cfg, logger, gen)), Interval: cfg.GridInterval},
	}

	manager := pipeline.NewManager(schedules, cfg.DrainTimeout, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, manager, tracker, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := manager.Start(); err != nil {
		logger.Error("streaming manager start failed", "error", err)
		os.Exit(1)
	}

	// Prune old job log rows once a day.
	go cleanupLoop(ctx, tracker, cfg.RetentionDays, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := manager.Stop(); err != nil {
		logger.Error("streaming manager stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func cleanupLoop(ctx context.Context, tracker *store.JobTracker, retentionDays int, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := tracker.Cleanup(ctx, retentionDays)
			if err != nil {
				logger.Error("job log cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("job log cleanup", "deleted", deleted, "retention_days", retentionDays)
			}
		}
	}
}
