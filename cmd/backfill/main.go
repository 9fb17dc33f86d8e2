// Command backfill runs one-shot historical ingestion for a date range,
// splitting the range into 30-day windows so a multi-year backfill never
// produces a single oversized fetch or upsert.
//
// Usage:
//
//	go run ./cmd/backfill -source grid -start 2019-01-01 -end 2020-01-01
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/observability"
	"github.com/couchcryptid/energy-data-ingest/internal/pipeline"
	"github.com/couchcryptid/energy-data-ingest/internal/source"
	"github.com/couchcryptid/energy-data-ingest/internal/store"
	"github.com/couchcryptid/energy-data-ingest/internal/validate"
)

const chunkDays = 30

func main() {
	if err := run(); err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	srcFlag := flag.String("source", "all", "data source to backfill: household, weather, grid, or all")
	startFlag := flag.String("start", "", "range start (YYYY-MM-DD, inclusive)")
	endFlag := flag.String("end", "", "range end (YYYY-MM-DD, exclusive); defaults to today")
	fillGapsFlag := flag.Bool("fill-gaps", false,
		"scan stored weather observations for missing hours and re-fetch them instead of running a date range")
	flag.Parse()

	var start, end time.Time
	if !*fillGapsFlag {
		if *startFlag == "" {
			flag.Usage()
			return fmt.Errorf("missing required flag: -start")
		}
		var err error
		start, err = time.Parse("2006-01-02", *startFlag)
		if err != nil {
			return fmt.Errorf("invalid -start: %w", err)
		}
		end = time.Now().UTC().Truncate(24 * time.Hour)
		if *endFlag != "" {
			end, err = time.Parse("2006-01-02", *endFlag)
			if err != nil {
				return fmt.Errorf("invalid -end: %w", err)
			}
		}
		if !end.After(start) {
			return fmt.Errorf("-end %s must be after -start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	tracker := store.NewJobTracker(pool, logger)
	upserter := store.NewUpserter(pool, cfg.BatchSize, logger)
	validator := validate.New(cfg, logger)

	var gen *source.Generator
	if cfg.SyntheticFallback {
		gen = source.NewGenerator(cfg.SyntheticTier, time.Now().UnixNano())
	}

	if *fillGapsFlag {
		if *srcFlag != "all" && *srcFlag != "weather" {
			return fmt.Errorf("-fill-gaps only applies to weather, not %q", *srcFlag)
		}
		return fillWeatherGaps(ctx, cfg, logger, metrics, pool, tracker, upserter, validator, gen)
	}

	clients, err := selectClients(*srcFlag, cfg, logger, gen)
	if err != nil {
		return err
	}

	var failures int
	for _, client := range clients {
		orch := pipeline.NewOrchestrator(client, validator, upserter, tracker, nil,
			logger, metrics, cfg.MaxRetries, cfg.RetryDelay, cfg.RetryBackoffFactor)

		for ws := start; ws.Before(end); ws = ws.AddDate(0, 0, chunkDays) {
			we := ws.AddDate(0, 0, chunkDays)
			if we.After(end) {
				we = end
			}
			window := domain.NewWindow(ws, we)

			report := orch.Run(ctx, window)
			logger.Info("backfill window done",
				"source", report.Source,
				"status", report.Status,
				"window_start", ws.Format("2006-01-02"),
				"window_end", we.Format("2006-01-02"),
				"processed", report.Processed,
				"inserted", report.Inserted,
				"updated", report.Updated,
			)
			if report.Status == store.StatusFailed {
				failures++
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d backfill window(s) failed", failures)
	}
	logger.Info("backfill complete")
	return nil
}

const (
	gapScanDaysBack = 90
	maxGapDays      = 7
)

// fillWeatherGaps scans the stored observations of every configured location
// for missing hours over the trailing 90 days, then re-runs the weather
// pipeline once per merged gap. Gaps longer than maxGapDays usually mean the
// upstream never had the data, so they are logged and left alone.
func fillWeatherGaps(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
	db store.Querier,
	tracker *store.JobTracker,
	upserter *store.Upserter,
	validator *validate.Validator,
	gen *source.Generator,
) error {
	now := time.Now().UTC().Truncate(time.Hour)
	scan := domain.NewWindow(now.AddDate(0, 0, -gapScanDaysBack), now)
	log := store.NewObservationLog(db, logger)

	var gaps []domain.Window
	for _, loc := range cfg.WeatherLocations {
		found, err := log.WeatherGaps(ctx, loc.ID, scan)
		if err != nil {
			return fmt.Errorf("scan gaps for %s: %w", loc.ID, err)
		}
		logger.Info("gap scan done", "location", loc.ID, "gaps", len(found))
		gaps = append(gaps, found...)
	}
	gaps = domain.MergeWindows(gaps)
	if len(gaps) == 0 {
		logger.Info("no weather gaps found", "window", scan.String())
		return nil
	}

	orch := pipeline.NewOrchestrator(source.NewWeatherClient(cfg, logger, gen),
		validator, upserter, tracker, nil,
		logger, metrics, cfg.MaxRetries, cfg.RetryDelay, cfg.RetryBackoffFactor)

	var failures, skipped int
	for _, gap := range gaps {
		// Window bounds are the first and last missing hour, so the
		// covered span is one step longer than End-Start.
		if gap.Duration()+time.Hour > maxGapDays*24*time.Hour {
			logger.Warn("gap too large to fill", "gap", gap.String(),
				"max_days", maxGapDays)
			skipped++
			continue
		}

		report := orch.Run(ctx, gap)
		logger.Info("gap fill done",
			"gap", gap.String(),
			"status", report.Status,
			"processed", report.Processed,
			"inserted", report.Inserted,
			"updated", report.Updated,
		)
		if report.Status == store.StatusFailed {
			failures++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d gap fill(s) failed", failures)
	}
	logger.Info("gap fill complete", "filled", len(gaps)-skipped, "skipped", skipped)
	return nil
}

func selectClients(name string, cfg *config.Config, logger *slog.Logger, gen *source.Generator) ([]source.Client, error) {
	switch name {
	case "household":
		return []source.Client{source.NewHouseholdClient(cfg, logger, gen)}, nil
	case "weather":
		return []source.Client{source.NewWeatherClient(cfg, logger, gen)}, nil
	case "grid":
		return []source.Client{source.NewGridClient(cfg, logger, gen)}, nil
	case "all":
		return []source.Client{
			source.NewHouseholdClient(cfg, logger, gen),
			source.NewWeatherClient(cfg, logger, gen),
			source.NewGridClient(cfg, logger, gen),
		}, nil
	default:
		return nil, fmt.Errorf("unknown -source %q: want household, weather, grid, or all", name)
	}
}
