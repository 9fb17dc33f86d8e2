package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// ObservationLog reads back which samples a feed already holds, so backfill
// can detect holes without re-fetching whole ranges.
type ObservationLog struct {
	db     Querier
	logger *slog.Logger
}

func NewObservationLog(db Querier, logger *slog.Logger) *ObservationLog {
	return &ObservationLog{db: db, logger: logger}
}

// WeatherTimestamps returns the stored observation timestamps for one
// location inside w, ascending.
func (o *ObservationLog) WeatherTimestamps(ctx context.Context, locationID string, w domain.Window) ([]time.Time, error) {
	const sql = `
		SELECT timestamp
		FROM weather.observations
		WHERE location_id = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY timestamp`

	rows, err := o.db.Query(ctx, sql, locationID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list weather timestamps for %s: %w", locationID, err)
	}
	defer rows.Close()

	var stamps []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan weather timestamp: %w", err)
		}
		stamps = append(stamps, t.UTC())
	}
	return stamps, rows.Err()
}

// WeatherGaps finds the missing hourly stretches for one location inside w.
func (o *ObservationLog) WeatherGaps(ctx context.Context, locationID string, w domain.Window) ([]domain.Window, error) {
	present, err := o.WeatherTimestamps(ctx, locationID, w)
	if err != nil {
		return nil, err
	}
	gaps := domain.FindGaps(present, w, time.Hour)
	o.logger.Debug("weather gap scan",
		"location", locationID, "window", w.String(), "present", len(present), "gaps", len(gaps))
	return gaps, nil
}
