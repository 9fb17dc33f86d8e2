//go:build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/store"
)

func gridBatch(base time.Time, n int) []domain.Record {
	records := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		r := &domain.GridSnapshot{
			CountryCode:     "FR",
			LoadActual:      domain.Float(50000 + float64(i)),
			TotalGeneration: domain.Float(52000),
			SourceName:      "Open Power System Data",
		}
		r.Ts = base.Add(time.Duration(i) * time.Hour)
		r.Quality = 1.0
		r.Prov = domain.ProvenanceLive
		records = append(records, r)
	}
	return records
}

// TestUpsertIdempotence verifies the core write guarantee against a real
// database: replaying the same batch updates the existing rows instead of
// duplicating them.
func TestUpsertIdempotence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, startPostgres(ctx, t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	upserter := store.NewUpserter(pool, 2, discardLogger())
	base := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	batch := gridBatch(base, 5)

	res, err := upserter.Write(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, store.WriteResult{Inserted: 5, Updated: 0}, res)

	// Replay the identical batch.
	res, err = upserter.Write(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, store.WriteResult{Inserted: 0, Updated: 5}, res)

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM grid.operations WHERE country_code = 'FR'").Scan(&count))
	assert.Equal(t, 5, count)
}

// TestUpsertOverwritesOnConflict verifies a replay with changed measurements
// lands the new values on the existing natural keys.
func TestUpsertOverwritesOnConflict(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, startPostgres(ctx, t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	upserter := store.NewUpserter(pool, 500, discardLogger())
	base := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

	_, err = upserter.Write(ctx, gridBatch(base, 1))
	require.NoError(t, err)

	revised := &domain.GridSnapshot{
		CountryCode:     "FR",
		LoadActual:      domain.Float(61000),
		TotalGeneration: domain.Float(62000),
		SourceName:      "Open Power System Data",
	}
	revised.Ts = base
	revised.Quality = 0.9
	_, err = upserter.Write(ctx, []domain.Record{revised})
	require.NoError(t, err)

	var load, quality float64
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT load_actual_mw, data_quality_score FROM grid.operations WHERE country_code = 'FR' AND timestamp = $1",
		base).Scan(&load, &quality))
	assert.Equal(t, 61000.0, load)
	assert.Equal(t, 0.9, quality)
}

// TestJobTrackerLifecycle exercises the job log against a real database:
// start, complete, list, aggregate.
func TestJobTrackerLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, startPostgres(ctx, t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tracker := store.NewJobTracker(pool, discardLogger())

	id, err := tracker.Start(ctx, "grid_ingest", domain.SourceGrid)
	require.NoError(t, err)
	require.Positive(t, id)

	jobs, err := tracker.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.StatusRunning, jobs[0].Status)
	assert.Nil(t, jobs[0].EndTime)

	require.NoError(t, tracker.Complete(ctx, id, store.StatusSuccess, 72, 70, ""))

	jobs, err = tracker.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.StatusSuccess, jobs[0].Status)
	assert.NotNil(t, jobs[0].EndTime)
	assert.Equal(t, 72, jobs[0].RecordsProcessed)
	assert.Equal(t, 70, jobs[0].RecordsInserted)
	assert.Nil(t, jobs[0].ErrorMessage)

	stats, err := tracker.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.SuccessfulJobs)
	assert.Equal(t, 0, stats.FailedJobs)
	assert.EqualValues(t, 72, stats.RecordsProcessed)
}
