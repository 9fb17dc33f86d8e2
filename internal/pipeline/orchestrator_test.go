package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/events"
	"github.com/couchcryptid/energy-data-ingest/internal/observability"
	"github.com/couchcryptid/energy-data-ingest/internal/store"
	"github.com/couchcryptid/energy-data-ingest/internal/validate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeClient struct {
	src   domain.Source
	fetch func(ctx context.Context, w domain.Window) ([]domain.Record, error)
}

func (c *fakeClient) Source() domain.Source { return c.src }

func (c *fakeClient) Fetch(ctx context.Context, w domain.Window) ([]domain.Record, error) {
	return c.fetch(ctx, w)
}

type completion struct {
	jobID     int64
	status    store.JobStatus
	processed int
	inserted  int
	errMsg    string
}

type fakeTracker struct {
	mu          sync.Mutex
	nextID      int64
	startErr    error
	started     []string
	completions []completion
}

func (t *fakeTracker) Start(_ context.Context, jobName string, _ domain.Source) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return 0, t.startErr
	}
	t.nextID++
	t.started = append(t.started, jobName)
	return t.nextID, nil
}

func (t *fakeTracker) Complete(_ context.Context, jobID int64, status store.JobStatus, processed, inserted int, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completions = append(t.completions, completion{jobID, status, processed, inserted, errMsg})
	return nil
}

func (t *fakeTracker) lastCompletion(tb testing.TB) completion {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.NotEmpty(tb, t.completions)
	return t.completions[len(t.completions)-1]
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]domain.Record
	write   func(records []domain.Record) (store.WriteResult, error)
}

func (w *fakeWriter) Write(_ context.Context, records []domain.Record) (store.WriteResult, error) {
	w.mu.Lock()
	w.batches = append(w.batches, records)
	w.mu.Unlock()
	if w.write != nil {
		return w.write(records)
	}
	return store.WriteResult{Inserted: len(records)}, nil
}

type spyPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *spyPublisher) Publish(_ context.Context, e events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *spyPublisher) Close() error { return nil }

func testValidator(strict bool) *validate.Validator {
	cfg := &config.Config{
		StrictValidation:   strict,
		RejectionTolerance: 0.1,
		QualityWeights: config.QualityWeights{
			Freshness: 0.25, Completeness: 0.25, Accuracy: 0.25, Consistency: 0.25,
		},
	}
	return validate.New(cfg, testLogger())
}

func freshObservation(i int) domain.Record {
	obs := &domain.WeatherObservation{
		LocationID:      "paris_fr_001",
		Temperature:     domain.Float(12),
		Humidity:        domain.Float(70),
		WindSpeed:       domain.Float(10),
		SurfacePressure: domain.Float(1013),
	}
	obs.Ts = domain.Now().Add(-time.Duration(i+1) * time.Minute)
	obs.Prov = domain.ProvenanceLive
	return obs
}

func freshBatch(n int) []domain.Record {
	records := make([]domain.Record, n)
	for i := range records {
		records[i] = freshObservation(i)
	}
	return records
}

func newTestOrchestrator(client *fakeClient, strict bool, writer *fakeWriter, tracker *fakeTracker, pub events.Publisher) *Orchestrator {
	return NewOrchestrator(client, testValidator(strict), writer, tracker, pub,
		testLogger(), observability.NewMetricsForTesting(),
		3, time.Millisecond, 2.0)
}

func TestRunSuccess(t *testing.T) {
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		return freshBatch(5), nil
	}}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}
	pub := &spyPublisher{}

	report := newTestOrchestrator(client, false, writer, tracker, pub).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusSuccess, report.Status)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 5, report.Inserted)
	assert.NoError(t, report.Err)

	last := tracker.lastCompletion(t)
	assert.Equal(t, store.StatusSuccess, last.status)
	assert.Equal(t, 5, last.processed)
	assert.Equal(t, 5, last.inserted)
	assert.Empty(t, last.errMsg)
	assert.Equal(t, []string{"weather_ingest"}, tracker.started)

	require.Len(t, pub.events, 1)
	assert.Equal(t, store.StatusSuccess, pub.events[0].Status)
}

func TestRunRetriesTransientThenFails(t *testing.T) {
	attempts := 0
	client := &fakeClient{src: domain.SourceGrid, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		attempts++
		return nil, domain.Transientf("get: status 503")
	}}
	tracker := &fakeTracker{}

	report := newTestOrchestrator(client, false, &fakeWriter{}, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, 3, attempts, "exactly max_retries attempts")
	assert.Equal(t, store.StatusFailed, report.Status)
	require.Error(t, report.Err)

	last := tracker.lastCompletion(t)
	assert.Equal(t, store.StatusFailed, last.status)
	assert.NotEmpty(t, last.errMsg, "failed runs must carry an error message")
	assert.Zero(t, last.inserted)
}

func TestRunPermanentFailureAbortsImmediately(t *testing.T) {
	attempts := 0
	client := &fakeClient{src: domain.SourceGrid, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		attempts++
		return nil, domain.Permanentf("authentication rejected (status 401)")
	}}
	tracker := &fakeTracker{}

	report := newTestOrchestrator(client, false, &fakeWriter{}, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, 1, attempts, "permanent failures must not be retried")
	assert.Equal(t, store.StatusFailed, report.Status)
	assert.Contains(t, tracker.lastCompletion(t).errMsg, "authentication")
}

func TestRunRetrySucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		attempts++
		if attempts == 1 {
			return nil, domain.Transientf("timeout")
		}
		return freshBatch(2), nil
	}}
	tracker := &fakeTracker{}

	report := newTestOrchestrator(client, false, &fakeWriter{}, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusSuccess, report.Status)
	assert.Equal(t, 2, report.Attempts)
}

func strictGateBatch() []domain.Record {
	records := freshBatch(9)
	wild := &domain.WeatherObservation{
		LocationID:      "paris_fr_001",
		Temperature:     domain.Float(999),
		Humidity:        domain.Float(70),
		WindSpeed:       domain.Float(10),
		SurfacePressure: domain.Float(1013),
	}
	wild.Ts = domain.Now().Add(-30 * time.Minute)
	wild.Prov = domain.ProvenanceLive
	return append(records, wild)
}

func TestRunValidationGateStrict(t *testing.T) {
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		return strictGateBatch(), nil
	}}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}

	report := newTestOrchestrator(client, true, writer, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusFailed, report.Status)
	assert.Empty(t, writer.batches, "nothing may be written when the gate fails")

	last := tracker.lastCompletion(t)
	assert.Equal(t, store.StatusFailed, last.status)
	assert.Equal(t, 10, last.processed)
	assert.Zero(t, last.inserted)
	assert.Contains(t, last.errMsg, "validation rejected")
}

func TestRunValidationGateNonStrict(t *testing.T) {
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		return strictGateBatch(), nil
	}}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}

	report := newTestOrchestrator(client, false, writer, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusSuccess, report.Status)
	assert.Equal(t, 10, report.Processed)
	assert.Equal(t, 9, report.Inserted, "only in-bounds records are written")
	assert.Equal(t, 1, report.Rejected)
	require.Len(t, writer.batches, 1)
	assert.Len(t, writer.batches[0], 9)
}

func TestRunPartialWrite(t *testing.T) {
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		return freshBatch(6), nil
	}}
	tracker := &fakeTracker{}
	writer := &fakeWriter{write: func(records []domain.Record) (store.WriteResult, error) {
		return store.WriteResult{Inserted: 2}, &store.PartialWriteError{
			Committed: 2, Failed: 4, Chunk: 2, Chunks: 3,
			Err: assert.AnError,
		}
	}}
	pub := &spyPublisher{}

	report := newTestOrchestrator(client, false, writer, tracker, pub).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusPartialSuccess, report.Status)
	assert.Equal(t, 2, report.Inserted)
	require.Error(t, report.Err)

	last := tracker.lastCompletion(t)
	assert.Equal(t, store.StatusPartialSuccess, last.status)
	assert.Equal(t, 6, last.processed)
	assert.Equal(t, 2, last.inserted)
	assert.Contains(t, last.errMsg, "chunk 2 of 3")

	require.Len(t, pub.events, 1)
	assert.Equal(t, store.StatusPartialSuccess, pub.events[0].Status)
}

func TestRunDeduplicatesBatch(t *testing.T) {
	dup := freshObservation(0)
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		return []domain.Record{dup, dup, freshObservation(1)}, nil
	}}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}

	report := newTestOrchestrator(client, false, writer, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, 2, report.Processed, "natural-key duplicates collapse before validation")
	require.Len(t, writer.batches, 1)
	assert.Len(t, writer.batches[0], 2)
}

func TestRunTrackerStartFailure(t *testing.T) {
	client := &fakeClient{src: domain.SourceGrid, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		t.Fatal("fetch must not run when the job row cannot be created")
		return nil, nil
	}}
	tracker := &fakeTracker{startErr: assert.AnError}

	report := newTestOrchestrator(client, false, &fakeWriter{}, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusFailed, report.Status)
	assert.Error(t, report.Err)
	assert.Empty(t, tracker.completions)
}

func TestRunSyntheticBatchSucceeds(t *testing.T) {
	client := &fakeClient{src: domain.SourceWeather, fetch: func(context.Context, domain.Window) ([]domain.Record, error) {
		records := freshBatch(3)
		for _, r := range records {
			obs := r.(*domain.WeatherObservation)
			obs.Prov = domain.ProvenanceSynthetic
			obs.Tier = domain.TierStandard
		}
		return records, nil
	}}
	tracker := &fakeTracker{}
	writer := &fakeWriter{}

	report := newTestOrchestrator(client, false, writer, tracker, nil).Run(t.Context(), domain.LastDay())

	assert.Equal(t, store.StatusSuccess, report.Status, "synthetic fallback is a successful run")
	require.Len(t, writer.batches, 1)
	for _, r := range writer.batches[0] {
		score := r.QualityScore()
		assert.GreaterOrEqual(t, score, 0.60)
		assert.Less(t, score, 0.80, "standard tier scores stay in their band")
	}
}
