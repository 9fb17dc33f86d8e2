// Package pipeline drives ingestion runs: fetch, validate, upsert, with the
// outcome of every run recorded in the job log. The streaming manager layers
// per-source scheduling on top.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/events"
	"github.com/couchcryptid/energy-data-ingest/internal/observability"
	"github.com/couchcryptid/energy-data-ingest/internal/source"
	"github.com/couchcryptid/energy-data-ingest/internal/store"
	"github.com/couchcryptid/energy-data-ingest/internal/validate"
)

// Report is the outcome of one orchestrated run. Err is set for failed and
// partial runs; the run itself never panics or propagates errors past this
// boundary.
type Report struct {
	JobID     int64
	Source    domain.Source
	Status    store.JobStatus
	Attempts  int
	Processed int
	Inserted  int
	Updated   int
	Rejected  int
	Duration  time.Duration
	Err       error
}

// Tracker records job lifecycles. *store.JobTracker implements it.
type Tracker interface {
	Start(ctx context.Context, jobName string, src domain.Source) (int64, error)
	Complete(ctx context.Context, jobID int64, status store.JobStatus, processed, inserted int, errMsg string) error
}

// Writer persists validated records. *store.Upserter implements it.
type Writer interface {
	Write(ctx context.Context, records []domain.Record) (store.WriteResult, error)
}

// Orchestrator runs fetch → validate → write for one source. The fetch is
// wrapped in an explicit retry loop: transient failures retry up to
// MaxRetries total attempts with exponentially growing delay, permanent
// failures abort immediately.
type Orchestrator struct {
	client    source.Client
	validator *validate.Validator
	writer    Writer
	tracker   Tracker
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	maxRetries    int
	retryDelay    time.Duration
	backoffFactor float64
}

func NewOrchestrator(
	client source.Client,
	validator *validate.Validator,
	writer Writer,
	tracker Tracker,
	publisher events.Publisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	maxRetries int,
	retryDelay time.Duration,
	backoffFactor float64,
) *Orchestrator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoffFactor < 1 {
		backoffFactor = 1
	}
	return &Orchestrator{
		client:        client,
		validator:     validator,
		writer:        writer,
		tracker:       tracker,
		publisher:     publisher,
		logger:        logger,
		metrics:       metrics,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		backoffFactor: backoffFactor,
	}
}

// Run executes one end-to-end ingestion for the window. All outcomes,
// including failures, are reported through the job log and the returned
// Report; Run itself returns no error.
func (o *Orchestrator) Run(ctx context.Context, window domain.Window) Report {
	src := o.client.Source()
	jobName := string(src) + "_ingest"
	start := time.Now()

	report := Report{Source: src, Status: store.StatusFailed}

	jobID, err := o.tracker.Start(ctx, jobName, src)
	if err != nil {
		o.logger.Error("cannot start job", "source", src, "error", err)
		report.Err = err
		return report
	}
	report.JobID = jobID
	o.logger.Info("run started", "source", src, "job_id", jobID, "window", window)

	records, attempts, err := o.fetchWithRetry(ctx, window)
	report.Attempts = attempts
	if err != nil {
		return o.finish(ctx, report, jobName, 0, 0,
			fmt.Errorf("fetch failed after %d attempt(s): %w", attempts, err), start)
	}

	records = domain.DedupeByKey(records)
	report.Processed = len(records)
	o.metrics.RecordsFetched.WithLabelValues(string(src)).Add(float64(len(records)))
	o.metrics.BatchSize.WithLabelValues(string(src)).Observe(float64(len(records)))
	o.observeSynthetic(src, records)

	outcome := o.validator.Validate(src, records)
	report.Rejected = outcome.RejectedCount
	o.metrics.RecordsRejected.WithLabelValues(string(src)).Add(float64(outcome.RejectedCount))
	for _, warning := range outcome.Warnings {
		o.logger.Warn("validation warning", "source", src, "warning", warning)
	}
	if !outcome.Acceptable {
		return o.finish(ctx, report, jobName, report.Processed, 0,
			fmt.Errorf("validation rejected batch: %s", outcome.Summary()), start)
	}

	res, writeErr := o.writer.Write(ctx, outcome.Accepted)
	report.Inserted = res.Inserted
	report.Updated = res.Updated
	o.metrics.RecordsUpserted.WithLabelValues(string(src)).Add(float64(res.Total()))

	if writeErr != nil {
		var partial *store.PartialWriteError
		if errors.As(writeErr, &partial) {
			o.metrics.ChunkFailures.WithLabelValues(string(src)).Inc()
			report.Status = store.StatusPartialSuccess
			return o.finish(ctx, report, jobName, report.Processed, res.Total(), writeErr, start)
		}
		return o.finish(ctx, report, jobName, report.Processed, res.Total(), writeErr, start)
	}

	report.Status = store.StatusSuccess
	return o.finish(ctx, report, jobName, report.Processed, res.Total(), nil, start)
}

// fetchWithRetry is the retry state machine around the source client. The
// attempt budget counts every call, so MaxRetries=3 means at most three
// fetches.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, window domain.Window) ([]domain.Record, int, error) {
	src := string(o.client.Source())
	delay := o.retryDelay

	for attempt := 1; ; attempt++ {
		records, err := o.client.Fetch(ctx, window)
		if err == nil {
			return records, attempt, nil
		}
		if !domain.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt >= o.maxRetries {
			return nil, attempt, err
		}

		o.metrics.FetchRetries.WithLabelValues(src).Inc()
		o.logger.Warn("fetch failed, retrying",
			"source", src, "attempt", attempt, "max_retries", o.maxRetries,
			"delay", delay, "error", err)
		if !sleepWithContext(ctx, delay) {
			return nil, attempt, ctx.Err()
		}
		delay = time.Duration(float64(delay) * o.backoffFactor)
	}
}

// finish moves the job to its terminal state and emits the event. A nil
// runErr finishes as the status already set on the report.
func (o *Orchestrator) finish(ctx context.Context, report Report, jobName string, processed, inserted int, runErr error, start time.Time) Report {
	report.Duration = time.Since(start)
	report.Err = runErr

	errMsg := ""
	if runErr != nil {
		errMsg = truncate(runErr.Error(), 2000)
		if report.Status != store.StatusPartialSuccess {
			report.Status = store.StatusFailed
		}
	}

	// Completion must survive run cancellation, otherwise the job row stays
	// "running" forever.
	completeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		completeCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	if err := o.tracker.Complete(completeCtx, report.JobID, report.Status, processed, inserted, errMsg); err != nil {
		o.logger.Error("cannot complete job",
			"source", report.Source, "job_id", report.JobID, "error", err)
	}

	event := events.JobEvent{
		JobID:            report.JobID,
		JobName:          jobName,
		Source:           report.Source,
		Status:           report.Status,
		RecordsProcessed: processed,
		RecordsInserted:  inserted,
		ErrorMessage:     errMsg,
		OccurredAt:       domain.Now(),
	}
	if err := o.publisher.Publish(completeCtx, event); err != nil {
		o.logger.Warn("cannot publish job event", "job_id", report.JobID, "error", err)
	}

	o.metrics.RunsTotal.WithLabelValues(string(report.Source), string(report.Status)).Inc()
	o.metrics.RunDuration.WithLabelValues(string(report.Source)).Observe(report.Duration.Seconds())

	level := slog.LevelInfo
	if report.Status == store.StatusFailed {
		level = slog.LevelError
	}
	o.logger.Log(ctx, level, "run finished",
		"source", report.Source, "job_id", report.JobID, "status", report.Status,
		"processed", processed, "inserted", inserted, "rejected", report.Rejected,
		"attempts", report.Attempts, "duration", report.Duration, "error", errMsg)
	return report
}

func (o *Orchestrator) observeSynthetic(src domain.Source, records []domain.Record) {
	if len(records) == 0 || records[0].Provenance() != domain.ProvenanceSynthetic {
		return
	}
	tier := ""
	if syn, ok := records[0].(interface{ SyntheticTier() domain.SyntheticTier }); ok {
		tier = string(syn.SyntheticTier())
	}
	o.metrics.SyntheticBatches.WithLabelValues(string(src), tier).Inc()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
