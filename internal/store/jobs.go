package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// JobStatus is the lifecycle state of one ingestion run.
type JobStatus string

const (
	StatusRunning        JobStatus = "running"
	StatusSuccess        JobStatus = "success"
	StatusPartialSuccess JobStatus = "partial_success"
	StatusFailed         JobStatus = "failed"
)

// Terminal reports whether the status ends a run.
func (s JobStatus) Terminal() bool { return s != StatusRunning }

// Job is one row of the ingestion log. EndTime is nil exactly while the job
// is running.
type Job struct {
	ID               int64
	JobName          string
	DataSource       domain.Source
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	RecordsProcessed int
	RecordsInserted  int
	DurationSeconds  *float64
	ErrorMessage     *string
}

// JobStats aggregates runs over a trailing window for the status endpoint.
type JobStats struct {
	TotalJobs        int
	SuccessfulJobs   int
	FailedJobs       int
	RecordsProcessed int64
	RecordsInserted  int64
	AvgDuration      float64
}

// JobTracker records run lifecycles in metadata.ingestion_log.
type JobTracker struct {
	db     Querier
	logger *slog.Logger
}

func NewJobTracker(db Querier, logger *slog.Logger) *JobTracker {
	return &JobTracker{db: db, logger: logger}
}

// Start inserts a running job row and returns its ID.
func (t *JobTracker) Start(ctx context.Context, jobName string, src domain.Source) (int64, error) {
	const sql = `
		INSERT INTO metadata.ingestion_log (job_name, data_source, start_time, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := t.db.QueryRow(ctx, sql, jobName, string(src), domain.Now(), string(StatusRunning)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start job %s: %w", jobName, err)
	}
	t.logger.Info("job started", "job", jobName, "job_id", id, "source", src)
	return id, nil
}

// Complete moves a job to a terminal status. errMsg is stored as NULL when
// empty.
func (t *JobTracker) Complete(ctx context.Context, jobID int64, status JobStatus, processed, inserted int, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete job %d: %q is not a terminal status", jobID, status)
	}

	const sql = `
		UPDATE metadata.ingestion_log
		SET end_time = $1,
		    status = $2,
		    records_processed = $3,
		    records_inserted = $4,
		    error_message = $5,
		    processing_duration_seconds = EXTRACT(EPOCH FROM ($1 - start_time))
		WHERE id = $6`

	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	tag, err := t.db.Exec(ctx, sql, domain.Now(), string(status), processed, inserted, msg, jobID)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %d: no such job", jobID)
	}
	t.logger.Info("job completed",
		"job_id", jobID, "status", status, "processed", processed, "inserted", inserted)
	return nil
}

// Recent returns the latest runs, newest first.
func (t *JobTracker) Recent(ctx context.Context, limit int) ([]Job, error) {
	const sql = `
		SELECT id, job_name, data_source, start_time, end_time, status,
		       COALESCE(records_processed, 0), COALESCE(records_inserted, 0),
		       processing_duration_seconds, error_message
		FROM metadata.ingestion_log
		ORDER BY start_time DESC
		LIMIT $1`

	rows, err := t.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.JobName, &j.DataSource, &j.StartTime, &j.EndTime,
			&j.Status, &j.RecordsProcessed, &j.RecordsInserted, &j.DurationSeconds, &j.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Stats aggregates runs started within the last days days. Partial successes
// count as successful: data was written.
func (t *JobTracker) Stats(ctx context.Context, days int) (JobStats, error) {
	const sql = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('success', 'partial_success')),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(records_processed), 0),
		       COALESCE(SUM(records_inserted), 0),
		       COALESCE(AVG(processing_duration_seconds), 0)
		FROM metadata.ingestion_log
		WHERE start_time >= $1`

	since := domain.Now().AddDate(0, 0, -days)
	var s JobStats
	err := t.db.QueryRow(ctx, sql, since).Scan(
		&s.TotalJobs, &s.SuccessfulJobs, &s.FailedJobs,
		&s.RecordsProcessed, &s.RecordsInserted, &s.AvgDuration)
	if err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	return s, nil
}

// Cleanup deletes log rows older than the retention period and returns the
// deleted count.
func (t *JobTracker) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	const sql = `DELETE FROM metadata.ingestion_log WHERE start_time < $1`

	cutoff := domain.Now().AddDate(0, 0, -retentionDays)
	tag, err := t.db.Exec(ctx, sql, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup ingestion log: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		t.logger.Info("cleaned up old job records", "deleted", n, "retention_days", retentionDays)
		return n, nil
	}
	return 0, nil
}
