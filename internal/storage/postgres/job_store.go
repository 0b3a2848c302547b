package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mercadime/scraperd/internal/scraper"
)

// JobStore persists queue jobs so the in-memory queue survives restarts.
// The queue writes through on every transition and reloads the table on boot.
type JobStore struct {
	pool querier
}

// NewJobStore constructs a JobStore.
func NewJobStore(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// SaveJob upserts the full job record.
func (s *JobStore) SaveJob(ctx context.Context, job scraper.Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", scraper.ErrValidation)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := `
		INSERT INTO jobs (id, type, store, status, attempts, max_attempts, created_at, started_at, completed_at, ready_at, failed_reason, counters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			max_attempts = EXCLUDED.max_attempts,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			ready_at = EXCLUDED.ready_at,
			failed_reason = EXCLUDED.failed_reason,
			counters = EXCLUDED.counters;
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Type),
		job.Store,
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ReadyAt,
		job.FailedReason,
		counters,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// DeleteJob removes a job row. Deleting an unknown id is not an error.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// LoadJobs returns every persisted job in submission order.
func (s *JobStore) LoadJobs(ctx context.Context) ([]scraper.Job, error) {
	query := `
		SELECT id, type, store, status, attempts, max_attempts, created_at, started_at, completed_at, ready_at, failed_reason, counters
		FROM jobs
		ORDER BY created_at, id;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scraper.Job
	for rows.Next() {
		var (
			j        scraper.Job
			jobType  string
			status   string
			counters []byte
		)
		if err := rows.Scan(
			&j.ID,
			&jobType,
			&j.Store,
			&status,
			&j.Attempts,
			&j.MaxAttempts,
			&j.CreatedAt,
			&j.StartedAt,
			&j.CompletedAt,
			&j.ReadyAt,
			&j.FailedReason,
			&counters,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j.Type = scraper.JobType(jobType)
		j.Status = scraper.JobStatus(status)
		if len(counters) > 0 {
			if err := json.Unmarshal(counters, &j.Counters); err != nil {
				return nil, fmt.Errorf("unmarshal counters for job %s: %w", j.ID, err)
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
