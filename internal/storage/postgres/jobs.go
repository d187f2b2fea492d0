package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skuwata/outreachd/internal/outreach"
)

// CreateJob implements outreach.JobStore.
func (s *Store) CreateJob(ctx context.Context, job outreach.BatchJob) error {
	const q = `INSERT INTO batch_jobs
		(id, status, total_tasks, completed_tasks, preferred_method,
		 parallel_tasks, retry_attempts, error_threshold, failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '[]'::jsonb, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		job.ID, job.Status, job.TotalTasks, job.CompletedTasks,
		job.PreferredMethod, job.ParallelTasks, job.RetryAttempts,
		job.ErrorThreshold, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob implements outreach.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (outreach.BatchJob, error) {
	const q = `SELECT id, status, total_tasks, completed_tasks, preferred_method,
		parallel_tasks, retry_attempts, error_threshold, COALESCE(failures, '[]'::jsonb),
		created_at, updated_at
		FROM batch_jobs WHERE id = $1`

	var (
		job      outreach.BatchJob
		failures []byte
	)
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&job.ID, &job.Status, &job.TotalTasks, &job.CompletedTasks,
		&job.PreferredMethod, &job.ParallelTasks, &job.RetryAttempts,
		&job.ErrorThreshold, &failures, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return outreach.BatchJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if err := json.Unmarshal(failures, &job.Failures); err != nil {
		return outreach.BatchJob{}, fmt.Errorf("decode failures for job %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateJobStatus implements outreach.JobStore.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status outreach.JobStatus) error {
	const q = `UPDATE batch_jobs SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, jobID, status)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s status: job not found", jobID)
	}
	return nil
}

// SetCompletedTasks implements outreach.JobStore. The caller recomputes the
// value from task counts, so repeated writes converge on the same number.
func (s *Store) SetCompletedTasks(ctx context.Context, jobID string, completed int) error {
	const q = `UPDATE batch_jobs SET completed_tasks = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, jobID, completed)
	if err != nil {
		return fmt.Errorf("set completed tasks for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set completed tasks for job %s: job not found", jobID)
	}
	return nil
}

// AppendFailure implements outreach.JobStore. The record is appended to the
// failures jsonb array in one statement so concurrent workers cannot clobber
// each other's entries.
func (s *Store) AppendFailure(ctx context.Context, jobID string, failure outreach.FailureRecord) error {
	const q = `UPDATE batch_jobs
		SET failures = COALESCE(failures, '[]'::jsonb) || $2::jsonb, updated_at = now()
		WHERE id = $1`

	data, err := json.Marshal([]outreach.FailureRecord{failure})
	if err != nil {
		return fmt.Errorf("encode failure for job %s: %w", jobID, err)
	}
	tag, err := s.pool.Exec(ctx, q, jobID, data)
	if err != nil {
		return fmt.Errorf("append failure to job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append failure to job %s: job not found", jobID)
	}
	return nil
}
