package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skuwata/outreachd/internal/outreach"
)

const taskColumns = `id, job_id, company_id, company_name, main_status, sub_status,
	detailed_status, retry_count, last_retry, COALESCE(error_message, ''),
	COALESCE(send_method, ''), COALESCE(content, ''), fallback_used,
	COALESCE(attempts, '[]'::jsonb), completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(dest ...any) error }) (outreach.Task, error) {
	var (
		task     outreach.Task
		attempts []byte
	)
	err := row.Scan(
		&task.ID, &task.JobID, &task.CompanyID, &task.CompanyName,
		&task.MainStatus, &task.SubStatus, &task.DetailedStatus,
		&task.RetryCount, &task.LastRetry, &task.ErrorMessage,
		&task.SendMethod, &task.Content, &task.FallbackUsed,
		&attempts, &task.CompletedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return outreach.Task{}, err
	}
	if err := json.Unmarshal(attempts, &task.Attempts); err != nil {
		return outreach.Task{}, fmt.Errorf("decode attempts: %w", err)
	}
	return task, nil
}

// CreateTask implements outreach.TaskStore.
func (s *Store) CreateTask(ctx context.Context, task outreach.Task) error {
	const q = `INSERT INTO tasks
		(id, job_id, company_id, company_name, main_status, sub_status,
		 detailed_status, retry_count, fallback_used, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]'::jsonb, $10, $11)`

	_, err := s.pool.Exec(ctx, q,
		task.ID, task.JobID, task.CompanyID, task.CompanyName,
		task.MainStatus, task.SubStatus, task.DetailedStatus,
		task.RetryCount, task.FallbackUsed, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask implements outreach.TaskStore.
func (s *Store) GetTask(ctx context.Context, taskID string) (outreach.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.pool.QueryRow(ctx, q, taskID))
	if err != nil {
		return outreach.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListWaiting implements outreach.TaskStore. Tasks come back in creation
// order so batches process oldest first.
func (s *Store) ListWaiting(ctx context.Context, jobID string) ([]outreach.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM tasks
		WHERE job_id = $1 AND main_status = $2
		ORDER BY created_at, id`, taskColumns)

	rows, err := s.pool.Query(ctx, q, jobID, outreach.TaskWaiting)
	if err != nil {
		return nil, fmt.Errorf("list waiting tasks for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var tasks []outreach.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task for job %s: %w", jobID, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list waiting tasks for job %s: %w", jobID, err)
	}
	return tasks, nil
}

// UpdateTask implements outreach.TaskStore. All mutable columns are written
// in one statement.
func (s *Store) UpdateTask(ctx context.Context, task outreach.Task) error {
	const q = `UPDATE tasks SET
		main_status = $2, sub_status = $3, detailed_status = $4,
		retry_count = $5, last_retry = $6, error_message = NULLIF($7, ''),
		send_method = NULLIF($8, ''), content = NULLIF($9, ''),
		fallback_used = $10, attempts = $11, completed_at = $12, updated_at = $13
		WHERE id = $1`

	attempts, err := json.Marshal(task.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts for task %s: %w", task.ID, err)
	}
	tag, err := s.pool.Exec(ctx, q,
		task.ID, task.MainStatus, task.SubStatus, task.DetailedStatus,
		task.RetryCount, task.LastRetry, task.ErrorMessage,
		string(task.SendMethod), task.Content, task.FallbackUsed,
		attempts, task.CompletedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: task not found", task.ID)
	}
	return nil
}

// CountByMainStatus implements outreach.TaskStore.
func (s *Store) CountByMainStatus(ctx context.Context, jobID string) (map[outreach.MainStatus]int, error) {
	const q = `SELECT main_status, COUNT(*) FROM tasks WHERE job_id = $1 GROUP BY main_status`

	rows, err := s.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("count tasks for job %s: %w", jobID, err)
	}
	defer rows.Close()

	counts := make(map[outreach.MainStatus]int)
	for rows.Next() {
		var (
			status outreach.MainStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count for job %s: %w", jobID, err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count tasks for job %s: %w", jobID, err)
	}
	return counts, nil
}
