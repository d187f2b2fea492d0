package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Log implements outreach.ProcessLogger. Inserts are fire-and-forget: a
// failed log write is reported to the application logger, never the caller.
func (s *Store) Log(ctx context.Context, jobID, taskID, message string, level outreach.LogLevel) {
	const q = `INSERT INTO process_logs (job_id, task_id, message, level, created_at)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, now())`

	if _, err := s.pool.Exec(ctx, q, jobID, taskID, message, level); err != nil {
		s.logger.Warn("process log write failed",
			zap.String("job_id", jobID),
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}
