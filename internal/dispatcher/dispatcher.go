// Package dispatcher runs batch jobs by fanning tasks out to the state
// machine in bounded chunks.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/metrics"
	"github.com/skuwata/outreachd/internal/outreach"
	"github.com/skuwata/outreachd/internal/retry"
)

// Advancer drives a single task as far as it can go.
type Advancer interface {
	Advance(ctx context.Context, job outreach.BatchJob, task *outreach.Task) error
}

// Config supplies fallbacks for jobs that do not pin their own limits.
type Config struct {
	ParallelDefault int
	RetryDefault    int
	OpAttempts      int
	ErrorThreshold  float64
}

// Dispatcher executes one batch job at a time. Concurrency lives inside a
// chunk: at most parallel_tasks goroutines run, and a chunk fully drains
// before the next one starts.
type Dispatcher struct {
	engine Advancer
	jobs   outreach.JobStore
	tasks  outreach.TaskStore
	joblog outreach.ProcessLogger
	cfg    Config
	logger *zap.Logger
}

// New constructs a Dispatcher.
func New(
	engine Advancer,
	jobs outreach.JobStore,
	tasks outreach.TaskStore,
	joblog outreach.ProcessLogger,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.ParallelDefault <= 0 {
		cfg.ParallelDefault = 5
	}
	if cfg.RetryDefault <= 0 {
		cfg.RetryDefault = 3
	}
	if cfg.OpAttempts <= 0 {
		cfg.OpAttempts = 3
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{engine: engine, jobs: jobs, tasks: tasks, joblog: joblog, cfg: cfg, logger: logger}
}

// Run processes every waiting task of a job until the job settles. Tasks
// parked for a business retry are picked up again on a later pass of the
// same run; the retry counter bounds the number of passes.
func (d *Dispatcher) Run(ctx context.Context, jobID string) error {
	var job outreach.BatchJob
	err := retry.Do(ctx, d.cfg.OpAttempts, func(ctx context.Context) error {
		var opErr error
		job, opErr = d.jobs.GetJob(ctx, jobID)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	if job.Status.Terminal() {
		d.logger.Info("job already finalized, skipping", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return nil
	}
	if job.Status == outreach.JobStatusPaused {
		d.logger.Info("job is paused, skipping", zap.String("job_id", jobID))
		return nil
	}
	d.applyDefaults(&job)

	if job.Status == outreach.JobStatusPending {
		if err := d.setJobStatus(ctx, jobID, outreach.JobStatusProcessing); err != nil {
			return err
		}
		job.Status = outreach.JobStatusProcessing
	}

	// Every pass either completes tasks or consumes a retry slot, so the
	// cap can only fire on a bookkeeping bug.
	maxPasses := job.RetryAttempts + 2
	for pass := 0; pass < maxPasses; pass++ {
		waiting, err := d.tasks.ListWaiting(ctx, jobID)
		if err != nil {
			return fmt.Errorf("list waiting tasks for job %s: %w", jobID, err)
		}
		if len(waiting) == 0 {
			return d.finalize(ctx, job)
		}

		d.logger.Info("dispatch pass",
			zap.String("job_id", jobID),
			zap.Int("pass", pass),
			zap.Int("waiting", len(waiting)),
			zap.Int("parallel", job.ParallelTasks),
		)

		for start := 0; start < len(waiting); start += job.ParallelTasks {
			end := start + job.ParallelTasks
			if end > len(waiting) {
				end = len(waiting)
			}
			d.runChunk(ctx, job, waiting[start:end])

			if err := d.recomputeCompleted(ctx, jobID); err != nil {
				return err
			}

			paused, err := d.pausedMidRun(ctx, jobID)
			if err != nil {
				return err
			}
			if paused {
				d.logger.Info("job paused mid-run, stopping", zap.String("job_id", jobID))
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	d.logger.Warn("dispatch pass cap reached", zap.String("job_id", jobID), zap.Int("max_passes", maxPasses))
	return d.finalize(ctx, job)
}

func (d *Dispatcher) applyDefaults(job *outreach.BatchJob) {
	if job.ParallelTasks <= 0 {
		job.ParallelTasks = d.cfg.ParallelDefault
	}
	if job.RetryAttempts <= 0 {
		job.RetryAttempts = d.cfg.RetryDefault
	}
	if job.ErrorThreshold <= 0 {
		job.ErrorThreshold = d.cfg.ErrorThreshold
	}
}

// runChunk advances one chunk of tasks concurrently and waits for all of
// them. Panics and engine errors are converted into task failures so one
// bad task never takes down the batch.
func (d *Dispatcher) runChunk(ctx context.Context, job outreach.BatchJob, chunk []outreach.Task) {
	done := make(chan struct{})
	for i := range chunk {
		t := chunk[i]
		go func() {
			defer func() {
				if r := recover(); r != nil {
					d.captureFailure(ctx, job, t, fmt.Errorf("panic: %v", r))
				}
				done <- struct{}{}
			}()
			if err := d.engine.Advance(ctx, job, &t); err != nil {
				d.captureFailure(ctx, job, t, err)
			}
		}()
	}
	for range chunk {
		<-done
	}
}

// captureFailure force-fails a task whose processing escaped the state
// machine. Best effort: the batch keeps going even if persistence fails.
func (d *Dispatcher) captureFailure(ctx context.Context, job outreach.BatchJob, t outreach.Task, cause error) {
	d.logger.Error("task processing escaped the state machine",
		zap.String("job_id", job.ID),
		zap.String("task_id", t.ID),
		zap.Error(cause),
	)
	t.MainStatus = outreach.TaskError
	if !t.DetailedStatus.Failed() {
		t.DetailedStatus = outreach.StatusFailedFallback
		t.SubStatus = t.DetailedStatus.Sub()
	}
	t.ErrorMessage = cause.Error()
	if err := d.tasks.UpdateTask(ctx, t); err != nil {
		d.logger.Error("failed to persist forced task failure", zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	failure := outreach.FailureRecord{
		TaskID:      t.ID,
		CompanyName: t.CompanyName,
		Reason:      cause.Error(),
		RetryCount:  t.RetryCount,
		Attempts:    t.Attempts,
	}
	if err := d.jobs.AppendFailure(ctx, job.ID, failure); err != nil {
		d.logger.Error("failed to append failure record", zap.String("task_id", t.ID), zap.Error(err))
	}
	d.joblog.Log(ctx, job.ID, t.ID, "task failed outside the state machine: "+cause.Error(), outreach.LogError)
}

// recomputeCompleted derives completed_tasks from task statuses instead of
// incrementing a counter, so replays converge on the same value.
func (d *Dispatcher) recomputeCompleted(ctx context.Context, jobID string) error {
	counts, err := d.tasks.CountByMainStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count tasks for job %s: %w", jobID, err)
	}
	err = retry.Do(ctx, d.cfg.OpAttempts, func(ctx context.Context) error {
		return d.jobs.SetCompletedTasks(ctx, jobID, counts[outreach.TaskCompleted])
	})
	if err != nil {
		return fmt.Errorf("update completed count for job %s: %w", jobID, err)
	}
	return nil
}

func (d *Dispatcher) pausedMidRun(ctx context.Context, jobID string) (bool, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("refresh job %s: %w", jobID, err)
	}
	return job.Status == outreach.JobStatusPaused, nil
}

// finalize settles the job: completed when the failure rate stays under the
// job's threshold, failed otherwise.
func (d *Dispatcher) finalize(ctx context.Context, job outreach.BatchJob) error {
	counts, err := d.tasks.CountByMainStatus(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("count tasks for job %s: %w", job.ID, err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	completed := counts[outreach.TaskCompleted]
	failed := counts[outreach.TaskError] + counts[outreach.TaskCancelled]

	err = retry.Do(ctx, d.cfg.OpAttempts, func(ctx context.Context) error {
		return d.jobs.SetCompletedTasks(ctx, job.ID, completed)
	})
	if err != nil {
		return fmt.Errorf("update completed count for job %s: %w", job.ID, err)
	}

	status := outreach.JobStatusCompleted
	if total > 0 && float64(failed)/float64(total) > job.ErrorThreshold {
		status = outreach.JobStatusFailed
	}
	if err := d.setJobStatus(ctx, job.ID, status); err != nil {
		return err
	}
	metrics.ObserveJob(string(status))

	d.logger.Info("job finalized",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("total", total),
		zap.Int("completed", completed),
		zap.Int("failed", failed),
	)
	return nil
}

func (d *Dispatcher) setJobStatus(ctx context.Context, jobID string, status outreach.JobStatus) error {
	err := retry.Do(ctx, d.cfg.OpAttempts, func(ctx context.Context) error {
		return d.jobs.UpdateJobStatus(ctx, jobID, status)
	})
	if err != nil {
		return fmt.Errorf("set job %s status %s: %w", jobID, status, err)
	}
	return nil
}
