// Package task implements the per-task delivery state machine.
package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/metrics"
	"github.com/skuwata/outreachd/internal/outreach"
	"github.com/skuwata/outreachd/internal/retry"
)

// Sender is the outreach identity injected into generated content and form
// submissions.
type Sender struct {
	Name    string
	Company string
	Email   string
	Product string
}

// Config controls Engine behavior.
type Config struct {
	Topic        string
	Model        string
	CustomPrompt string
	OpAttempts   int
	Sender       Sender
}

// Engine advances tasks through the outreach lifecycle. All failures are
// captured as task state; Advance only returns an error when persistence
// itself fails.
type Engine struct {
	generator outreach.ContentGenerator
	dm        outreach.DMSender
	form      outreach.FormSender
	tasks     outreach.TaskStore
	jobs      outreach.JobStore
	companies outreach.CompanyStore
	publisher outreach.Publisher
	joblog    outreach.ProcessLogger
	clock     outreach.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Engine.
func New(
	generator outreach.ContentGenerator,
	dm outreach.DMSender,
	form outreach.FormSender,
	tasks outreach.TaskStore,
	jobs outreach.JobStore,
	companies outreach.CompanyStore,
	publisher outreach.Publisher,
	joblog outreach.ProcessLogger,
	clock outreach.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.OpAttempts <= 0 {
		cfg.OpAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator: generator,
		dm:        dm,
		form:      form,
		tasks:     tasks,
		jobs:      jobs,
		companies: companies,
		publisher: publisher,
		joblog:    joblog,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

type action int

const (
	// actionStop ends this invocation; the task is terminal or a retry has
	// been scheduled for a later dispatcher pass.
	actionStop action = iota
	// actionContinue proceeds to the next pipeline step.
	actionContinue
	// actionSwitchChannel re-enters delivery on the other channel.
	actionSwitchChannel
)

// Advance drives one task as far as it can go in a single invocation.
// Replaying Advance on a terminal task is a no-op.
func (e *Engine) Advance(ctx context.Context, job outreach.BatchJob, task *outreach.Task) error {
	if task.MainStatus.Terminal() || task.DetailedStatus.Terminal() {
		return nil
	}

	if task.DetailedStatus == outreach.StatusInitial {
		next, err := e.generate(ctx, job, task)
		if err != nil {
			return err
		}
		if next == actionStop {
			return nil
		}
	}

	return e.deliver(ctx, job, task)
}

func (e *Engine) generate(ctx context.Context, job outreach.BatchJob, task *outreach.Task) (action, error) {
	if err := e.setState(ctx, task, outreach.StatusContentGeneration, outreach.TaskProcessing,
		"content generation started", outreach.LogInfo); err != nil {
		return actionStop, err
	}

	content, err := e.generator.Generate(ctx, outreach.GenerationRequest{
		TaskID:        task.ID,
		CompanyID:     task.CompanyID,
		CompanyName:   task.CompanyName,
		Product:       e.cfg.Sender.Product,
		SenderName:    e.cfg.Sender.Name,
		SenderCompany: e.cfg.Sender.Company,
		CustomPrompt:  e.cfg.CustomPrompt,
		Model:         e.cfg.Model,
	})
	if err != nil {
		return e.generationFailure(ctx, job, task, err)
	}

	task.Content = content
	task.ErrorMessage = ""
	if err := e.setState(ctx, task, outreach.StatusContentGenerated, outreach.TaskProcessing,
		"content generated", outreach.LogInfo); err != nil {
		return actionStop, err
	}
	return actionContinue, nil
}

func (e *Engine) generationFailure(
	ctx context.Context,
	job outreach.BatchJob,
	task *outreach.Task,
	cause error,
) (action, error) {
	task.ErrorMessage = cause.Error()
	if err := e.setState(ctx, task, outreach.StatusFailedGeneration, outreach.TaskProcessing,
		fmt.Sprintf("content generation failed: %v", cause), outreach.LogWarn); err != nil {
		return actionStop, err
	}

	if retry.IsRetryable(cause) && retry.CanRetry(task.RetryCount, job.RetryAttempts) {
		// Regeneration restarts from scratch so a replay is idempotent.
		return actionStop, e.scheduleRetry(ctx, task, outreach.StatusInitial,
			"content generation retry scheduled")
	}
	return actionStop, e.failTerminal(ctx, job, task, outreach.StatusFailedGeneration, cause)
}

func (e *Engine) deliver(ctx context.Context, job outreach.BatchJob, task *outreach.Task) error {
	if task.SendMethod == "" {
		task.SendMethod = job.PreferredMethod
		if task.SendMethod == "" {
			task.SendMethod = outreach.MethodForm
		}
	}

	var company outreach.Company
	err := retry.Do(ctx, e.cfg.OpAttempts, func(ctx context.Context) error {
		var lookupErr error
		company, lookupErr = e.companies.GetCompany(ctx, task.CompanyID)
		return lookupErr
	})
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("company lookup failed: %v", err)
		if retry.IsRetryable(err) && retry.CanRetry(task.RetryCount, job.RetryAttempts) {
			return e.scheduleRetry(ctx, task, outreach.StatusContentGenerated,
				fmt.Sprintf("company lookup retry scheduled in %s", retry.NextDelay(task.RetryCount)))
		}
		return e.failTerminal(ctx, job, task, outreach.StatusFailedFallback, err)
	}

	for {
		// A company without a URL cannot use the form channel at all; this
		// is an immediate fallback, not a detection failure.
		if task.SendMethod == outreach.MethodForm && company.URL == "" {
			if task.FallbackUsed {
				return e.failTerminal(ctx, job, task, outreach.StatusFailedFallback,
					outreach.E(outreach.KindNoForm, "form channel", fmt.Errorf("company %s has no URL", task.CompanyID)))
			}
			if err := e.fallback(ctx, task, outreach.MethodDM, "company has no website URL"); err != nil {
				return err
			}
			continue
		}

		var next action
		if task.SendMethod == outreach.MethodForm {
			next, err = e.deliverForm(ctx, job, task, company)
		} else {
			next, err = e.deliverDM(ctx, job, task, company)
		}
		if err != nil {
			return err
		}
		if next != actionSwitchChannel {
			return nil
		}
	}
}

func (e *Engine) deliverForm(
	ctx context.Context,
	job outreach.BatchJob,
	task *outreach.Task,
	company outreach.Company,
) (action, error) {
	if err := e.setState(ctx, task, outreach.StatusFormDetection, outreach.TaskProcessing,
		"form detection started", outreach.LogInfo); err != nil {
		return actionStop, err
	}
	formURL, err := e.form.DetectForm(ctx, company.URL)
	if err != nil {
		return e.channelFailure(ctx, job, task, outreach.MethodForm, outreach.StatusFailedFormDetection, err)
	}
	if err := e.setState(ctx, task, outreach.StatusFormDetected, outreach.TaskProcessing,
		"contact form detected at "+formURL, outreach.LogInfo); err != nil {
		return actionStop, err
	}

	schema, err := e.form.ExtractFields(ctx, formURL)
	if err != nil {
		return e.channelFailure(ctx, job, task, outreach.MethodForm, outreach.StatusFailedFormDetection, err)
	}
	if err := e.setState(ctx, task, outreach.StatusFormDataPrepared, outreach.TaskProcessing,
		fmt.Sprintf("form data prepared (%d fields)", len(schema.Fields)), outreach.LogInfo); err != nil {
		return actionStop, err
	}
	if err := e.setState(ctx, task, outreach.StatusAutoFillReady, outreach.TaskProcessing,
		"auto fill ready", outreach.LogInfo); err != nil {
		return actionStop, err
	}
	if err := e.setState(ctx, task, outreach.StatusSubmissionInProgress, outreach.TaskProcessing,
		"form submission in progress", outreach.LogInfo); err != nil {
		return actionStop, err
	}

	result, err := e.form.Submit(ctx, schema, e.formValues(task))
	if err != nil {
		return e.channelFailure(ctx, job, task, outreach.MethodForm, outreach.StatusFailedFormSubmission, err)
	}
	return actionStop, e.complete(ctx, job, task, outreach.StatusCompletedFormSubmit, result)
}

func (e *Engine) deliverDM(
	ctx context.Context,
	job outreach.BatchJob,
	task *outreach.Task,
	company outreach.Company,
) (action, error) {
	if err := e.setState(ctx, task, outreach.StatusDMCheck, outreach.TaskProcessing,
		"dm channel check", outreach.LogInfo); err != nil {
		return actionStop, err
	}
	if company.DMProfile == "" {
		rejection := outreach.E(outreach.KindNoProfile, "dm check",
			fmt.Errorf("no profile found for company %s", task.CompanyID))
		return e.channelFailure(ctx, job, task, outreach.MethodDM, outreach.StatusFailedDMSending, rejection)
	}
	if err := e.setState(ctx, task, outreach.StatusDMReady, outreach.TaskProcessing,
		"dm channel ready", outreach.LogInfo); err != nil {
		return actionStop, err
	}
	if err := e.setState(ctx, task, outreach.StatusDMPreparation, outreach.TaskProcessing,
		"dm preparation", outreach.LogInfo); err != nil {
		return actionStop, err
	}
	if err := e.setState(ctx, task, outreach.StatusDMSending, outreach.TaskProcessing,
		"dm sending", outreach.LogInfo); err != nil {
		return actionStop, err
	}

	result, err := e.dm.Send(ctx, company, task.Content)
	if err != nil {
		return e.channelFailure(ctx, job, task, outreach.MethodDM, outreach.StatusFailedDMSending, err)
	}
	return actionStop, e.complete(ctx, job, task, outreach.StatusCompletedDMSent, result)
}

// channelFailure applies the shared failure policy: business retry on the
// same channel while slots remain, then a single fallback to the other
// channel, then terminal failure.
func (e *Engine) channelFailure(
	ctx context.Context,
	job outreach.BatchJob,
	task *outreach.Task,
	method outreach.SendMethod,
	failStatus outreach.DetailedStatus,
	cause error,
) (action, error) {
	e.recordAttempt(task, method, false)
	task.ErrorMessage = cause.Error()
	if err := e.setState(ctx, task, failStatus, outreach.TaskProcessing,
		fmt.Sprintf("%s delivery failed: %v", method, cause), outreach.LogWarn); err != nil {
		return actionStop, err
	}

	if retry.IsRetryable(cause) && retry.CanRetry(task.RetryCount, job.RetryAttempts) {
		// Channel retries resume with the generated content intact.
		return actionStop, e.scheduleRetry(ctx, task, outreach.StatusContentGenerated,
			fmt.Sprintf("%s retry scheduled in %s", method, retry.NextDelay(task.RetryCount)))
	}

	if !task.FallbackUsed {
		if err := e.fallback(ctx, task, method.Other(),
			fmt.Sprintf("%s channel exhausted: %v", method, cause)); err != nil {
			return actionStop, err
		}
		return actionSwitchChannel, nil
	}

	return actionStop, e.failTerminal(ctx, job, task, outreach.StatusFailedFallback, cause)
}

// fallback switches the task to the other channel. It can happen at most
// once per task.
func (e *Engine) fallback(ctx context.Context, task *outreach.Task, to outreach.SendMethod, reason string) error {
	task.FallbackUsed = true
	if err := e.setState(ctx, task, outreach.StatusFallbackInitiated, outreach.TaskProcessing,
		"fallback initiated: "+reason, outreach.LogWarn); err != nil {
		return err
	}
	marker := outreach.StatusFallbackToDM
	if to == outreach.MethodForm {
		marker = outreach.StatusFallbackToForm
	}
	task.SendMethod = to
	return e.setState(ctx, task, marker, outreach.TaskProcessing,
		fmt.Sprintf("falling back to %s channel", to), outreach.LogInfo)
}

func (e *Engine) scheduleRetry(ctx context.Context, task *outreach.Task, resume outreach.DetailedStatus, msg string) error {
	task.RetryCount++
	now := e.clock.Now()
	task.LastRetry = &now
	return e.setState(ctx, task, resume, outreach.TaskWaiting, msg, outreach.LogInfo)
}

func (e *Engine) complete(
	ctx context.Context,
	job outreach.BatchJob,
	task *outreach.Task,
	status outreach.DetailedStatus,
	result outreach.DeliveryResult,
) error {
	e.recordAttempt(task, task.SendMethod, true)
	now := e.clock.Now()
	task.CompletedAt = &now
	task.ErrorMessage = ""
	if err := e.setState(ctx, task, status, outreach.TaskCompleted,
		fmt.Sprintf("delivery completed via %s", task.SendMethod), outreach.LogInfo); err != nil {
		return err
	}
	e.publishDelivery(ctx, job, task, result)
	return nil
}

func (e *Engine) failTerminal(
	ctx context.Context,
	job outreach.BatchJob,
	task *outreach.Task,
	status outreach.DetailedStatus,
	cause error,
) error {
	// A terminal failure always lands on a failed variant, never on a
	// mid-pipeline status.
	if !status.Failed() {
		status = outreach.StatusFailedFallback
	}
	task.ErrorMessage = cause.Error()
	if err := e.setState(ctx, task, status, outreach.TaskError,
		fmt.Sprintf("task failed: %v", cause), outreach.LogError); err != nil {
		return err
	}

	failure := outreach.FailureRecord{
		TaskID:      task.ID,
		CompanyName: task.CompanyName,
		Reason:      cause.Error(),
		RetryCount:  task.RetryCount,
		Attempts:    task.Attempts,
		FailedAt:    e.clock.Now(),
	}
	err := retry.Do(ctx, e.cfg.OpAttempts, func(ctx context.Context) error {
		return e.jobs.AppendFailure(ctx, job.ID, failure)
	})
	if err != nil {
		return fmt.Errorf("append failure record: %w", err)
	}
	return nil
}

func (e *Engine) recordAttempt(task *outreach.Task, method outreach.SendMethod, success bool) {
	task.Attempts = append(task.Attempts, outreach.AttemptRecord{
		Timestamp: e.clock.Now(),
		Method:    method,
		Success:   success,
	})
	metrics.ObserveDelivery(string(method), success)
}

func (e *Engine) formValues(task *outreach.Task) map[string]string {
	return map[string]string{
		"name":    e.cfg.Sender.Name,
		"company": e.cfg.Sender.Company,
		"email":   e.cfg.Sender.Email,
		"message": task.Content,
	}
}

func (e *Engine) publishDelivery(ctx context.Context, job outreach.BatchJob, task *outreach.Task, result outreach.DeliveryResult) {
	if e.cfg.Topic == "" || e.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":     job.ID,
		"task_id":    task.ID,
		"company_id": task.CompanyID,
		"method":     task.SendMethod,
		"reference":  result.Reference,
		"timestamp":  e.clock.Now().UTC(),
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, payload); err != nil {
		e.logger.Warn("delivery event publish failed",
			zap.String("job_id", job.ID),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}

// setState persists a transition and mirrors it to the process log. The
// sub status is always derived from the detailed status. The write is
// guarded against transient store errors so a one-off timeout does not
// abort the whole task.
func (e *Engine) setState(
	ctx context.Context,
	task *outreach.Task,
	status outreach.DetailedStatus,
	main outreach.MainStatus,
	msg string,
	level outreach.LogLevel,
) error {
	task.DetailedStatus = status
	task.SubStatus = status.Sub()
	task.MainStatus = main
	task.UpdatedAt = e.clock.Now()
	err := retry.Do(ctx, e.cfg.OpAttempts, func(ctx context.Context) error {
		return e.tasks.UpdateTask(ctx, *task)
	})
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	metrics.ObserveTaskTransition(string(status))
	e.joblog.Log(ctx, task.JobID, task.ID, msg, level)
	e.logger.Debug("task transition",
		zap.String("job_id", task.JobID),
		zap.String("task_id", task.ID),
		zap.String("detailed_status", string(status)),
		zap.String("main_status", string(main)),
	)
	return nil
}
