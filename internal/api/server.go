// Package api exposes the HTTP interface for the outreach service.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/config"
	"github.com/skuwata/outreachd/internal/metrics"
	"github.com/skuwata/outreachd/internal/outreach"
)

// JobRunner drives one batch job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// CrawlRunner executes one crawl queue cycle.
type CrawlRunner interface {
	RunCycle(ctx context.Context) (outreach.ProcessingMetrics, error)
}

// BatchAdvisor recommends a crawl batch size from recorded cycle metrics.
type BatchAdvisor interface {
	OptimalBatchSize(ctx context.Context, history int) (int, error)
}

// Server wires HTTP handlers to the dispatcher, crawl processor and stores.
type Server struct {
	router    chi.Router
	jobs      outreach.JobStore
	tasks     outreach.TaskStore
	companies outreach.CompanyStore
	queue     outreach.CrawlQueueStore
	runner    JobRunner
	crawler   CrawlRunner
	advisor   BatchAdvisor
	idGen     outreach.IDGenerator
	clock     outreach.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs outreach.JobStore,
	tasks outreach.TaskStore,
	companies outreach.CompanyStore,
	queue outreach.CrawlQueueStore,
	runner JobRunner,
	crawler CrawlRunner,
	advisor BatchAdvisor,
	idGen outreach.IDGenerator,
	clock outreach.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		tasks:     tasks,
		companies: companies,
		queue:     queue,
		runner:    runner,
		crawler:   crawler,
		advisor:   advisor,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.createJob)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Post("/run", s.runJob)
			r.Post("/pause", s.pauseJob)
			r.Post("/resume", s.resumeJob)
			r.Get("/", s.getJob)
			r.Get("/failures", s.getJobFailures)
		})
		r.Post("/tasks/{task_id}/retry", s.retryTask)
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/enqueue", s.enqueueCrawl)
			r.Post("/cycle", s.runCrawlCycle)
			r.Get("/batch-size", s.getBatchSize)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

// runJob launches the dispatcher for a job in the background and returns
// immediately. A second run of a finished job is rejected.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished", s.logger)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := s.runner.Run(ctx, jobID); err != nil {
			s.logger.Error("batch run failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "accepted"}, s.logger)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished", s.logger)
		return
	}
	if err := s.jobs.UpdateJobStatus(r.Context(), jobID, outreach.JobStatusPaused); err != nil {
		writeError(w, http.StatusInternalServerError, "pause failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(outreach.JobStatusPaused)}, s.logger)
}

// resumeJob flips a paused job back to pending and relaunches the dispatcher.
func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	if job.Status != outreach.JobStatusPaused {
		writeError(w, http.StatusConflict, "job is not paused", s.logger)
		return
	}
	if err := s.jobs.UpdateJobStatus(r.Context(), jobID, outreach.JobStatusPending); err != nil {
		writeError(w, http.StatusInternalServerError, "resume failed", s.logger)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := s.runner.Run(ctx, jobID); err != nil {
			s.logger.Error("batch run failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "accepted"}, s.logger)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job}, s.logger)
}

func (s *Server) getJobFailures(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	failures := job.Failures
	if failures == nil {
		failures = []outreach.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "failures": failures}, s.logger)
}

// retryTask puts a terminally failed task back at the start of the pipeline.
func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found", s.logger)
		return
	}
	if task.MainStatus != outreach.TaskError && task.MainStatus != outreach.TaskCancelled {
		writeError(w, http.StatusConflict, "task is not in a failed state", s.logger)
		return
	}

	task.MainStatus = outreach.TaskWaiting
	task.DetailedStatus = outreach.StatusInitial
	task.SubStatus = outreach.StatusInitial.Sub()
	task.RetryCount = 0
	task.ErrorMessage = ""
	task.Content = ""
	task.FallbackUsed = false
	task.SendMethod = ""
	task.CompletedAt = nil
	task.UpdatedAt = s.clock.Now()
	if err := s.tasks.UpdateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "retry failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": string(outreach.TaskWaiting)}, s.logger)
}

// runCrawlCycle executes one crawl cycle synchronously and reports its
// metrics.
func (s *Server) runCrawlCycle(w http.ResponseWriter, r *http.Request) {
	sample, err := s.crawler.RunCycle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": sample}, s.logger)
}

func (s *Server) getBatchSize(w http.ResponseWriter, r *http.Request) {
	history := 20
	if raw := r.URL.Query().Get("history"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "history must be a positive integer", s.logger)
			return
		}
		history = n
	}
	size, err := s.advisor.OptimalBatchSize(r.Context(), history)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"batch_size": size}, s.logger)
}
