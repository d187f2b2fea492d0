package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuwata/outreachd/internal/clock"
	"github.com/skuwata/outreachd/internal/config"
	"github.com/skuwata/outreachd/internal/id"
	"github.com/skuwata/outreachd/internal/outreach"
	"github.com/skuwata/outreachd/internal/storage/memory"
)

type stubRunner struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
}

func (r *stubRunner) Run(_ context.Context, jobID string) error {
	r.mu.Lock()
	r.runs = append(r.runs, jobID)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return nil
}

type stubCrawler struct {
	sample outreach.ProcessingMetrics
	err    error
}

func (c *stubCrawler) RunCycle(context.Context) (outreach.ProcessingMetrics, error) {
	return c.sample, c.err
}

type stubAdvisor struct {
	size    int
	history int
}

func (a *stubAdvisor) OptimalBatchSize(_ context.Context, history int) (int, error) {
	a.history = history
	return a.size, nil
}

type fixture struct {
	store   *memory.Store
	runner  *stubRunner
	crawler *stubCrawler
	advisor *stubAdvisor
	server  *Server
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{
		store:   store,
		runner:  &stubRunner{},
		crawler: &stubCrawler{sample: outreach.ProcessingMetrics{BatchSize: 3, SuccessCount: 3}},
		advisor: &stubAdvisor{size: 25},
	}
	f.server = NewServer(store, store, store, store, f.runner, f.crawler, f.advisor, id.UUID{}, clock.System{}, cfg, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func seedJob(f *fixture, id string, status outreach.JobStatus) {
	f.store.PutJob(outreach.BatchJob{
		ID:            id,
		Status:        status,
		TotalTasks:    2,
		ParallelTasks: 2,
		CreatedAt:     time.Now(),
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz").Code)

	rec := f.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRunJobAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.runner.done = make(chan struct{})
	seedJob(f, "job-1", outreach.JobStatusPending)

	rec := f.do(t, http.MethodPost, "/v1/jobs/job-1/run")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-f.runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not invoked")
	}
	f.runner.mu.Lock()
	defer f.runner.mu.Unlock()
	assert.Equal(t, []string{"job-1"}, f.runner.runs)
}

func TestRunJobRejectsUnknownAndFinished(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	seedJob(f, "job-done", outreach.JobStatusCompleted)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/jobs/nope/run").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/jobs/job-done/run").Code)
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.runner.done = make(chan struct{})
	seedJob(f, "job-1", outreach.JobStatusProcessing)

	rec := f.do(t, http.MethodPost, "/v1/jobs/job-1/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, outreach.JobStatusPaused, job.Status)

	rec = f.do(t, http.MethodPost, "/v1/jobs/job-1/resume")
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-f.runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not invoked on resume")
	}

	// Resuming a job that is not paused is a conflict.
	seedJob(f, "job-2", outreach.JobStatusProcessing)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/jobs/job-2/resume").Code)
}

func TestGetJobAndFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	seedJob(f, "job-1", outreach.JobStatusProcessing)
	require.NoError(t, f.store.AppendFailure(context.Background(), "job-1", outreach.FailureRecord{
		TaskID: "task-9", Reason: "no contact form",
	}))

	rec := f.do(t, http.MethodGet, "/v1/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobResp struct {
		Job outreach.BatchJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobResp))
	assert.Equal(t, "job-1", jobResp.Job.ID)

	rec = f.do(t, http.MethodGet, "/v1/jobs/job-1/failures")
	require.Equal(t, http.StatusOK, rec.Code)
	var failResp struct {
		Failures []outreach.FailureRecord `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failResp))
	require.Len(t, failResp.Failures, 1)
	assert.Equal(t, "task-9", failResp.Failures[0].TaskID)
}

func TestRetryTaskResetsPipelineState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	now := time.Now()
	f.store.PutTask(outreach.Task{
		ID:             "task-1",
		JobID:          "job-1",
		MainStatus:     outreach.TaskError,
		SubStatus:      outreach.SubFormProcess,
		DetailedStatus: outreach.StatusFailedFallback,
		RetryCount:     3,
		ErrorMessage:   "both channels failed",
		SendMethod:     outreach.MethodDM,
		Content:        "stale content",
		FallbackUsed:   true,
		CompletedAt:    &now,
		CreatedAt:      now,
	})

	rec := f.do(t, http.MethodPost, "/v1/tasks/task-1/retry")
	require.Equal(t, http.StatusOK, rec.Code)

	task, err := f.store.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, outreach.TaskWaiting, task.MainStatus)
	assert.Equal(t, outreach.StatusInitial, task.DetailedStatus)
	assert.Equal(t, outreach.SubInitial, task.SubStatus)
	assert.Zero(t, task.RetryCount)
	assert.Empty(t, task.ErrorMessage)
	assert.Empty(t, task.Content)
	assert.False(t, task.FallbackUsed)
	assert.Nil(t, task.CompletedAt)
}

func TestRetryTaskRequiresFailedState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.store.PutTask(outreach.Task{
		ID:             "task-1",
		MainStatus:     outreach.TaskCompleted,
		DetailedStatus: outreach.StatusCompletedFormSubmit,
	})

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/tasks/task-1/retry").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/tasks/missing/retry").Code)
}

func TestRunCrawlCycleReturnsMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	rec := f.do(t, http.MethodPost, "/v1/crawl/cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Metrics outreach.ProcessingMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Metrics.BatchSize)
}

func TestGetBatchSize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})

	rec := f.do(t, http.MethodGet, "/v1/crawl/batch-size?history=40")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, f.advisor.history)
	assert.Contains(t, rec.Body.String(), "25")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/crawl/batch-size?history=zero").Code)
}

func TestCreateJobSeedsWaitingTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.store.PutCompany(outreach.Company{ID: "co-1", Name: "株式会社A"})
	f.store.PutCompany(outreach.Company{ID: "co-2", Name: "株式会社B"})

	rec := f.doJSON(t, http.MethodPost, "/v1/jobs", map[string]any{
		"company_ids":      []string{"co-1", "co-2"},
		"preferred_method": "dm",
		"parallel_tasks":   3,
		"retry_attempts":   2,
		"error_threshold":  0.4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		JobID      string   `json:"job_id"`
		TotalTasks int      `json:"total_tasks"`
		TaskIDs    []string `json:"task_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalTasks)
	require.Len(t, resp.TaskIDs, 2)

	job, err := f.store.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, outreach.JobStatusPending, job.Status)
	assert.Equal(t, outreach.MethodDM, job.PreferredMethod)
	assert.Equal(t, 2, job.TotalTasks)

	waiting, err := f.store.ListWaiting(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, outreach.StatusInitial, waiting[0].DetailedStatus)
	assert.Equal(t, outreach.SubInitial, waiting[0].SubStatus)
}

func TestCreateJobValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.store.PutCompany(outreach.Company{ID: "co-1", Name: "株式会社A"})

	rec := f.doJSON(t, http.MethodPost, "/v1/jobs", map[string]any{"company_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.doJSON(t, http.MethodPost, "/v1/jobs", map[string]any{
		"company_ids":      []string{"co-1"},
		"preferred_method": "carrier-pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.doJSON(t, http.MethodPost, "/v1/jobs", map[string]any{
		"company_ids": []string{"co-1", "co-missing"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "co-missing")
}

func TestEnqueueCrawl(t *testing.T) {
	t.Parallel()
	f := newFixture(t, config.Config{})
	f.store.PutCompany(outreach.Company{ID: "co-1", Name: "株式会社A", URL: "https://a.example.co.jp"})

	rec := f.doJSON(t, http.MethodPost, "/v1/crawl/enqueue", map[string]any{
		"company_ids": []string{"co-1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Queued  int      `json:"queued"`
		ItemIDs []string `json:"item_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Queued)
	require.Len(t, resp.ItemIDs, 1)

	item, ok := f.store.GetQueueItem(resp.ItemIDs[0])
	require.True(t, ok)
	assert.Equal(t, outreach.QueuePending, item.Status)
	assert.Equal(t, "co-1", item.CompanyID)

	rec = f.doJSON(t, http.MethodPost, "/v1/crawl/enqueue", map[string]any{
		"company_ids": []string{"co-unknown"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	f := newFixture(t, cfg)
	seedJob(f, "job-1", outreach.JobStatusPending)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/jobs/job-1").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/job-1?api_key=secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}
