package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuwata/outreachd/internal/outreach"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestCreateJob(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	job := outreach.BatchJob{
		ID:              "job-1",
		Status:          outreach.JobStatusPending,
		TotalTasks:      3,
		PreferredMethod: outreach.MethodForm,
		ParallelTasks:   5,
		RetryAttempts:   3,
		ErrorThreshold:  0.5,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	mock.ExpectExec("INSERT INTO batch_jobs").
		WithArgs("job-1", outreach.JobStatusPending, 3, 0, outreach.MethodForm,
			5, 3, 0.5, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTask(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	task := outreach.Task{
		ID:             "task-1",
		JobID:          "job-1",
		CompanyID:      "co-1",
		CompanyName:    "株式会社テスト",
		MainStatus:     outreach.TaskWaiting,
		SubStatus:      outreach.SubInitial,
		DetailedStatus: outreach.StatusInitial,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("task-1", "job-1", "co-1", "株式会社テスト",
			outreach.TaskWaiting, outreach.SubInitial, outreach.StatusInitial,
			0, false, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueCrawlItem(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	item := outreach.CrawlQueueItem{
		ID:        "item-1",
		CompanyID: "co-1",
		Status:    outreach.QueuePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs("item-1", "co-1", outreach.QueuePending, 0, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Enqueue(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobDecodesFailures(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "status", "total_tasks", "completed_tasks", "preferred_method",
		"parallel_tasks", "retry_attempts", "error_threshold", "failures",
		"created_at", "updated_at",
	}).AddRow(
		"job-1", string(outreach.JobStatusProcessing), 10, 4, string(outreach.MethodForm),
		5, 3, 0.5, []byte(`[{"task_id":"task-9","reason":"no form"}]`),
		now, now,
	)
	mock.ExpectQuery("SELECT id, status, total_tasks").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, outreach.JobStatusProcessing, job.Status)
	assert.Equal(t, 4, job.CompletedTasks)
	require.Len(t, job.Failures, 1)
	assert.Equal(t, "task-9", job.Failures[0].TaskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusMissingJob(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE batch_jobs SET status").
		WithArgs("job-missing", outreach.JobStatusFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), "job-missing", outreach.JobStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCompletedTasks(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE batch_jobs SET completed_tasks").
		WithArgs("job-1", 7).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetCompletedTasks(context.Background(), "job-1", 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE batch_jobs").
		WithArgs("job-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	failure := outreach.FailureRecord{TaskID: "task-3", Reason: "form submission failed"}
	require.NoError(t, store.AppendFailure(context.Background(), "job-1", failure))
	require.NoError(t, mock.ExpectationsWereMet())
}

func taskRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "job_id", "company_id", "company_name", "main_status", "sub_status",
		"detailed_status", "retry_count", "last_retry", "error_message",
		"send_method", "content", "fallback_used", "attempts", "completed_at",
		"created_at", "updated_at",
	})
}

func TestGetTaskDecodesAttempts(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rows := taskRows().AddRow(
		"task-1", "job-1", "co-1", "株式会社テスト",
		string(outreach.TaskWaiting), string(outreach.SubContentGeneration),
		string(outreach.StatusContentGenerated), 1, (*time.Time)(nil), "timeout",
		string(outreach.MethodForm), "こんにちは", false,
		[]byte(`[{"method":"form","success":false}]`), (*time.Time)(nil),
		now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("task-1").
		WillReturnRows(rows)

	task, err := store.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, outreach.StatusContentGenerated, task.DetailedStatus)
	assert.Equal(t, 1, task.RetryCount)
	require.Len(t, task.Attempts, 1)
	assert.Equal(t, outreach.MethodForm, task.Attempts[0].Method)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWaitingReturnsBatchOrder(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rows := taskRows().
		AddRow("task-1", "job-1", "co-1", "A社", string(outreach.TaskWaiting),
			string(outreach.SubInitial), string(outreach.StatusInitial), 0,
			(*time.Time)(nil), "", "", "", false, []byte(`[]`), (*time.Time)(nil), now, now).
		AddRow("task-2", "job-1", "co-2", "B社", string(outreach.TaskWaiting),
			string(outreach.SubInitial), string(outreach.StatusInitial), 0,
			(*time.Time)(nil), "", "", "", false, []byte(`[]`), (*time.Time)(nil), now.Add(time.Second), now)
	mock.ExpectQuery("SELECT (.+) FROM tasks").
		WithArgs("job-1", outreach.TaskWaiting).
		WillReturnRows(rows)

	tasks, err := store.ListWaiting(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, "task-2", tasks[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskWritesAllMutableColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	task := outreach.Task{
		ID:             "task-1",
		MainStatus:     outreach.TaskCompleted,
		SubStatus:      outreach.SubFormProcess,
		DetailedStatus: outreach.StatusCompletedFormSubmit,
		RetryCount:     2,
		SendMethod:     outreach.MethodForm,
		Content:        "message body",
		FallbackUsed:   true,
		CompletedAt:    &now,
		UpdatedAt:      now,
	}

	mock.ExpectExec("UPDATE tasks SET").
		WithArgs("task-1", outreach.TaskCompleted, outreach.SubFormProcess,
			outreach.StatusCompletedFormSubmit, 2, (*time.Time)(nil), "",
			string(outreach.MethodForm), "message body", true,
			pgxmock.AnyArg(), &now, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByMainStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"main_status", "count"}).
		AddRow(string(outreach.TaskCompleted), 8).
		AddRow(string(outreach.TaskError), 2)
	mock.ExpectQuery("SELECT main_status, COUNT").
		WithArgs("job-1").
		WillReturnRows(rows)

	counts, err := store.CountByMainStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 8, counts[outreach.TaskCompleted])
	assert.Equal(t, 2, counts[outreach.TaskError])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompanyScansNullableColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "name", "url", "dm_profile", "website_content",
		"website_display_name", "last_crawled_at",
	}).AddRow("co-1", "株式会社テスト", "", "", "", "", (*time.Time)(nil))
	mock.ExpectQuery("SELECT (.+) FROM companies").
		WithArgs("co-1").
		WillReturnRows(rows)

	company, err := store.GetCompany(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, "株式会社テスト", company.Name)
	assert.Empty(t, company.URL)
	assert.Nil(t, company.LastCrawledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCrawlResult(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	crawledAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE companies SET").
		WithArgs("co-1", "page text", "テスト株式会社", crawledAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateCrawlResult(context.Background(), "co-1", "page text", "テスト株式会社", crawledAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuePendingConvertsDuration(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "company_id", "status", "retry_count", "error_message",
		"next_retry_at", "processing_started_at", "processing_duration_ms",
		"created_at", "updated_at",
	}).AddRow("item-1", "co-1", string(outreach.QueuePending), 1, "timeout",
		(*time.Time)(nil), (*time.Time)(nil), int64(2500), now, now)
	mock.ExpectQuery("SELECT (.+) FROM crawl_queue").
		WithArgs(outreach.QueuePending, 3, now, 10).
		WillReturnRows(rows)

	items, err := store.DuePending(context.Background(), 10, 3, now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2500*time.Millisecond, items[0].ProcessingDuration)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailExhaustedReportsCount(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs(outreach.QueueFailed, now, outreach.QueuePending, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := store.FailExhausted(context.Background(), 3, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimIsConditional(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs(outreach.QueueProcessing, now, "item-1", outreach.QueuePending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs(outreach.QueueProcessing, now, "item-2", outreach.QueuePending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := store.Claim(context.Background(), "item-1", now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Claim(context.Background(), "item-2", now)
	require.NoError(t, err)
	assert.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAndListMetrics(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	sample := outreach.ProcessingMetrics{
		Timestamp:      now,
		BatchSize:      10,
		SuccessCount:   8,
		FailureCount:   2,
		ProcessingTime: 90 * time.Second,
		Errors:         []outreach.ItemError{{CompanyID: "co-1", Message: "timeout"}},
	}
	mock.ExpectExec("INSERT INTO process_metrics").
		WithArgs(now, 10, 8, 2, int64(90000), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordMetrics(context.Background(), sample))

	rows := pgxmock.NewRows([]string{
		"timestamp", "batch_size", "success_count", "failure_count",
		"processing_time_ms", "errors",
	}).AddRow(now, 10, 8, 2, int64(90000), []byte(`[{"company_id":"co-1","error":"timeout"}]`))
	mock.ExpectQuery("SELECT (.+) FROM process_metrics").
		WithArgs(5).
		WillReturnRows(rows)

	samples, err := store.ListMetrics(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 90*time.Second, samples[0].ProcessingTime)
	require.Len(t, samples[0].Errors, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogNeverFailsCaller(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO process_logs").
		WithArgs("job-1", "task-1", "form detected", outreach.LogInfo).
		WillReturnError(assert.AnError)

	store.Log(context.Background(), "job-1", "task-1", "form detected", outreach.LogInfo)
	require.NoError(t, mock.ExpectationsWereMet())
}
