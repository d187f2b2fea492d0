// Package memory provides in-memory store implementations used for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skuwata/outreachd/internal/outreach"
)

// LogEntry is one process log line kept in memory.
type LogEntry struct {
	JobID   string
	TaskID  string
	Message string
	Level   outreach.LogLevel
	At      time.Time
}

// Store implements every persistence interface over process memory. A
// single mutex guards all maps; the workloads here are small enough that
// finer locking buys nothing.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]outreach.BatchJob
	tasks     map[string]outreach.Task
	companies map[string]outreach.Company
	queue     map[string]outreach.CrawlQueueItem
	metrics   []outreach.ProcessingMetrics
	logs      []LogEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]outreach.BatchJob),
		tasks:     make(map[string]outreach.Task),
		companies: make(map[string]outreach.Company),
		queue:     make(map[string]outreach.CrawlQueueItem),
	}
}

// PutJob inserts or replaces a job.
func (s *Store) PutJob(job outreach.BatchJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// PutTask inserts or replaces a task.
func (s *Store) PutTask(task outreach.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// PutCompany inserts or replaces a company.
func (s *Store) PutCompany(c outreach.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
}

// PutQueueItem inserts or replaces a crawl queue item.
func (s *Store) PutQueueItem(item outreach.CrawlQueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[item.ID] = item
}

// CreateJob implements outreach.JobStore.
func (s *Store) CreateJob(_ context.Context, job outreach.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob implements outreach.JobStore.
func (s *Store) GetJob(_ context.Context, jobID string) (outreach.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return outreach.BatchJob{}, fmt.Errorf("job %s not found", jobID)
	}
	return job, nil
}

// UpdateJobStatus implements outreach.JobStore.
func (s *Store) UpdateJobStatus(_ context.Context, jobID string, status outreach.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

// SetCompletedTasks implements outreach.JobStore.
func (s *Store) SetCompletedTasks(_ context.Context, jobID string, completed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.CompletedTasks = completed
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

// AppendFailure implements outreach.JobStore.
func (s *Store) AppendFailure(_ context.Context, jobID string, failure outreach.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	job.Failures = append(job.Failures, failure)
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

// CreateTask implements outreach.TaskStore.
func (s *Store) CreateTask(_ context.Context, task outreach.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// GetTask implements outreach.TaskStore.
func (s *Store) GetTask(_ context.Context, taskID string) (outreach.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return outreach.Task{}, fmt.Errorf("task %s not found", taskID)
	}
	return task, nil
}

// ListWaiting implements outreach.TaskStore. Results are ordered by
// creation time, then ID, so dispatch order is deterministic.
func (s *Store) ListWaiting(_ context.Context, jobID string) ([]outreach.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outreach.Task
	for _, t := range s.tasks {
		if t.JobID == jobID && t.MainStatus == outreach.TaskWaiting {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateTask implements outreach.TaskStore.
func (s *Store) UpdateTask(_ context.Context, task outreach.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s not found", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// CountByMainStatus implements outreach.TaskStore.
func (s *Store) CountByMainStatus(_ context.Context, jobID string) (map[outreach.MainStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[outreach.MainStatus]int)
	for _, t := range s.tasks {
		if t.JobID == jobID {
			counts[t.MainStatus]++
		}
	}
	return counts, nil
}

// GetCompany implements outreach.CompanyStore.
func (s *Store) GetCompany(_ context.Context, companyID string) (outreach.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[companyID]
	if !ok {
		return outreach.Company{}, fmt.Errorf("company %s not found", companyID)
	}
	return c, nil
}

// UpdateCrawlResult implements outreach.CompanyStore.
func (s *Store) UpdateCrawlResult(_ context.Context, companyID, content, displayName string, crawledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return fmt.Errorf("company %s not found", companyID)
	}
	c.Content = content
	if displayName != "" {
		c.DisplayName = displayName
	}
	c.LastCrawledAt = &crawledAt
	s.companies[companyID] = c
	return nil
}

// Enqueue implements outreach.CrawlQueueStore.
func (s *Store) Enqueue(_ context.Context, item outreach.CrawlQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[item.ID]; ok {
		return fmt.Errorf("queue item %s already exists", item.ID)
	}
	s.queue[item.ID] = item
	return nil
}

// DuePending implements outreach.CrawlQueueStore. An item with no scheduled
// retry time is due immediately.
func (s *Store) DuePending(_ context.Context, limit, maxRetries int, now time.Time) ([]outreach.CrawlQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outreach.CrawlQueueItem
	for _, item := range s.queue {
		if item.Status != outreach.QueuePending || item.RetryCount >= maxRetries {
			continue
		}
		if item.NextRetryAt != nil && now.Before(*item.NextRetryAt) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FailExhausted implements outreach.CrawlQueueStore. Pending items out of
// retry budget are marked failed; they remain queryable for audit.
func (s *Store) FailExhausted(_ context.Context, maxRetries int, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, item := range s.queue {
		if item.Status == outreach.QueuePending && item.RetryCount >= maxRetries {
			item.Status = outreach.QueueFailed
			item.NextRetryAt = nil
			item.UpdatedAt = now
			s.queue[id] = item
			n++
		}
	}
	return n, nil
}

// Claim implements outreach.CrawlQueueStore: pending -> processing if this
// caller gets there first.
func (s *Store) Claim(_ context.Context, itemID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[itemID]
	if !ok {
		return false, fmt.Errorf("queue item %s not found", itemID)
	}
	if item.Status != outreach.QueuePending {
		return false, nil
	}
	item.Status = outreach.QueueProcessing
	item.ProcessingStartedAt = &startedAt
	item.UpdatedAt = startedAt
	s.queue[itemID] = item
	return true, nil
}

// UpdateItem implements outreach.CrawlQueueStore.
func (s *Store) UpdateItem(_ context.Context, item outreach.CrawlQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[item.ID]; !ok {
		return fmt.Errorf("queue item %s not found", item.ID)
	}
	s.queue[item.ID] = item
	return nil
}

// GetQueueItem returns one crawl queue item, mainly for tests and the API.
func (s *Store) GetQueueItem(itemID string) (outreach.CrawlQueueItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.queue[itemID]
	return item, ok
}

// RecordMetrics implements outreach.MetricsStore.
func (s *Store) RecordMetrics(_ context.Context, m outreach.ProcessingMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

// ListMetrics implements outreach.MetricsStore, newest first.
func (s *Store) ListMetrics(_ context.Context, limit int) ([]outreach.ProcessingMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outreach.ProcessingMetrics, len(s.metrics))
	copy(out, s.metrics)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Log implements outreach.ProcessLogger.
func (s *Store) Log(_ context.Context, jobID, taskID, message string, level outreach.LogLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{
		JobID:   jobID,
		TaskID:  taskID,
		Message: message,
		Level:   level,
		At:      time.Now(),
	})
}

// Logs returns a copy of the process log, mainly for tests and the API.
func (s *Store) Logs(jobID string) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LogEntry
	for _, e := range s.logs {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}
