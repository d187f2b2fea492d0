// Package outreach defines core types shared across subsystems.
package outreach

import "time"

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

// Job status values persisted in the job store. Transitions only move
// forward (pending -> processing -> completed|failed); paused is reachable
// from processing and back.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further job transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SendMethod is the delivery channel for a task.
type SendMethod string

// Supported delivery channels.
const (
	MethodDM   SendMethod = "dm"
	MethodForm SendMethod = "form"
)

// Other returns the opposite channel, used when falling back.
func (m SendMethod) Other() SendMethod {
	if m == MethodDM {
		return MethodForm
	}
	return MethodDM
}

// MainStatus is the coarse per-task state.
type MainStatus string

// Main task status values.
const (
	TaskWaiting    MainStatus = "waiting"
	TaskProcessing MainStatus = "processing"
	TaskCompleted  MainStatus = "completed"
	TaskError      MainStatus = "error"
	TaskCancelled  MainStatus = "cancelled"
)

// Terminal reports whether the task may not be advanced further.
func (s MainStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError || s == TaskCancelled
}

// SubStatus groups detailed statuses into pipeline phases. It is always
// derived from the detailed status, never stored independently.
type SubStatus string

// Task sub-status values.
const (
	SubInitial           SubStatus = "initial"
	SubContentGeneration SubStatus = "content_generation"
	SubDMProcess         SubStatus = "dm_process"
	SubFormProcess       SubStatus = "form_process"
)

// DetailedStatus is the fine-grained task state persisted for reporting.
type DetailedStatus string

// Detailed task status values.
const (
	StatusInitial              DetailedStatus = "initial"
	StatusContentGeneration    DetailedStatus = "content_generation"
	StatusContentGenerated     DetailedStatus = "content_generated"
	StatusDMCheck              DetailedStatus = "dm_check"
	StatusDMReady              DetailedStatus = "dm_ready"
	StatusDMPreparation        DetailedStatus = "dm_preparation"
	StatusDMSending            DetailedStatus = "dm_sending"
	StatusFormDetection        DetailedStatus = "form_detection"
	StatusFormDetected         DetailedStatus = "form_detected"
	StatusFormDataPrepared     DetailedStatus = "form_data_prepared"
	StatusAutoFillReady        DetailedStatus = "auto_fill_ready"
	StatusSubmissionInProgress DetailedStatus = "submission_in_progress"
	StatusCompletedDMSent      DetailedStatus = "completed_dm_sent"
	StatusCompletedFormSubmit  DetailedStatus = "completed_form_submitted"
	StatusFailedGeneration     DetailedStatus = "failed_content_generation"
	StatusFailedDMSending      DetailedStatus = "failed_dm_sending"
	StatusFailedFormDetection  DetailedStatus = "failed_form_detection"
	StatusFailedFormSubmission DetailedStatus = "failed_form_submission"
	StatusFailedFallback       DetailedStatus = "failed_fallback"
	StatusFallbackToForm       DetailedStatus = "fallback_to_form"
	StatusFallbackToDM         DetailedStatus = "fallback_to_dm"
	StatusFallbackInitiated    DetailedStatus = "fallback_initiated"
)

// Sub derives the pipeline phase the detailed status belongs to, keeping
// the persisted pair consistent by construction.
func (s DetailedStatus) Sub() SubStatus {
	switch s {
	case StatusInitial:
		return SubInitial
	case StatusContentGeneration, StatusContentGenerated, StatusFailedGeneration:
		return SubContentGeneration
	case StatusDMCheck, StatusDMReady, StatusDMPreparation, StatusDMSending,
		StatusCompletedDMSent, StatusFailedDMSending, StatusFallbackToDM:
		return SubDMProcess
	case StatusFormDetection, StatusFormDetected, StatusFormDataPrepared,
		StatusAutoFillReady, StatusSubmissionInProgress,
		StatusCompletedFormSubmit, StatusFailedFormDetection,
		StatusFailedFormSubmission, StatusFallbackToForm:
		return SubFormProcess
	case StatusFallbackInitiated, StatusFailedFallback:
		return SubInitial
	default:
		return SubInitial
	}
}

// Terminal reports whether the detailed status ends the task lifecycle.
func (s DetailedStatus) Terminal() bool {
	switch s {
	case StatusCompletedDMSent, StatusCompletedFormSubmit, StatusFailedFallback:
		return true
	default:
		return false
	}
}

// Completed reports whether the detailed status is a successful terminal.
func (s DetailedStatus) Completed() bool {
	return s == StatusCompletedDMSent || s == StatusCompletedFormSubmit
}

// Failed reports whether the detailed status is one of the failed variants.
func (s DetailedStatus) Failed() bool {
	switch s {
	case StatusFailedGeneration, StatusFailedDMSending, StatusFailedFormDetection,
		StatusFailedFormSubmission, StatusFailedFallback:
		return true
	default:
		return false
	}
}

// AttemptRecord captures one delivery attempt for audit and reporting.
type AttemptRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	Method    SendMethod `json:"method"`
	Success   bool       `json:"success"`
}

// FailureRecord is appended to a job when one of its tasks fails terminally.
type FailureRecord struct {
	TaskID      string          `json:"task_id"`
	CompanyName string          `json:"company_name"`
	Reason      string          `json:"reason"`
	RetryCount  int             `json:"retry_count"`
	Attempts    []AttemptRecord `json:"attempts"`
	FailedAt    time.Time       `json:"failed_at"`
}

// BatchJob represents one outreach campaign.
type BatchJob struct {
	ID              string          `json:"id"`
	Status          JobStatus       `json:"status"`
	TotalTasks      int             `json:"total_tasks"`
	CompletedTasks  int             `json:"completed_tasks"`
	PreferredMethod SendMethod      `json:"preferred_method"`
	ParallelTasks   int             `json:"parallel_tasks"`
	RetryAttempts   int             `json:"retry_attempts"`
	ErrorThreshold  float64         `json:"error_threshold"`
	Failures        []FailureRecord `json:"failures,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Task is one company's outreach attempt within a batch job.
type Task struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	CompanyID      string          `json:"company_id"`
	CompanyName    string          `json:"company_name"`
	MainStatus     MainStatus      `json:"main_status"`
	SubStatus      SubStatus       `json:"sub_status"`
	DetailedStatus DetailedStatus  `json:"detailed_status"`
	RetryCount     int             `json:"retry_count"`
	LastRetry      *time.Time      `json:"last_retry,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	SendMethod     SendMethod      `json:"send_method,omitempty"`
	Content        string          `json:"content,omitempty"`
	FallbackUsed   bool            `json:"fallback_used"`
	Attempts       []AttemptRecord `json:"attempts,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// QueueStatus is the lifecycle state of a crawl queue item.
type QueueStatus string

// Crawl queue status values.
const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// CrawlQueueItem is one pending fetch of a company's website. Items are
// never deleted automatically; failed items stay queryable for audit.
type CrawlQueueItem struct {
	ID                  string        `json:"id"`
	CompanyID           string        `json:"company_id"`
	Status              QueueStatus   `json:"status"`
	RetryCount          int           `json:"retry_count"`
	ErrorMessage        string        `json:"error_message,omitempty"`
	NextRetryAt         *time.Time    `json:"next_retry_at,omitempty"`
	ProcessingStartedAt *time.Time    `json:"processing_started_at,omitempty"`
	ProcessingDuration  time.Duration `json:"processing_duration,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// ItemError pairs a company with the error its crawl produced.
type ItemError struct {
	CompanyID string `json:"company_id"`
	Message   string `json:"error"`
}

// ProcessingMetrics summarizes one crawl cycle. Immutable after creation.
type ProcessingMetrics struct {
	Timestamp      time.Time     `json:"timestamp"`
	BatchSize      int           `json:"batch_size"`
	SuccessCount   int           `json:"success_count"`
	FailureCount   int           `json:"failure_count"`
	ProcessingTime time.Duration `json:"processing_time"`
	Errors         []ItemError   `json:"errors,omitempty"`
}

// Company holds the profile data the pipelines read and refresh.
type Company struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url,omitempty"`
	DMProfile     string     `json:"dm_profile,omitempty"`
	Content       string     `json:"website_content,omitempty"`
	DisplayName   string     `json:"website_display_name,omitempty"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
}

// DeliveryResult is returned by channel senders on success.
type DeliveryResult struct {
	Method      SendMethod `json:"method"`
	Reference   string     `json:"reference,omitempty"`
	DeliveredAt time.Time  `json:"delivered_at"`
}

// FormField describes one input discovered on a contact form.
type FormField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required"`
}

// FormSchema is the fillable shape of a detected contact form.
type FormSchema struct {
	FormURL string      `json:"form_url"`
	Action  string      `json:"action"`
	Method  string      `json:"method"`
	Fields  []FormField `json:"fields"`
}

// LogLevel classifies process log entries.
type LogLevel string

// Process log levels.
const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warning"
	LogError LogLevel = "error"
)
