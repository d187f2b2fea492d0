package outreach

import (
	"context"
	"time"
)

// GenerationRequest carries the context the content generator needs. The
// generator settings (model, keys) travel with the request instead of being
// read from ambient state.
type GenerationRequest struct {
	TaskID        string
	CompanyID     string
	CompanyName   string
	Product       string
	SenderName    string
	SenderCompany string
	CustomPrompt  string
	Model         string
}

// ContentGenerator produces the outreach message body. The remote call is
// opaque; errors must be classifiable via Classify.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// DMSender delivers a message over the direct-message channel. It fails
// with a KindNoProfile error when the company has no reachable profile.
type DMSender interface {
	Send(ctx context.Context, company Company, content string) (DeliveryResult, error)
}

// FormSender drives the website contact-form channel.
type FormSender interface {
	DetectForm(ctx context.Context, pageURL string) (string, error)
	ExtractFields(ctx context.Context, formURL string) (FormSchema, error)
	Submit(ctx context.Context, schema FormSchema, values map[string]string) (DeliveryResult, error)
}

// Page is one fetched web page.
type Page struct {
	URL       string
	HTML      []byte
	FetchedAt time.Time
}

// Fetcher retrieves a page over HTTP. Errors must be classifiable via
// Classify so the crawl queue can tell transient failures from fatal ones.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

// JobStore persists batch jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job BatchJob) error
	GetJob(ctx context.Context, jobID string) (BatchJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	SetCompletedTasks(ctx context.Context, jobID string, completed int) error
	AppendFailure(ctx context.Context, jobID string, failure FailureRecord) error
}

// TaskStore persists tasks. Writes are per-row atomic; there are no
// multi-row transactions.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListWaiting(ctx context.Context, jobID string) ([]Task, error)
	UpdateTask(ctx context.Context, task Task) error
	CountByMainStatus(ctx context.Context, jobID string) (map[MainStatus]int, error)
}

// CompanyStore reads and refreshes company profiles.
type CompanyStore interface {
	GetCompany(ctx context.Context, companyID string) (Company, error)
	UpdateCrawlResult(ctx context.Context, companyID, content, displayName string, crawledAt time.Time) error
}

// CrawlQueueStore persists crawl queue items. Claim flips a pending item to
// processing and reports whether this caller won the claim.
type CrawlQueueStore interface {
	Enqueue(ctx context.Context, item CrawlQueueItem) error
	DuePending(ctx context.Context, limit, maxRetries int, now time.Time) ([]CrawlQueueItem, error)
	FailExhausted(ctx context.Context, maxRetries int, now time.Time) (int, error)
	Claim(ctx context.Context, itemID string, startedAt time.Time) (bool, error)
	UpdateItem(ctx context.Context, item CrawlQueueItem) error
}

// MetricsStore records per-cycle processing metrics for observability.
type MetricsStore interface {
	RecordMetrics(ctx context.Context, m ProcessingMetrics) error
	ListMetrics(ctx context.Context, limit int) ([]ProcessingMetrics, error)
}

// ProcessLogger is the append-only job progress log. Implementations are
// fire-and-forget; failures must not abort the caller.
type ProcessLogger interface {
	Log(ctx context.Context, jobID, taskID, message string, level LogLevel)
}

// Notifier delivers operational alerts to an external channel (e.g. a chat
// webhook). Best-effort; a failed notification never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes delivery events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
