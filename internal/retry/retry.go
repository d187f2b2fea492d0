// Package retry holds the pure backoff and retry-eligibility functions
// shared by the task state machine and the crawl queue processor.
package retry

import (
	"context"
	"time"

	"github.com/skuwata/outreachd/internal/outreach"
)

// NextDelay returns the generic exponential backoff for operation retries:
// 1, 2, 4, 8, 16... minutes.
func NextDelay(retryCount int) time.Duration {
	return time.Duration(1<<uint(retryCount)) * time.Minute
}

// CrawlDelay returns the crawl pipeline backoff: 5, 15, 45... minutes. The
// schedule is steeper because crawling is rate-limited by external sites.
func CrawlDelay(retryCount int) time.Duration {
	delay := 5 * time.Minute
	for i := 0; i < retryCount; i++ {
		delay *= 3
	}
	return delay
}

// CanRetry reports whether another retry slot remains.
func CanRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}

// IsRetryable reports whether err is a transient failure that should
// consume a retry slot. Fatal errors fail immediately.
func IsRetryable(err error) bool {
	return outreach.Retryable(err)
}

// IsDue reports whether a scheduled retry time has arrived. Items without
// one are never due.
func IsDue(nextRetryAt *time.Time, now time.Time) bool {
	if nextRetryAt == nil {
		return false
	}
	return !now.Before(*nextRetryAt)
}

// Reschedule applies one failure to a crawl queue item: under the cap it
// goes back to pending with the next backoff slot, otherwise it fails
// permanently. The retry count never decreases.
func Reschedule(item outreach.CrawlQueueItem, maxRetries int, now time.Time) outreach.CrawlQueueItem {
	if CanRetry(item.RetryCount, maxRetries) {
		next := now.Add(CrawlDelay(item.RetryCount))
		item.RetryCount++
		item.NextRetryAt = &next
		item.Status = outreach.QueuePending
		return item
	}
	item.Status = outreach.QueueFailed
	item.NextRetryAt = nil
	return item
}

// Do runs op up to attempts times, returning the first success. It guards a
// single state transition against transient infrastructure errors and is
// distinct from the business-level retry bookkeeping on tasks and queue
// items. Fatal errors and context cancellation stop immediately.
func Do(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
