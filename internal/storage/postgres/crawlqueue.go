package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Enqueue implements outreach.CrawlQueueStore.
func (s *Store) Enqueue(ctx context.Context, item outreach.CrawlQueueItem) error {
	const q = `INSERT INTO crawl_queue
		(id, company_id, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		item.ID, item.CompanyID, item.Status, item.RetryCount,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue crawl item %s: %w", item.ID, err)
	}
	return nil
}

// DuePending implements outreach.CrawlQueueStore. Only pending items inside
// their retry budget and past any scheduled backoff come back.
func (s *Store) DuePending(ctx context.Context, limit, maxRetries int, now time.Time) ([]outreach.CrawlQueueItem, error) {
	const q = `SELECT id, company_id, status, retry_count, COALESCE(error_message, ''),
		next_retry_at, processing_started_at, COALESCE(processing_duration_ms, 0),
		created_at, updated_at
		FROM crawl_queue
		WHERE status = $1 AND retry_count < $2
		  AND (next_retry_at IS NULL OR next_retry_at <= $3)
		ORDER BY created_at, id
		LIMIT $4`

	rows, err := s.pool.Query(ctx, q, outreach.QueuePending, maxRetries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due crawl items: %w", err)
	}
	defer rows.Close()

	var items []outreach.CrawlQueueItem
	for rows.Next() {
		var (
			item       outreach.CrawlQueueItem
			durationMS int64
		)
		err := rows.Scan(
			&item.ID, &item.CompanyID, &item.Status, &item.RetryCount,
			&item.ErrorMessage, &item.NextRetryAt, &item.ProcessingStartedAt,
			&durationMS, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan crawl item: %w", err)
		}
		item.ProcessingDuration = time.Duration(durationMS) * time.Millisecond
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due crawl items: %w", err)
	}
	return items, nil
}

// FailExhausted implements outreach.CrawlQueueStore. Items over the retry
// budget flip to failed without another fetch; rows stay for audit.
func (s *Store) FailExhausted(ctx context.Context, maxRetries int, now time.Time) (int, error) {
	const q = `UPDATE crawl_queue
		SET status = $1, next_retry_at = NULL, updated_at = $2
		WHERE status = $3 AND retry_count >= $4`

	tag, err := s.pool.Exec(ctx, q, outreach.QueueFailed, now, outreach.QueuePending, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("fail exhausted crawl items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Claim implements outreach.CrawlQueueStore. The conditional update makes
// the claim exclusive: only the caller that flips pending to processing wins.
func (s *Store) Claim(ctx context.Context, itemID string, startedAt time.Time) (bool, error) {
	const q = `UPDATE crawl_queue
		SET status = $1, processing_started_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4`

	tag, err := s.pool.Exec(ctx, q, outreach.QueueProcessing, startedAt, itemID, outreach.QueuePending)
	if err != nil {
		return false, fmt.Errorf("claim crawl item %s: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateItem implements outreach.CrawlQueueStore.
func (s *Store) UpdateItem(ctx context.Context, item outreach.CrawlQueueItem) error {
	const q = `UPDATE crawl_queue SET
		status = $2, retry_count = $3, error_message = NULLIF($4, ''),
		next_retry_at = $5, processing_started_at = $6,
		processing_duration_ms = $7, updated_at = $8
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		item.ID, item.Status, item.RetryCount, item.ErrorMessage,
		item.NextRetryAt, item.ProcessingStartedAt,
		item.ProcessingDuration.Milliseconds(), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update crawl item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update crawl item %s: item not found", item.ID)
	}
	return nil
}
