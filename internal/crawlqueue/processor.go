// Package crawlqueue drains the company crawl queue: fetch, clean, extract
// and persist, with per-item retry scheduling.
package crawlqueue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/metrics"
	"github.com/skuwata/outreachd/internal/outreach"
	"github.com/skuwata/outreachd/internal/retry"
)

// Recorder receives one metrics sample per cycle.
type Recorder interface {
	Record(ctx context.Context, m outreach.ProcessingMetrics) error
}

// Config bounds one crawl cycle.
type Config struct {
	BatchSize           int
	MaxRetries          int
	OpAttempts          int
	SnapshotPrefix      string
	SnapshotContentType string
}

// Processor runs crawl cycles. Items are claimed one at a time so several
// processors can share a queue without double work.
type Processor struct {
	queue     outreach.CrawlQueueStore
	companies outreach.CompanyStore
	fetcher   outreach.Fetcher
	blob      outreach.BlobStore
	recorder  Recorder
	clock     outreach.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Processor. blob may be nil to disable snapshots.
func New(
	queue outreach.CrawlQueueStore,
	companies outreach.CompanyStore,
	fetcher outreach.Fetcher,
	blob outreach.BlobStore,
	recorder Recorder,
	clock outreach.Clock,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.OpAttempts <= 0 {
		cfg.OpAttempts = 3
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		queue:     queue,
		companies: companies,
		fetcher:   fetcher,
		blob:      blob,
		recorder:  recorder,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunCycle performs one pass over the queue: expire items out of retry
// budget, claim up to batch_size due items and process each. The returned
// metrics describe only this cycle.
func (p *Processor) RunCycle(ctx context.Context) (outreach.ProcessingMetrics, error) {
	started := p.clock.Now()

	expired, err := p.queue.FailExhausted(ctx, p.cfg.MaxRetries, started)
	if err != nil {
		return outreach.ProcessingMetrics{}, fmt.Errorf("fail exhausted items: %w", err)
	}
	if expired > 0 {
		p.logger.Warn("crawl items out of retry budget", zap.Int("count", expired))
	}

	items, err := p.queue.DuePending(ctx, p.cfg.BatchSize, p.cfg.MaxRetries, started)
	if err != nil {
		return outreach.ProcessingMetrics{}, fmt.Errorf("list due items: %w", err)
	}

	// BatchSize counts only items this cycle actually worked on: claims
	// lost to a competing processor stay out of the error rate.
	m := outreach.ProcessingMetrics{Timestamp: started}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		claimed, err := p.queue.Claim(ctx, item.ID, p.clock.Now())
		if err != nil {
			m.BatchSize++
			m.FailureCount++
			m.Errors = append(m.Errors, outreach.ItemError{
				CompanyID: item.CompanyID,
				Message:   fmt.Sprintf("claim item %s: %v", item.ID, err),
			})
			p.logger.Error("failed to claim item", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		m.BatchSize++
		if itemErr := p.processItem(ctx, item); itemErr != nil {
			m.FailureCount++
			m.Errors = append(m.Errors, outreach.ItemError{CompanyID: item.CompanyID, Message: itemErr.Error()})
		} else {
			m.SuccessCount++
		}
	}
	m.ProcessingTime = p.clock.Now().Sub(started)

	metrics.ObserveCrawlCycle(m.BatchSize, m.ProcessingTime)
	if p.recorder != nil {
		if err := p.recorder.Record(ctx, m); err != nil {
			p.logger.Error("failed to record cycle metrics", zap.Error(err))
		}
	}

	p.logger.Info("crawl cycle finished",
		zap.Int("batch_size", m.BatchSize),
		zap.Int("success", m.SuccessCount),
		zap.Int("failure", m.FailureCount),
		zap.Duration("elapsed", m.ProcessingTime),
	)
	return m, nil
}

// processItem crawls one company. The returned error is the business
// failure already applied to the item; the cycle keeps going.
func (p *Processor) processItem(ctx context.Context, item outreach.CrawlQueueItem) error {
	started := p.clock.Now()
	item.ProcessingStartedAt = &started

	company, err := p.companies.GetCompany(ctx, item.CompanyID)
	if err != nil {
		return p.applyFailure(ctx, item, outreach.E(outreach.KindValidation, "load company", err))
	}

	target, err := TopPageURL(company.URL)
	if err != nil {
		return p.applyFailure(ctx, item, err)
	}

	page, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return p.applyFailure(ctx, item, err)
	}
	p.snapshot(ctx, company.ID, page)

	content, err := CleanContent(page.HTML)
	if err != nil {
		return p.applyFailure(ctx, item, err)
	}
	displayName := ExtractDisplayName(page.HTML)

	err = retry.Do(ctx, p.cfg.OpAttempts, func(ctx context.Context) error {
		return p.companies.UpdateCrawlResult(ctx, company.ID, content, displayName, p.clock.Now())
	})
	if err != nil {
		return p.applyFailure(ctx, item, err)
	}

	now := p.clock.Now()
	item.Status = outreach.QueueCompleted
	item.ErrorMessage = ""
	item.NextRetryAt = nil
	item.ProcessingDuration = now.Sub(started)
	item.UpdatedAt = now
	if err := p.queue.UpdateItem(ctx, item); err != nil {
		p.logger.Error("failed to mark item completed", zap.String("item_id", item.ID), zap.Error(err))
		return err
	}
	metrics.ObserveCrawlItem("completed")

	p.logger.Debug("crawl item completed",
		zap.String("item_id", item.ID),
		zap.String("company_id", company.ID),
		zap.String("display_name", displayName),
		zap.Duration("elapsed", item.ProcessingDuration),
	)
	return nil
}

// applyFailure persists one failed attempt: transient errors are pushed to
// the next backoff slot, fatal ones fail the item outright.
func (p *Processor) applyFailure(ctx context.Context, item outreach.CrawlQueueItem, cause error) error {
	now := p.clock.Now()
	item.ErrorMessage = cause.Error()
	item.UpdatedAt = now
	if item.ProcessingStartedAt != nil {
		item.ProcessingDuration = now.Sub(*item.ProcessingStartedAt)
	}

	if retry.IsRetryable(cause) {
		item = retry.Reschedule(item, p.cfg.MaxRetries, now)
	} else {
		item.Status = outreach.QueueFailed
		item.NextRetryAt = nil
	}
	metrics.ObserveCrawlItem(string(item.Status))

	if err := p.queue.UpdateItem(ctx, item); err != nil {
		p.logger.Error("failed to persist item failure", zap.String("item_id", item.ID), zap.Error(err))
		return fmt.Errorf("persist failure for item %s: %w (original: %v)", item.ID, err, cause)
	}

	p.logger.Warn("crawl item failed",
		zap.String("item_id", item.ID),
		zap.String("company_id", item.CompanyID),
		zap.String("status", string(item.Status)),
		zap.Int("retry_count", item.RetryCount),
		zap.Error(cause),
	)
	return cause
}

// snapshot stores the raw page for later reprocessing. Best effort.
func (p *Processor) snapshot(ctx context.Context, companyID string, page outreach.Page) {
	if p.blob == nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%d.html", p.cfg.SnapshotPrefix, companyID, page.FetchedAt.UTC().UnixNano())
	uri, err := p.blob.PutObject(ctx, path, p.cfg.SnapshotContentType, page.HTML)
	if err != nil {
		p.logger.Warn("snapshot upload failed", zap.String("company_id", companyID), zap.Error(err))
		return
	}
	p.logger.Debug("snapshot stored", zap.String("company_id", companyID), zap.String("uri", uri))
}
