// Package monitor records processing metrics, raises error-rate alerts and
// advises the crawl batch size.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/metrics"
	"github.com/skuwata/outreachd/internal/outreach"
	"github.com/skuwata/outreachd/internal/retry"
)

// Config controls alerting behavior.
type Config struct {
	Channel            string
	ErrorRateThreshold float64
	TargetCycle        time.Duration
	OpAttempts         int
}

// Monitor persists cycle metrics and watches the error rate. One alert per
// recorded sample, never more.
type Monitor struct {
	store    outreach.MetricsStore
	notifier outreach.Notifier
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Monitor. notifier may be nil to disable alerting.
func New(store outreach.MetricsStore, notifier outreach.Notifier, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.2
	}
	if cfg.TargetCycle <= 0 {
		cfg.TargetCycle = time.Minute
	}
	if cfg.OpAttempts <= 0 {
		cfg.OpAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{store: store, notifier: notifier, cfg: cfg, logger: logger}
}

// Record persists one cycle sample and fires the error-rate alert when the
// sample crosses the threshold. Alert delivery is best effort.
func (m *Monitor) Record(ctx context.Context, sample outreach.ProcessingMetrics) error {
	err := retry.Do(ctx, m.cfg.OpAttempts, func(ctx context.Context) error {
		return m.store.RecordMetrics(ctx, sample)
	})
	if err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}

	rate := ErrorRate(sample)
	if rate >= m.cfg.ErrorRateThreshold && m.notifier != nil {
		msg := fmt.Sprintf("crawl error rate %.0f%% (%d/%d failed, cycle %s)",
			rate*100, sample.FailureCount, sample.BatchSize, sample.ProcessingTime.Round(time.Millisecond))
		if notifyErr := m.notifier.Notify(ctx, m.cfg.Channel, msg); notifyErr != nil {
			m.logger.Error("alert delivery failed", zap.Error(notifyErr))
		} else {
			metrics.ObserveAlert()
		}
		m.logger.Warn("error rate over threshold",
			zap.Float64("rate", rate),
			zap.Float64("threshold", m.cfg.ErrorRateThreshold),
		)
	}
	return nil
}

// OptimalBatchSize suggests the next batch size from recent history: the
// largest batch whose projected cycle time stays under the target, clamped
// to [1, 50]. With no history it returns the default of 10.
func (m *Monitor) OptimalBatchSize(ctx context.Context, history int) (int, error) {
	samples, err := m.store.ListMetrics(ctx, history)
	if err != nil {
		return 0, fmt.Errorf("list metrics: %w", err)
	}
	return optimalBatchSize(samples, m.cfg.TargetCycle), nil
}

// ErrorRate is failures over batch size; an empty batch has rate zero.
func ErrorRate(sample outreach.ProcessingMetrics) float64 {
	if sample.BatchSize == 0 {
		return 0
	}
	return float64(sample.FailureCount) / float64(sample.BatchSize)
}

func optimalBatchSize(samples []outreach.ProcessingMetrics, target time.Duration) int {
	if len(samples) == 0 {
		return 10
	}

	var total time.Duration
	for _, s := range samples {
		total += s.ProcessingTime
	}
	avgCycle := total / time.Duration(len(samples))

	refBatch := samples[0].BatchSize
	if refBatch <= 0 || avgCycle <= 0 {
		return 10
	}
	perItem := avgCycle / time.Duration(refBatch)
	if perItem <= 0 {
		return 50
	}

	optimal := int(target / perItem)
	if optimal < 1 {
		return 1
	}
	if optimal > 50 {
		return 50
	}
	return optimal
}
