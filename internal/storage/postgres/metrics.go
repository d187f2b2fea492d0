package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skuwata/outreachd/internal/outreach"
)

// RecordMetrics implements outreach.MetricsStore.
func (s *Store) RecordMetrics(ctx context.Context, m outreach.ProcessingMetrics) error {
	const q = `INSERT INTO process_metrics
		(timestamp, batch_size, success_count, failure_count, processing_time_ms, errors)
		VALUES ($1, $2, $3, $4, $5, $6)`

	errorsJSON, err := json.Marshal(m.Errors)
	if err != nil {
		return fmt.Errorf("encode cycle errors: %w", err)
	}
	_, err = s.pool.Exec(ctx, q,
		m.Timestamp, m.BatchSize, m.SuccessCount, m.FailureCount,
		m.ProcessingTime.Milliseconds(), errorsJSON,
	)
	if err != nil {
		return fmt.Errorf("record processing metrics: %w", err)
	}
	return nil
}

// ListMetrics implements outreach.MetricsStore, newest first.
func (s *Store) ListMetrics(ctx context.Context, limit int) ([]outreach.ProcessingMetrics, error) {
	const q = `SELECT timestamp, batch_size, success_count, failure_count,
		processing_time_ms, COALESCE(errors, '[]'::jsonb)
		FROM process_metrics
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list processing metrics: %w", err)
	}
	defer rows.Close()

	var samples []outreach.ProcessingMetrics
	for rows.Next() {
		var (
			m          outreach.ProcessingMetrics
			durationMS int64
			errorsJSON []byte
		)
		err := rows.Scan(&m.Timestamp, &m.BatchSize, &m.SuccessCount,
			&m.FailureCount, &durationMS, &errorsJSON)
		if err != nil {
			return nil, fmt.Errorf("scan processing metrics: %w", err)
		}
		m.ProcessingTime = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal(errorsJSON, &m.Errors); err != nil {
			return nil, fmt.Errorf("decode cycle errors: %w", err)
		}
		samples = append(samples, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list processing metrics: %w", err)
	}
	return samples, nil
}
