// Package metrics exposes Prometheus collectors for the outreach service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	taskTransitionsTotal      *prometheus.CounterVec
	deliveriesTotal           *prometheus.CounterVec
	jobsTotal                 *prometheus.CounterVec
	crawlItemsTotal           *prometheus.CounterVec
	crawlCycleDurationSeconds prometheus.Histogram
	crawlBatchSize            prometheus.Histogram
	alertNotificationsTotal   prometheus.Counter
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Collectors must exist before any Observe helper runs, including from
// package tests that never touch main.
func init() { Init() }

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		taskTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_task_transitions_total",
				Help: "Total task state transitions, labeled by detailed status.",
			},
			[]string{"status"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_deliveries_total",
				Help: "Total delivery attempts, labeled by channel and result.",
			},
			[]string{"method", "result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_jobs_total",
				Help: "Total batch jobs finalized, labeled by status.",
			},
			[]string{"status"},
		)

		crawlItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_items_total",
				Help: "Total crawl queue items processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		crawlCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_cycle_duration_seconds",
				Help:    "Histogram of crawl cycle wall time.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		)

		crawlBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_batch_size",
				Help:    "Histogram of items claimed per crawl cycle.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		)

		alertNotificationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "alert_notifications_total",
				Help: "Total error-rate alerts sent to the notification channel.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTaskTransition increments the transition counter for a detailed status.
func ObserveTaskTransition(status string) {
	taskTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveDelivery increments the delivery counter for a channel attempt.
func ObserveDelivery(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	deliveriesTotal.WithLabelValues(method, result).Inc()
}

// ObserveJob increments the job counter for the given final status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveCrawlItem increments the crawl item counter for the given outcome.
func ObserveCrawlItem(status string) {
	crawlItemsTotal.WithLabelValues(status).Inc()
}

// ObserveCrawlCycle records one cycle's batch size and duration.
func ObserveCrawlCycle(batchSize int, duration time.Duration) {
	crawlBatchSize.Observe(float64(batchSize))
	crawlCycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveAlert increments the alert counter.
func ObserveAlert() {
	alertNotificationsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
