// Package metrics holds the worker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Read job lifecycle
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_submissions_total",
			Help: "Total number of documents submitted to the recognition service",
		},
		[]string{"mode", "status"}, // mode: read, ocr; status: accepted, rejected, error
	)

	PollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_poll_attempts_total",
			Help: "Total number of status fetches issued while polling",
		},
		[]string{"result"}, // result: notStarted, running, succeeded, failed, fetch_error
	)

	PollOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_poll_outcomes_total",
			Help: "Total number of finished polls by outcome",
		},
		[]string{"outcome"}, // outcome: succeeded, or an error code
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_read_poll_duration_seconds",
			Help:    "Time from first fetch to a terminal poll outcome",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		},
	)

	// Worker processing
	DocumentsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_documents_processed_total",
			Help: "Total number of processed documents",
		},
		[]string{"mode", "status"}, // status: completed, failed
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_read_processing_duration_seconds",
			Help:    "End-to-end document processing duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 25, 50, 100, 300},
		},
		[]string{"mode"},
	)

	WordsRecognized = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_read_words_recognized",
			Help:    "Number of words per recognized document",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_matches_total",
			Help: "Total number of matching words found",
		},
		[]string{"kind"}, // kind: pattern, literal
	)

	WorkflowErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_workflow_errors_total",
			Help: "Total number of errors recorded by document workflows",
		},
		[]string{"code"},
	)

	// Queue
	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_read_queue_jobs_total",
			Help: "Total number of queue jobs handled",
		},
		[]string{"backend", "status"}, // status: completed, retried, failed
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
