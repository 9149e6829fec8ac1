// Package metrics provides Prometheus instrumentation for midas.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksCreated counts tasks created from inbound events.
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "tasks_created_total",
		Help:      "Total number of retry tasks created.",
	}, []string{"journey", "scheme"})

	// JobsProcessed counts work queue jobs by type and result.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "jobs_processed_total",
		Help:      "Total number of work queue jobs processed.",
	}, []string{"type", "result"})

	// JobDuration tracks job execution duration.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "midas",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"type"})

	// JourneyOutcomes counts finished journeys.
	JourneyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "journey_outcomes_total",
		Help:      "Total number of finished journeys by outcome.",
	}, []string{"journey", "outcome", "scheme"})

	// JourneyAttempts tracks how many attempts a journey took to finish.
	JourneyAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "midas",
		Name:      "journey_attempts",
		Help:      "Attempts used by finished journeys.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
	}, []string{"journey", "outcome"})

	// MessagesConsumed counts inbound bus messages by type and result.
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "messages_consumed_total",
		Help:      "Total number of message bus events consumed.",
	}, []string{"type", "result"})

	// CallbacksReceived counts merchant callbacks by result.
	CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "callbacks_received_total",
		Help:      "Total number of merchant callbacks received.",
	}, []string{"scheme", "result"})

	// TasksRequeued counts tasks requeued by the sweeper or the API.
	TasksRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "tasks_requeued_total",
		Help:      "Total number of tasks requeued.",
	}, []string{"source"})

	// ErrorsReported counts errors sent to the reporter.
	ErrorsReported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "errors_reported_total",
		Help:      "Total number of unexpected errors reported.",
	})

	// ServerInfo exposes static process metadata as labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "midas",
		Name:      "server_info",
		Help:      "Static server metadata.",
	}, []string{"version", "process"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "midas",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "midas",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

// Init sets static process metadata on the info metric.
func Init(version, process string) {
	ServerInfo.WithLabelValues(version, process).Set(1)
}
