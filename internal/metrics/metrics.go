// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amstig_executions_total",
			Help: "Total number of code executions by terminal status",
		},
		[]string{"language", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amstig_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"language", "status"},
	)

	InputErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amstig_input_errors_total",
			Help: "Submissions rejected before any resource was committed",
		},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amstig_admission_rejections_total",
			Help: "Submissions refused by admission control",
		},
		[]string{"reason"}, // reason: "saturated", "queue_full", "queue_timeout"
	)

	InfraFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amstig_infra_failures_total",
			Help: "Executions that failed because the sandbox environment failed",
		},
	)

	OutputTruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amstig_output_truncated_total",
			Help: "Executions whose output hit the collector cap",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amstig_queue_depth",
			Help: "Current number of submissions waiting for a slot",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amstig_active_sessions",
			Help: "Number of sessions currently holding a slot",
		},
	)

	QueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amstig_queue_wait_ms",
			Help:    "Time spent waiting for a slot",
			Buckets: []float64{1, 5, 25, 100, 250, 500, 1000, 2000, 5000},
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amstig_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)

// RegisterWarmPool exposes the number of ready execution units of the active
// sandbox. ready is called on every scrape.
func RegisterWarmPool(backend string, ready func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "amstig_warm_pool_ready",
			Help:        "Pre-warmed execution units waiting for a session",
			ConstLabels: prometheus.Labels{"backend": backend},
		},
		func() float64 { return float64(ready()) },
	))
}
