// Package metrics exposes Prometheus instruments for jobs, queues and the
// conversation pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_job_attempts_total",
		Help: "Job execution attempts by type and outcome",
	}, []string{"type", "outcome"})
	JobsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_jobs_dead_lettered_total",
		Help: "Jobs routed to the dead-letter queue",
	}, []string{"type"})
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_jobs_enqueued_total",
		Help: "Jobs enqueued by queue",
	}, []string{"queue"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatflow_queue_depth",
		Help: "Pending, scheduled and retrying tasks per queue",
	}, []string{"queue"})
	StageDegraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_pipeline_stage_degraded_total",
		Help: "Pipeline stages that fell back to a degraded substitute",
	}, []string{"stage"})
	FallbackResponses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatflow_pipeline_fallback_responses_total",
		Help: "Apology responses sent after a pipeline failure",
	})
	LLMLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatflow_llm_latency_seconds",
		Help:    "Latency of language model calls by purpose",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"purpose"})
	NotificationDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_notification_deliveries_total",
		Help: "Operator notification deliveries by channel and result",
	}, []string{"channel", "result"})
)

// Register adds every instrument to the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobAttempts,
			JobsDeadLettered,
			JobsEnqueued,
			QueueDepth,
			StageDegraded,
			FallbackResponses,
			LLMLatency,
			NotificationDeliveries,
		)
	})
}

// Handler exposes /metrics with the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
