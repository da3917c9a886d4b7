// Package metrics defines the Prometheus collectors for the email pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Dispatches counts enqueue calls by the path that served them
	// (queued, direct, fallback) and their result.
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailpipe",
			Name:      "dispatches_total",
			Help:      "Send requests accepted by the queue manager, by dispatch path and result.",
		},
		[]string{"path", "result"},
	)

	// Suppressed counts sends withheld by recipient preferences.
	Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailpipe",
			Name:      "suppressed_total",
			Help:      "Sends withheld because recipient preferences forbid the category.",
		},
		[]string{"email_type"},
	)

	// PreferenceFailOpen counts preference lookups that failed and let the
	// send through.
	PreferenceFailOpen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailpipe",
			Name:      "preference_fail_open_total",
			Help:      "Preference lookups that errored and defaulted to permit.",
		},
	)

	// WorkerJobs counts job outcomes in the worker pool.
	WorkerJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailpipe",
			Name:      "worker_jobs_total",
			Help:      "Jobs processed by the worker pool, by outcome (completed, retry, failed).",
		},
		[]string{"outcome"},
	)

	// SendDuration observes provider call latency.
	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailpipe",
			Name:      "provider_send_seconds",
			Help:      "Latency of provider send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "result"},
	)

	// WebhookEvents counts webhook deliveries by event type and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailpipe",
			Name:      "webhook_events_total",
			Help:      "Provider webhook deliveries by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	// QueueDepth mirrors broker job counts at the last stats call.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mailpipe",
			Name:      "queue_jobs",
			Help:      "Broker job counts by state.",
		},
		[]string{"state"},
	)
)

// Register registers every collector with reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		Dispatches,
		Suppressed,
		PreferenceFailOpen,
		WorkerJobs,
		SendDuration,
		WebhookEvents,
		QueueDepth,
	)
}
