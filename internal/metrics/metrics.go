package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// JobsEnqueued counts jobs accepted by the queue per channel
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_enqueued_total",
			Help: "Number of delivery jobs enqueued",
		},
		[]string{"channel", "priority"},
	)

	// JobsExecuted outcome is delivered, failed or retrying
	JobsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_executed_total",
			Help: "Number of delivery jobs executed by outcome",
		},
		[]string{"channel", "outcome"},
	)

	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Duration of adapter sends",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Number of explicit and automatic retries",
		},
		[]string{"kind"},
	)

	TerminalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_terminal_failures_total",
			Help: "Deliveries that exhausted every attempt",
		},
		[]string{"channel"},
	)

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_reminder_sweeps_total",
			Help: "Reminder sweeps by result (completed or skipped)",
		},
		[]string{"result"},
	)

	RemindersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_reminders_processed_total",
			Help: "Reminders handled by the sweep",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(
		HTTPRequests, HTTPDuration,
		JobsEnqueued, JobsExecuted, SendDuration,
		Retries, TerminalFailures,
		SweepRuns, RemindersProcessed,
	)
}
