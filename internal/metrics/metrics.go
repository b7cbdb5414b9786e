package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Executor jobs
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_jobs_started_total",
			Help: "Total number of executor jobs started",
		},
		[]string{"phase"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_jobs_finished_total",
			Help: "Total number of executor jobs finished",
		},
		[]string{"phase", "outcome"},
	)

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasknode_jobs_running",
		Help: "Number of executor jobs currently running",
	})

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasknode_job_duration_seconds",
			Help:    "Executor job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// Threshold signer
	TSSRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tasknode_tss_request_duration_seconds",
		Help:    "Signing round-trip duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	TSSRequestsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasknode_tss_requests_failed_total",
		Help: "Total number of signing requests that failed or timed out",
	})

	// Block clock
	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasknode_block_height",
		Help: "Current block height of the task engine",
	})

	// Event relay
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_events_published_total",
			Help: "Total number of engine events forwarded to consumers",
		},
		[]string{"consumer"},
	)

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasknode_events_dropped_total",
		Help: "Total number of engine events dropped because the relay buffer was full",
	})

	EventConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_event_consumer_errors_total",
			Help: "Total number of errors returned by event consumers",
		},
		[]string{"consumer"},
	)

	// NATS
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasknode_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	// Database
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasknode_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
)
