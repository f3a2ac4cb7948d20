package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Total number of process events accepted by the detection engine",
		},
		[]string{"source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_rejected_total",
			Help: "Total number of process events rejected before buffering",
		},
		[]string{"reason"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_generated_total",
			Help: "Total number of alerts recorded",
		},
		[]string{"severity", "rule"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_deduplicated_total",
			Help: "Total number of alert proposals dropped as duplicates of an existing (event, rule) pair",
		},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rule_evaluation_errors_total",
			Help: "Total number of rule evaluations that failed or panicked",
		},
		[]string{"rule"},
	)

	RegexTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_regex_timeouts_total",
			Help: "Total number of rule pattern matches aborted by the match timeout",
		},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_persistence_failures_total",
			Help: "Total number of collection writes that failed after all retries",
		},
		[]string{"collection"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_ingest_duration_seconds",
			Help:    "Time taken to evaluate and record a single event",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_event_buffer_size",
			Help: "Current number of events held in the rolling buffer",
		},
	)

	NotifySubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_notify_subscribers",
			Help: "Current number of change notification subscribers",
		},
	)
)
