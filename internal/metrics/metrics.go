package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// Intake metrics
	RecordsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logworker_records_received_total",
			Help: "Total number of records offered to the ingestion buffer",
		},
		[]string{"source"},
	)

	MalformedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logworker_malformed_messages_total",
			Help: "Total number of broker messages that could not be converted",
		},
		[]string{"source"},
	)

	DuplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logworker_duplicate_deliveries_total",
			Help: "Deliveries ignored because the message was already owned by this worker",
		},
	)

	// Buffer metrics
	BufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logworker_buffer_size",
			Help: "Current number of records in the ingestion buffer",
		},
	)

	BufferDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logworker_buffer_dropped_total",
			Help: "Records shed because the ingestion buffer was full",
		},
	)

	// Flush metrics
	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logworker_flushes_total",
			Help: "Total number of batch flushes",
		},
		[]string{"status"},
	)

	FlushedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logworker_flushed_records_total",
			Help: "Total number of records in flushed batches",
		},
		[]string{"status"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logworker_flush_duration_seconds",
			Help:    "Duration of store batch inserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AckErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logworker_ack_errors_total",
			Help: "Broker acknowledgement calls that failed",
		},
	)

	// Dead letter metrics
	DeadLetterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logworker_dlq_size",
			Help: "Current number of records waiting in the retry queue",
		},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logworker_dlq_retries_total",
			Help: "Total number of retry batches",
		},
		[]string{"status"},
	)

	FinalFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logworker_dlq_final_failures_total",
			Help: "Records dropped after exhausting their retries",
		},
	)

	// Reclaim metrics
	Reclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logworker_reclaimed_total",
			Help: "Pending messages claimed from stalled consumers",
		},
	)

	// Backpressure
	BackpressureState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logworker_backpressure_state",
			Help: "Current backpressure state (0=normal, 1=elevated, 2=critical)",
		},
	)
)
