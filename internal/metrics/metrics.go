package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track processing volume
var (
	LedgersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_ledgers_processed_total",
		Help: "Total number of ledgers processed by the table watcher",
	})

	TableStatesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_table_states_saved_total",
		Help: "Total number of table contract snapshots saved",
	})

	ActionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_actions_accepted_total",
			Help: "Total number of accepted action tokens by action",
		},
		[]string{"action"},
	)

	ActionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_actions_rejected_total",
			Help: "Total number of rejected requests by error kind",
		},
		[]string{"kind"},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_state_transitions_total",
			Help: "Total number of hand state transitions by target state",
		},
		[]string{"state"},
	)

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_notifications_published_total",
			Help: "Total number of bus notifications published by kind",
		},
		[]string{"kind"},
	)

	NotificationsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_notifications_processed_total",
		Help: "Total number of bus notifications processed by the worker",
	})

	HandChangesHandled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_hand_changes_handled_total",
		Help: "Total number of change feed entries handled",
	})

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_broadcasts_total",
			Help: "Total number of real-time events broadcast by type",
		},
		[]string{"type"},
	)
)

// Performance metrics - Track processing speed and latency
var (
	LedgerProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_ledger_processing_duration_seconds",
		Help:    "Time taken to process a single ledger",
		Buckets: prometheus.DefBuckets,
	})

	StoreWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_store_write_duration_seconds",
		Help:    "Time taken by hand store writes",
		Buckets: prometheus.DefBuckets,
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_scan_duration_seconds",
		Help:    "Time taken by a full reconciliation scan",
		Buckets: prometheus.DefBuckets,
	})
)

// State metrics - Track current system state
var (
	CurrentLedger = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_current_ledger",
		Help: "Current ledger sequence being processed",
	})

	TrackedTables = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_tracked_tables",
		Help: "Number of table contracts currently being tracked",
	})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_buffer_size",
		Help: "Configured buffer size for RPC ledger retrieval",
	})

	BroadcastSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_broadcast_subscribers",
		Help: "Number of connected real-time subscribers",
	})

	StreamCheckpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_stream_checkpoint",
		Help: "Last change feed sequence handled",
	})
)

// Error metrics - Track failures
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_errors_total",
			Help: "Total number of errors by service",
		},
		[]string{"service"},
	)

	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_store_conflicts_total",
		Help: "Total number of rejected conditional writes",
	})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_retry_attempts_total",
		Help: "Total number of retried infrastructure calls",
	})

	ScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_scan_table_errors_total",
		Help: "Total number of per-table reconciliation failures",
	})
)
