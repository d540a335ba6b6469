package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Classification metrics
var (
	MessagesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soteria_messages_classified_total",
			Help: "Total number of messages classified",
		},
		[]string{"disposition"},
	)

	AliasVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soteria_alias_verifications_total",
			Help: "Total number of alias verifications by result",
		},
		[]string{"result"},
	)

	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soteria_classification_duration_seconds",
			Help:    "Duration of per-message classification in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
		},
	)

	MessagesMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soteria_messages_moved_total",
			Help: "Total number of messages moved by target folder",
		},
		[]string{"folder"},
	)
)

// Resolver metrics
var (
	MXLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soteria_mx_lookups_total",
			Help: "Total number of sender domain existence lookups by outcome",
		},
		[]string{"outcome"},
	)
)

// Monitor metrics
var (
	IMAPReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soteria_imap_reconnects_total",
			Help: "Total number of IMAP session re-establishments",
		},
	)

	MonitorSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soteria_monitor_sweeps_total",
			Help: "Total number of mailbox sweeps for unseen messages",
		},
	)

	MessageProcessingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soteria_message_processing_errors_total",
			Help: "Total number of per-message processing errors by stage",
		},
		[]string{"stage"},
	)
)

// Audit metrics
var (
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soteria_audit_writes_total",
			Help: "Total number of audit trail writes by status",
		},
		[]string{"status"},
	)
)
