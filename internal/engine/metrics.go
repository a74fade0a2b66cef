package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	entriesQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_entries_queued_total",
			Help: "Total number of entries queued.",
		},
		[]string{"kind"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_stage_attempts_total",
			Help: "Stage attempts by outcome.",
		},
		[]string{"kind", "stage", "outcome"},
	)

	entriesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_entries_deleted_total",
			Help: "Entries removed from the queue, by reason.",
		},
		[]string{"kind", "reason"},
	)

	remoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkq_remote_request_duration_seconds",
			Help:    "Remote service call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "operation"},
	)

	pollCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkq_poll_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	pollCyclesAbortedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_poll_cycles_aborted_total",
			Help: "Poll cycles cut short by a store failure.",
		},
		[]string{"kind"},
	)

	lockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_lock_conflicts_total",
			Help: "Candidates skipped because another poller holds the lease.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(entriesQueuedTotal)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(entriesDeletedTotal)
	prometheus.MustRegister(remoteRequestDuration)
	prometheus.MustRegister(pollCycleDuration)
	prometheus.MustRegister(pollCyclesAbortedTotal)
	prometheus.MustRegister(lockConflictsTotal)
}

// Stage attempt outcomes.
const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFatal   = "fatal"
)

// Deletion reasons.
const (
	reasonSubmissionExhausted = "submission_retries_exhausted"
	reasonProcessingExhausted = "processing_retries_exhausted"
	reasonDownloadExhausted   = "download_retries_exhausted"
	reasonCallbackExhausted   = "callback_retries_exhausted"
	reasonExpired             = "expired"
	reasonFatal               = "fatal_remote_error"
	reasonDelivered           = "delivered"
)
