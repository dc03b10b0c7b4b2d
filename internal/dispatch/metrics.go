package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outreach"

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Total dispatched entries by outcome",
		},
		[]string{"status"},
	)

	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batches_total",
			Help:      "Total dispatch batches by result",
		},
		[]string{"result"},
	)

	batchEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_entries",
			Help:      "Entries processed per batch",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Time to process a dispatch batch",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the mail transport per entry",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	auditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "audit_failures_total",
			Help:      "Deliveries that could not be recorded in the audit sink",
		},
	)
)

func recordOutcome(status OutcomeStatus) {
	outcomesTotal.WithLabelValues(string(status)).Inc()
}

func recordBatch(result string, entries int, duration time.Duration) {
	batchesTotal.WithLabelValues(result).Inc()
	batchEntries.Observe(float64(entries))
	batchDuration.Observe(duration.Seconds())
}

func recordSendDuration(duration time.Duration) {
	sendDuration.Observe(duration.Seconds())
}

func recordAuditFailure() {
	auditFailures.Inc()
}
