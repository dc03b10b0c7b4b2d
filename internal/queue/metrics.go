package queue

import (
	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outreach"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "entries",
			Help:      "Number of queue entries by status across all owners",
		},
		[]string{"status"},
	)

	enqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueue_total",
			Help:      "Total enqueue attempts by result",
		},
		[]string{"result"},
	)

	cancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "cancel_total",
			Help:      "Total cancel requests by result",
		},
		[]string{"result"},
	)
)

func recordEnqueue(result string) {
	enqueued.WithLabelValues(result).Inc()
}

func recordCancel(ok bool) {
	if ok {
		cancelled.WithLabelValues("cancelled").Inc()
		return
	}
	cancelled.WithLabelValues("noop").Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *domain.QueueStats) {
	queueSize.WithLabelValues(string(domain.EntryStatusQueued)).Set(float64(stats.Queued))
	queueSize.WithLabelValues(string(domain.EntryStatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(domain.EntryStatusFailed)).Set(float64(stats.Failed))
	queueSize.WithLabelValues(string(domain.EntryStatusCancelled)).Set(float64(stats.Cancelled))
}
