package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outreach"

var (
	quotaChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "checks_total",
			Help:      "Total quota checks by result",
		},
		[]string{"result"},
	)

	sendsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "sends_recorded_total",
			Help:      "Total sent-count increments by result",
		},
		[]string{"result"},
	)
)

func recordQuotaCheck(result string) {
	quotaChecks.WithLabelValues(result).Inc()
}

func recordSendRecorded(result string) {
	sendsRecorded.WithLabelValues(result).Inc()
}
