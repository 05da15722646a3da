package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DepositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_total",
			Help: "Deposit reconciliation outcomes",
		},
		[]string{"entry_point", "outcome"}, // outcome: confirmed|replayed|rejected|aborted
	)

	DepositDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deposit_reconciliation_seconds",
			Help:    "Wall time of one deposit reconciliation",
			Buckets: prometheus.DefBuckets,
		},
	)

	EduCreditedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edu_credited_total",
			Help: "Total EDU credited across all confirmed deposits",
		},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(DepositsTotal)
	prometheus.MustRegister(DepositDuration)
	prometheus.MustRegister(EduCreditedTotal)
}
