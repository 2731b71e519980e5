package vouchers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

var (
	newUserFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vouchers",
			Name:      "new_user_fallback_total",
			Help:      "Eligibility checks decided by the fallback policy because the order count failed",
		},
		[]string{"policy"},
	)

	listFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vouchers",
			Name:      "list_failures_total",
			Help:      "Voucher fetches that failed and degraded to an empty list",
		},
	)

	quotesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vouchers",
			Name:      "quotes_total",
			Help:      "Voucher quotes by outcome",
		},
		[]string{"outcome"},
	)
)

func recordFallback(policy FallbackPolicy) {
	newUserFallbacks.WithLabelValues(string(policy)).Inc()
}

func recordQuote(outcome string) {
	quotesIssued.WithLabelValues(outcome).Inc()
}
