package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

var (
	feedSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "feed_size",
			Help:      "Number of items in the in-memory notification feed",
		},
	)

	insertEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "insert_events_total",
			Help:      "Live insert events by table and outcome",
		},
		[]string{"table", "outcome"},
	)

	readWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "read_writes_total",
			Help:      "Read-state writes by operation and status",
		},
		[]string{"operation", "status"},
	)

	resyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "resyncs_total",
			Help:      "Full feed fetches by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	watchersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "watcher_drops_total",
			Help:      "Events not delivered to a watcher because its buffer was full",
		},
	)
)

func recordInsert(table, outcome string) {
	insertEvents.WithLabelValues(table, outcome).Inc()
}

func recordReadWrite(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	readWrites.WithLabelValues(operation, status).Inc()
}

func recordResync(trigger string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	resyncs.WithLabelValues(trigger, status).Inc()
}
