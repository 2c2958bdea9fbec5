// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inventory_engine"

var (
	LedgerAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_adjustments_total",
		Help:      "Stock ledger adjustments by reason and result.",
	}, []string{"reason", "result"})

	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_operations_total",
		Help:      "Reservation operations by operation and result.",
	}, []string{"operation", "result"})

	KitLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kit_lines_total",
		Help:      "Kit lines processed by applyKit, by outcome.",
	}, []string{"outcome"})

	CountAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "count_adjustments_total",
		Help:      "Count lines applied to the ledger, by outcome.",
	}, []string{"outcome"})

	ContentionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contention_retries_total",
		Help:      "Operations retried after a lock or serialization conflict.",
	}, []string{"operation"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of engine operations including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "availability_cache_lookups_total",
		Help:      "Availability cache lookups by result.",
	}, []string{"result"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox events handled by the publisher, by result.",
	}, []string{"result"})
)

// Result labels
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ResultOf returns the result label for err.
func ResultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
