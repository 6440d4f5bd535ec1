// Package metrics holds the Prometheus instruments of the billing engine.
// They register with the default registry; cmd/api exposes it on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "billing"

var (
	RecomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputes_total",
			Help:      "Invoice recomputations by result.",
		},
		[]string{"result"}, // changed, unchanged, error
	)

	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Duration of one invoice recomputation.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	GeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_total",
			Help:      "Invoices and line items created by the generator.",
		},
		[]string{"kind"}, // invoice, line
	)

	GenerationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Assignments that failed during a generator run.",
		},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of a full generator run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
	)

	LeaseConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_conflicts_total",
			Help:      "Lease attempts rejected because the resource was already leased.",
		},
	)

	CallsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ingested_total",
			Help:      "Call mutations applied by ingestion.",
		},
		[]string{"op"}, // record, duplicate, correct, delete
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider call-status callbacks by outcome.",
		},
		[]string{"provider", "outcome"}, // recorded, duplicate, ignored, rejected
	)
)
