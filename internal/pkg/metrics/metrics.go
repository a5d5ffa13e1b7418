// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inventory"

var (
	// LockAcquisitions result: acquired / timeout / error
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_acquisitions_total",
		Help:      "Lock acquire attempts grouped by outcome.",
	}, []string{"result"})

	LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for a stock unit lock.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	LockReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_releases_total",
		Help:      "Lock releases grouped by outcome.",
	}, []string{"result"})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_operations_total",
		Help:      "Ledger operations grouped by operation and outcome.",
	}, []string{"op", "result"})

	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_version_conflicts_total",
		Help:      "Conditional writes that lost a race and were retried.",
	})

	Checkouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkouts_total",
		Help:      "Checkout attempts grouped by final status and abort reason.",
	}, []string{"status", "reason"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_duration_seconds",
		Help:      "End-to-end checkout latency.",
		Buckets:   prometheus.DefBuckets,
	})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_expired_total",
		Help:      "Reservations demoted to expired by lazy or background sweeps.",
	})

	SweepPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_passes_total",
		Help:      "Background sweep passes grouped by outcome.",
	}, []string{"result"})

	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensation_failures_total",
		Help:      "Reservations that could not be released during saga compensation.",
	})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "Messages read back from dead letter topics, by original topic.",
	}, []string{"original_topic"})
)
