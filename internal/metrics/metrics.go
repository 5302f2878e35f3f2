package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts store operations by name and result (ok, error).
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionstore_operations_total",
			Help: "The total number of session store operations.",
		},
		[]string{"operation", "result"},
	)

	// OperationDuration is a histogram of store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionstore_operation_duration_seconds",
			Help:    "A histogram of session store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		},
		[]string{"operation"},
	)

	// CreateCollisions counts ids that were already taken on create.
	CreateCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionstore_create_collisions_total",
			Help: "The total number of session id collisions on create.",
		},
	)

	// Sweeps counts expiry sweeps by result (ok, error).
	Sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionstore_sweeps_total",
			Help: "The total number of expired-session sweeps.",
		},
		[]string{"result"},
	)

	// ExpiredDeleted counts sessions removed by sweeps.
	ExpiredDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionstore_expired_deleted_total",
			Help: "The total number of expired sessions deleted.",
		},
	)

	// SweepDuration is a histogram of sweep latency.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sessionstore_sweep_duration_seconds",
			Help:    "A histogram of expired-session sweep duration.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 10 buckets, 0.1s width
		},
	)

	// LastSweepSuccess is the unix time of the last successful sweep.
	LastSweepSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionstore_last_sweep_success_timestamp_seconds",
			Help: "Unix time of the last successful expired-session sweep.",
		},
	)
)

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
