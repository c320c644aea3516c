package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMembershipMetrics() {
	r.MembershipOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "membership_operations_total",
			Help:      "Membership directory operations by outcome",
		},
		[]string{"operation", "status"}, // status: success, rejected, conflict, error
	)

	r.MembershipOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "membership_operation_duration_seconds",
			Help:      "Membership directory operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	r.MembershipConflictsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "membership_conflicts_total",
			Help:      "Membership writes rejected because a change token no longer matched",
		},
		[]string{"operation"},
	)

	r.MembershipTableVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "membership_table_version",
			Help:      "Last table version observed or written by this process",
		},
	)

	r.MembershipRows = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "membership_rows",
			Help:      "Membership rows in this scope by silo status, as of the last full read",
		},
		[]string{"status"},
	)

	r.MembershipDefunctRemoved = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "membership_defunct_removed_total",
			Help:      "Defunct silo rows removed by cleanup",
		},
	)
}
