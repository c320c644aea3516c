package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initGrainStateMetrics() {
	r.GrainStateOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "grainstate_operations_total",
			Help:      "Grain state reads, writes and clears by outcome",
		},
		[]string{"operation", "status"},
	)

	r.GrainStateOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "grainstate_operation_duration_seconds",
			Help:      "Grain state operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.GrainStateConflictsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "grainstate_inconsistent_state_total",
			Help:      "Grain state writes rejected with an inconsistent state error",
		},
		[]string{"grain_type"},
	)
}
