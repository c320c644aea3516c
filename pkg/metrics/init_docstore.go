package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initDocStoreMetrics() {
	r.DocStoreCommitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "docstore_commits_total",
			Help:      "Document store session commits by outcome",
		},
		[]string{"backend", "status"}, // success, conflict, error
	)

	r.DocStoreCommitDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "docstore_commit_duration_seconds",
			Help:      "Document store commit duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"backend"},
	)

	r.DocStoreConflictsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "docstore_conflicts_total",
			Help:      "Commits rejected because a change token precondition failed",
		},
		[]string{"backend"},
	)

	r.DocStoreSessionsOpen = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "docstore_sessions_open",
			Help:      "Currently open document store sessions",
		},
		[]string{"backend"},
	)

	r.DocStoreSnapshotBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "docstore_snapshot_bytes",
			Help:      "Compressed size of the last persisted in-memory store snapshot",
		},
	)

	r.DocStoreSnapshotFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "docstore_snapshot_failures_total",
			Help:      "Snapshot writes that failed and rolled the commit back",
		},
	)
}
