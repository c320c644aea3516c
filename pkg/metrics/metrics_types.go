package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "clusterstore"

// Registry holds all metrics for the process
type Registry struct {
	// Membership directory
	MembershipOperationsTotal   *prometheus.CounterVec
	MembershipOperationDuration *prometheus.HistogramVec
	MembershipConflictsTotal    *prometheus.CounterVec
	MembershipTableVersion      prometheus.Gauge
	MembershipRows              *prometheus.GaugeVec
	MembershipDefunctRemoved    prometheus.Counter

	// Grain state
	GrainStateOperationsTotal   *prometheus.CounterVec
	GrainStateOperationDuration *prometheus.HistogramVec
	GrainStateConflictsTotal    *prometheus.CounterVec

	// Document store
	DocStoreCommitsTotal          *prometheus.CounterVec
	DocStoreCommitDuration        *prometheus.HistogramVec
	DocStoreConflictsTotal        *prometheus.CounterVec
	DocStoreSessionsOpen          *prometheus.GaugeVec
	DocStoreSnapshotBytes         prometheus.Gauge
	DocStoreSnapshotFailuresTotal prometheus.Counter

	// HTTP admin API
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
	mu        sync.Mutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every metric initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	r.initMembershipMetrics()
	r.initGrainStateMetrics()
	r.initDocStoreMetrics()
	r.initHTTPMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
