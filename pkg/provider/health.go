package provider

import (
	"context"
	"runtime"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/health"
)

// StaleAfter is how long an active silo may go without a liveness report
// before the membership check reports degraded
const StaleAfter = 5 * time.Minute

// HealthChecker registers the document store and membership checks for
// readiness and the process checks for liveness.
func (p *Provider) HealthChecker() *health.HealthChecker {
	hc := health.NewHealthChecker()

	store := health.DocumentStoreCheck(p.Docs.Name(), p.Docs.Ping)
	members := health.MembershipCheck(p.membershipSummary)
	hc.RegisterCheck("document_store", store)
	hc.RegisterCheck("membership", members)
	hc.RegisterReadinessCheck("document_store", store)
	hc.RegisterReadinessCheck("membership", members)

	if snap, ok := p.Docs.(interface {
		LastSnapshot() (time.Time, error)
	}); ok && p.hasSnapshotSink() {
		hc.RegisterCheck("snapshot", health.SnapshotCheck(snap.LastSnapshot))
	}

	hc.RegisterLivenessCheck("process", health.SimpleCheck("process"))
	hc.RegisterLivenessCheck("memory", health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))

	return hc
}

func (p *Provider) hasSnapshotSink() bool {
	return p.cfg.Snapshot.Path != "" || p.cfg.Snapshot.S3.Enabled()
}

func (p *Provider) membershipSummary(ctx context.Context) (health.MembershipSummary, error) {
	data, err := p.Directory.ReadAll(ctx)
	if err != nil {
		return health.MembershipSummary{}, err
	}
	return health.MembershipSummary{
		Version:  data.Version.Version,
		ByStatus: data.CountByStatus(),
		Stale:    len(data.Stale(time.Now(), StaleAfter)),
	}, nil
}
