package health

import (
	"context"
	"time"
)

// Common health check functions

// SimpleCheck creates a check that always reports healthy
func SimpleCheck(name string) CheckFunc {
	return func(context.Context) Check {
		return Check{Name: name, Status: StatusHealthy}
	}
}

// DocumentStoreCheck reports whether the document store answers a ping
func DocumentStoreCheck(backend string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "document_store",
			Details: map[string]any{"backend": backend},
		}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// MembershipSummary is what the membership check needs from a table read
type MembershipSummary struct {
	Version  int64
	ByStatus map[string]int
	// Stale counts active silos whose last liveness report is too old.
	Stale int
}

// MembershipCheck reads the membership table. It is unhealthy when the
// table cannot be read and degraded when active silos have stopped
// reporting.
func MembershipCheck(read func(ctx context.Context) (MembershipSummary, error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "membership",
			Details: make(map[string]any),
		}

		summary, err := read(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["table_version"] = summary.Version
		check.Details["silos"] = summary.ByStatus
		check.Details["stale_silos"] = summary.Stale

		if summary.Stale > 0 {
			check.Status = StatusDegraded
			check.Message = "Active silos stopped reporting"
		} else {
			check.Status = StatusHealthy
			check.Message = "Membership table readable"
		}

		return check
	}
}

// SnapshotCheck reports on the last snapshot write of the memory backend
func SnapshotCheck(last func() (time.Time, error)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "snapshot",
			Details: make(map[string]any),
		}

		at, err := last()
		if !at.IsZero() {
			check.Details["last_attempt"] = at
		}
		if err != nil {
			check.Status = StatusDegraded
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Snapshots current"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
