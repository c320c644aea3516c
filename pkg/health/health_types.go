package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of a check. Degraded means clusterstore still
// serves requests, unhealthy means it cannot.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether s ranks below other
func (s Status) worse(other Status) bool {
	return s.rank() > other.rank()
}

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check is the result of checking one dependency, such as the document
// store or the membership table.
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"-"`
	DurationMs  float64        `json:"duration_ms"`
}

// CheckFunc checks one dependency. It must return once ctx is done.
type CheckFunc func(ctx context.Context) Check

// Kind selects which report a check contributes to
type Kind int

const (
	// KindOverall checks make up GET /health
	KindOverall Kind = iota
	// KindReadiness checks gate traffic: the store must be reachable
	KindReadiness
	// KindLiveness checks only confirm the process itself is working
	KindLiveness
)

// HealthChecker holds the registered checks and runs them on demand
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[Kind]map[string]CheckFunc
	timeout time.Duration
	started time.Time
}

// Response is the aggregated report: the worst check status wins
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}
