// Package health reports whether clusterstore can serve: the document
// store answers, the membership table can be read and has no stale silos,
// and snapshots are being written. Checks run concurrently, each under
// its own deadline, and the worst result decides the overall status.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds each check unless SetTimeout is used
const DefaultCheckTimeout = 5 * time.Second

// NewHealthChecker creates a checker with no checks registered
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: map[Kind]map[string]CheckFunc{
			KindOverall:   {},
			KindReadiness: {},
			KindLiveness:  {},
		},
		timeout: DefaultCheckTimeout,
		started: time.Now(),
	}
}

// SetTimeout changes the per-check deadline. Non-positive values are ignored.
func (hc *HealthChecker) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.timeout = d
}

// Register adds check under name to the kind's report, replacing any
// check already registered there with that name.
func (hc *HealthChecker) Register(kind Kind, name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.checks[kind] == nil {
		hc.checks[kind] = make(map[string]CheckFunc)
	}
	hc.checks[kind][name] = check
}

func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.Register(KindOverall, name, check)
}

func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.Register(KindReadiness, name, check)
}

func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.Register(KindLiveness, name, check)
}

// Check runs the overall checks
func (hc *HealthChecker) Check(ctx context.Context) Response {
	return hc.Run(ctx, KindOverall)
}

// CheckReadiness runs the readiness checks
func (hc *HealthChecker) CheckReadiness(ctx context.Context) Response {
	return hc.Run(ctx, KindReadiness)
}

// CheckLiveness runs the liveness checks
func (hc *HealthChecker) CheckLiveness(ctx context.Context) Response {
	return hc.Run(ctx, KindLiveness)
}

// Run executes every check of kind concurrently and aggregates them. The
// registry lock is not held while checks run.
func (hc *HealthChecker) Run(ctx context.Context, kind Kind) Response {
	hc.mu.RLock()
	checks := make(map[string]CheckFunc, len(hc.checks[kind]))
	for name, fn := range hc.checks[kind] {
		checks[name] = fn
	}
	timeout := hc.timeout
	hc.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    time.Since(hc.started).Seconds(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := runOne(ctx, name, fn, timeout)

			mu.Lock()
			defer mu.Unlock()
			response.Checks[name] = check
			if check.Status.worse(response.Status) {
				response.Status = check.Status
			}
		}()
	}
	wg.Wait()

	return response
}

func runOne(ctx context.Context, name string, fn CheckFunc, timeout time.Duration) Check {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	check := fn(checkCtx)
	check.Duration = time.Since(start)
	check.DurationMs = float64(check.Duration.Microseconds()) / 1000
	check.LastChecked = start
	if check.Name == "" {
		check.Name = name
	}
	if check.Status == "" {
		check.Status = StatusUnhealthy
		check.Message = "check returned no status"
	}
	return check
}
