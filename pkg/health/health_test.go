package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHealthChecker(t *testing.T) {
	hc := NewHealthChecker()

	if hc == nil {
		t.Fatal("NewHealthChecker returned nil")
	}
	for _, kind := range []Kind{KindOverall, KindReadiness, KindLiveness} {
		if hc.checks[kind] == nil {
			t.Errorf("check map for kind %d not initialized", kind)
		}
	}
	if hc.timeout != DefaultCheckTimeout {
		t.Errorf("timeout = %v, want %v", hc.timeout, DefaultCheckTimeout)
	}
}

func TestRegisterReadinessCheck(t *testing.T) {
	hc := NewHealthChecker()

	called := false
	hc.RegisterReadinessCheck("ready-test", func(context.Context) Check {
		called = true
		return Check{Status: StatusHealthy}
	})

	// Should not be called for regular Check()
	hc.Check(context.Background())
	if called {
		t.Error("readiness check should not be called for Check()")
	}

	resp := hc.CheckReadiness(context.Background())
	if !called {
		t.Error("readiness check was not called")
	}
	check, exists := resp.Checks["ready-test"]
	if !exists {
		t.Fatal("readiness check result not in response")
	}
	if check.Name != "ready-test" {
		t.Errorf("check name = %q, want registered name", check.Name)
	}
	if check.LastChecked.IsZero() {
		t.Error("LastChecked not set")
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for i, s := range tt.statuses {
				status := s
				hc.RegisterLivenessCheck(string(rune('a'+i)), func(context.Context) Check {
					return Check{Status: status}
				})
			}

			if got := hc.CheckLiveness(context.Background()).Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.SetTimeout(10 * time.Millisecond)
	hc.RegisterCheck("store", DocumentStoreCheck("memory", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := hc.Check(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["store"].Message != context.DeadlineExceeded.Error() {
		t.Errorf("message = %q", resp.Checks["store"].Message)
	}
}

func TestChecksRunConcurrently(t *testing.T) {
	hc := NewHealthChecker()
	hc.SetTimeout(time.Second)

	// Each check waits for the other, so they can only finish together.
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) Check {
		started <- struct{}{}
		for len(started) < 2 {
			select {
			case <-ctx.Done():
				return Check{Status: StatusUnhealthy, Message: "ran alone"}
			case <-time.After(time.Millisecond):
			}
		}
		return Check{Status: StatusHealthy}
	}
	hc.RegisterCheck("store", wait)
	hc.RegisterCheck("membership", wait)

	resp := hc.Check(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("status = %s, checks = %+v", resp.Status, resp.Checks)
	}
}

func TestCheckWithoutStatusIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(KindReadiness, "empty", func(context.Context) Check { return Check{} })

	resp := hc.CheckReadiness(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", resp.Status)
	}
}

func TestCheckDurationJSON(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("slow", func(context.Context) Check {
		time.Sleep(5 * time.Millisecond)
		return Check{Status: StatusHealthy}
	})

	data, err := json.Marshal(hc.Check(context.Background()).Checks["slow"])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	ms, ok := decoded["duration_ms"].(float64)
	if !ok || ms < 5 || ms > 1000 {
		t.Errorf("duration_ms = %v, want milliseconds", decoded["duration_ms"])
	}
}

func TestDocumentStoreCheck(t *testing.T) {
	ok := DocumentStoreCheck("postgres", func(context.Context) error { return nil })(context.Background())
	if ok.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", ok.Status)
	}
	if ok.Details["backend"] != "postgres" {
		t.Errorf("backend detail = %v", ok.Details["backend"])
	}

	bad := DocumentStoreCheck("postgres", func(context.Context) error {
		return errors.New("connection refused")
	})(context.Background())
	if bad.Status != StatusUnhealthy || bad.Message != "connection refused" {
		t.Errorf("got %s %q, want unhealthy with error message", bad.Status, bad.Message)
	}
}

func TestMembershipCheck(t *testing.T) {
	tests := []struct {
		name    string
		summary MembershipSummary
		err     error
		want    Status
	}{
		{"readable", MembershipSummary{Version: 3, ByStatus: map[string]int{"Active": 2}}, nil, StatusHealthy},
		{"stale silos", MembershipSummary{Version: 3, Stale: 1}, nil, StatusDegraded},
		{"read failure", MembershipSummary{}, errors.New("database not found"), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := MembershipCheck(func(context.Context) (MembershipSummary, error) {
				return tt.summary, tt.err
			})(context.Background())

			if check.Status != tt.want {
				t.Errorf("status = %s, want %s", check.Status, tt.want)
			}
			if tt.err == nil && check.Details["table_version"] != tt.summary.Version {
				t.Errorf("table_version = %v, want %d", check.Details["table_version"], tt.summary.Version)
			}
		})
	}
}

func TestSnapshotCheck(t *testing.T) {
	never := SnapshotCheck(func() (time.Time, error) { return time.Time{}, nil })(context.Background())
	if never.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", never.Status)
	}
	if _, ok := never.Details["last_attempt"]; ok {
		t.Error("last_attempt should be absent before any snapshot")
	}

	failed := SnapshotCheck(func() (time.Time, error) {
		return time.Now(), errors.New("disk full")
	})(context.Background())
	if failed.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", failed.Status)
	}
}

func TestMemoryCheck(t *testing.T) {
	tests := []struct {
		alloc, sys uint64
		want       Status
	}{
		{50, 100, StatusHealthy},
		{95, 100, StatusDegraded},
		{0, 0, StatusHealthy},
	}

	for _, tt := range tests {
		check := MemoryCheck(func() (uint64, uint64) { return tt.alloc, tt.sys })(context.Background())
		if check.Status != tt.want {
			t.Errorf("alloc=%d sys=%d: status = %s, want %s", tt.alloc, tt.sys, check.Status, tt.want)
		}
	}
}

func TestHTTPHandlers(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("degraded", func(context.Context) Check { return Check{Status: StatusDegraded} })
	hc.RegisterReadinessCheck("degraded", func(context.Context) Check { return Check{Status: StatusDegraded} })
	hc.RegisterLivenessCheck("ok", SimpleCheck("process"))

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"health serves degraded", hc.HTTPHandler(), http.StatusOK},
		{"readiness rejects degraded", hc.ReadinessHandler(), http.StatusServiceUnavailable},
		{"liveness", hc.LivenessHandler(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Checks) != 1 {
				t.Errorf("checks = %d, want 1", len(resp.Checks))
			}
		})
	}
}
