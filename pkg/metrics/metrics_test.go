package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.MembershipOperationsTotal == nil || r.GrainStateOperationsTotal == nil || r.DocStoreCommitsTotal == nil {
		t.Error("operation counters not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordMembershipOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordMembershipOperation("insert_row", StatusSuccess, 2*time.Millisecond)
	r.RecordMembershipOperation("update_row", StatusConflict, 3*time.Millisecond)
	r.RecordMembershipOperation("update_row", StatusConflict, 1*time.Millisecond)

	if got := counterValue(t, r.MembershipOperationsTotal.WithLabelValues("insert_row", StatusSuccess)); got != 1 {
		t.Errorf("insert_row success = %v, want 1", got)
	}
	if got := counterValue(t, r.MembershipConflictsTotal.WithLabelValues("update_row")); got != 2 {
		t.Errorf("update_row conflicts = %v, want 2", got)
	}
}

func TestSetMembershipRowsResets(t *testing.T) {
	r := NewRegistry()

	r.SetMembershipRows(map[string]int{"Active": 3, "Joining": 1})
	r.SetMembershipRows(map[string]int{"Active": 2})

	if got := gaugeValue(t, r.MembershipRows.WithLabelValues("Active")); got != 2 {
		t.Errorf("Active rows = %v, want 2", got)
	}
	// Joining was reset away; asking again creates a fresh zero-valued child.
	if got := gaugeValue(t, r.MembershipRows.WithLabelValues("Joining")); got != 0 {
		t.Errorf("Joining rows = %v, want 0", got)
	}
}

func TestRecordCommitAndSnapshot(t *testing.T) {
	r := NewRegistry()

	r.RecordCommit("memory", StatusSuccess, time.Millisecond)
	r.RecordCommit("memory", StatusConflict, time.Millisecond)
	r.RecordSnapshot(512, nil)
	r.RecordSnapshot(0, errors.New("disk full"))

	if got := counterValue(t, r.DocStoreConflictsTotal.WithLabelValues("memory")); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
	if got := gaugeValue(t, r.DocStoreSnapshotBytes); got != 512 {
		t.Errorf("snapshot bytes = %v, want 512", got)
	}
	if got := counterValue(t, r.DocStoreSnapshotFailuresTotal); got != 1 {
		t.Errorf("snapshot failures = %v, want 1", got)
	}
}

func TestRecordGrainStateOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordGrainStateOperation("write", "Counter", StatusConflict, time.Millisecond)
	r.RecordGrainStateOperation("read", "Counter", StatusSuccess, time.Millisecond)

	if got := counterValue(t, r.GrainStateConflictsTotal.WithLabelValues("Counter")); got != 1 {
		t.Errorf("Counter conflicts = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.SetTableVersion(42)
	r.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "clusterstore_membership_table_version 42") {
		t.Errorf("table version missing from exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "clusterstore_goroutines") {
		t.Error("system metrics missing from exposition")
	}
}
