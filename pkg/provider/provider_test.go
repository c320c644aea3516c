package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-clusterstore/pkg/config"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/grainstate"
	"github.com/dd0wney/cluso-clusterstore/pkg/health"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ServiceID = "svc"
	cfg.DeploymentID = "dep"
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "store.snap")
	return cfg
}

func newProvider(t *testing.T, cfg *config.Config) *Provider {
	t.Helper()
	p, err := New(context.Background(), cfg, logging.NewNopLogger(), metrics.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func silo(host string, alive time.Time) membership.MembershipEntry {
	return membership.MembershipEntry{
		SiloAddress:  membership.NewSiloAddress(host, 11111, 1),
		Status:       membership.StatusActive,
		StartTime:    alive,
		IAmAliveTime: alive,
		ProxyPort:    30000,
	}
}

func TestNewWiresScope(t *testing.T) {
	p := newProvider(t, testConfig(t))

	assert.Equal(t, "memory", p.Docs.Name())
	assert.Equal(t, "svc", p.Directory.ServiceID())
	assert.Equal(t, "dep", p.Directory.DeploymentID())
	assert.Equal(t, "GrainStates", p.Grains.Collection())
	assert.NotNil(t, p.Gateways)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "cassandra"

	_, err := New(context.Background(), cfg, logging.NewNopLogger(), nil)
	assert.ErrorContains(t, err, "unknown backend")
}

func TestInitializeRespectsCreateDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.CreateDatabase = false
	p := newProvider(t, cfg)

	err := p.Initialize(context.Background())
	assert.True(t, errors.Is(err, docstore.ErrDatabaseNotFound))

	cfg.CreateDatabase = true
	require.NoError(t, p.Initialize(context.Background()))
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, cfg, logging.NewNopLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))

	data, err := first.Directory.ReadAll(ctx)
	require.NoError(t, err)
	ok, err := first.Directory.InsertRow(ctx, silo("a", time.Now()), data.Version)
	require.NoError(t, err)
	require.True(t, ok)

	state := grainstate.NewGrainState(map[string]int{"count": 3})
	require.NoError(t, first.Grains.WriteState(ctx, "Counter", "1", state))
	require.NoError(t, first.Close())

	second := newProvider(t, cfg)
	require.NoError(t, second.Initialize(ctx))

	data, err = second.Directory.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, data.Entries, 1)
	assert.Equal(t, int64(1), data.Version.Version)

	restored := grainstate.NewGrainState(map[string]int{})
	require.NoError(t, second.Grains.ReadState(ctx, "Counter", "1", restored))
	assert.True(t, restored.Exists)
	assert.Equal(t, state.Etag, restored.Etag)
	assert.Equal(t, 3, restored.State["count"])
}

func TestCleanupOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Cleanup.MaxAge = time.Hour
	p := newProvider(t, cfg)
	require.NoError(t, p.Initialize(ctx))

	now := time.Now()
	for _, e := range []membership.MembershipEntry{silo("old", now.Add(-2*time.Hour)), silo("new", now)} {
		data, err := p.Directory.ReadAll(ctx)
		require.NoError(t, err)
		ok, err := p.Directory.InsertRow(ctx, e, data.Version)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, p.CleanupOnce(ctx, now))

	data, err := p.Directory.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, data.Entries, 1)
	assert.Equal(t, "new", data.Entries[0].Entry.SiloAddress.Host)
	assert.Equal(t, int64(3), data.Version.Version)
}

func TestRunCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	cfg.Cleanup.Interval = 10 * time.Millisecond
	cfg.Cleanup.MaxAge = time.Hour
	p := newProvider(t, cfg)
	require.NoError(t, p.Initialize(ctx))

	data, err := p.Directory.ReadAll(ctx)
	require.NoError(t, err)
	ok, err := p.Directory.InsertRow(ctx, silo("old", time.Now().Add(-2*time.Hour)), data.Version)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		p.RunCleanup(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		data, err := p.Directory.ReadAll(ctx)
		return err == nil && len(data.Entries) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCleanup did not stop")
	}
}

func TestRunCleanupDisabled(t *testing.T) {
	p := newProvider(t, testConfig(t))

	done := make(chan struct{})
	go func() {
		p.RunCleanup(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup with zero interval should return immediately")
	}
}

func TestHealthChecker(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, testConfig(t))
	hc := p.HealthChecker()

	before := hc.CheckReadiness(ctx)
	assert.Equal(t, health.StatusUnhealthy, before.Status)
	assert.Equal(t, health.StatusUnhealthy, before.Checks["membership"].Status)

	require.NoError(t, p.Initialize(ctx))

	after := hc.CheckReadiness(ctx)
	assert.Equal(t, health.StatusHealthy, after.Status)
	assert.Equal(t, int64(0), after.Checks["membership"].Details["table_version"])

	full := hc.Check(ctx)
	assert.Contains(t, full.Checks, "snapshot")

	data, err := p.Directory.ReadAll(ctx)
	require.NoError(t, err)
	_, err = p.Directory.InsertRow(ctx, silo("quiet", time.Now().Add(-time.Hour)), data.Version)
	require.NoError(t, err)
	assert.Equal(t, health.StatusDegraded, hc.CheckReadiness(ctx).Status)

	assert.Equal(t, health.StatusHealthy, hc.CheckLiveness(ctx).Status)
}
