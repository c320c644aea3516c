package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore/memstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	store, err := memstore.New(context.Background(), memstore.Options{
		Database: "membership",
		Logger:   logging.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newDirectory(t *testing.T, store docstore.Store, serviceID, deploymentID string) *Directory {
	t.Helper()
	dir, err := NewDirectory(store, Config{
		ServiceID:    serviceID,
		DeploymentID: deploymentID,
		Logger:       logging.NewNopLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, dir.Initialize(context.Background(), true))
	return dir
}

func testEntry(host string, status SiloStatus, alive time.Time) MembershipEntry {
	return MembershipEntry{
		SiloAddress:  NewSiloAddress(host, 11111, 1),
		Status:       status,
		StartTime:    alive.Add(-time.Hour),
		IAmAliveTime: alive,
		HostName:     host,
		SiloName:     "silo-" + host,
		ProxyPort:    30000,
	}
}

func mustReadAll(t *testing.T, dir *Directory) *TableData {
	t.Helper()
	data, err := dir.ReadAll(context.Background())
	require.NoError(t, err)
	return data
}

// insert reads the current version and inserts entry against it.
func insert(t *testing.T, dir *Directory, entry MembershipEntry) {
	t.Helper()
	ok, err := dir.InsertRow(context.Background(), entry, mustReadAll(t, dir).Version)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewDirectoryValidation(t *testing.T) {
	store := newStore(t)

	_, err := NewDirectory(store, Config{})
	assert.ErrorIs(t, err, ErrServiceIDRequired)

	_, err = NewDirectory(nil, Config{ServiceID: "svc"})
	assert.ErrorIs(t, err, ErrNilStore)

	dir, err := NewDirectory(store, Config{ServiceID: "svc", Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	assert.NotEmpty(t, dir.DeploymentID(), "a deployment ID is generated when unset")
	assert.Equal(t, "svc", dir.ServiceID())
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dir, err := NewDirectory(store, Config{ServiceID: "svc1", DeploymentID: "d1", Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	err = dir.Initialize(ctx, false)
	assert.ErrorIs(t, err, docstore.ErrDatabaseNotFound)

	require.NoError(t, dir.Initialize(ctx, true))
	seeded := mustReadAll(t, dir).Version
	assert.Equal(t, int64(0), seeded.Version)

	// A second Initialize never overwrites the stored version.
	insert(t, dir, testEntry("a", StatusJoining, time.Now()))
	require.NoError(t, dir.Initialize(ctx, true))
	assert.Equal(t, int64(1), mustReadAll(t, dir).Version.Version)
}

func TestReadAllWithoutStoredVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateDatabase(ctx))
	dir, err := NewDirectory(store, Config{ServiceID: "svc1", DeploymentID: "d1", Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	first := mustReadAll(t, dir)
	second := mustReadAll(t, dir)
	assert.Empty(t, first.Entries)
	assert.Equal(t, int64(0), first.Version.Version)
	assert.NotEqual(t, first.Version.VersionEtag, second.Version.VersionEtag, "the placeholder version is not persisted")
	assert.Equal(t, 0, store.Len())
}

func TestInsertThenRead(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")
	entry := testEntry("10.0.0.1", StatusJoining, time.Now().UTC().Truncate(time.Millisecond))

	before := mustReadAll(t, dir).Version
	ok, err := dir.InsertRow(ctx, entry, before)
	require.NoError(t, err)
	require.True(t, ok)

	row, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)
	require.Len(t, row.Entries, 1)
	assert.Equal(t, entry.SiloAddress, row.Entries[0].Entry.SiloAddress)
	assert.Equal(t, entry.Status, row.Entries[0].Entry.Status)
	assert.True(t, entry.IAmAliveTime.Equal(row.Entries[0].Entry.IAmAliveTime))
	assert.Equal(t, entry.SiloName, row.Entries[0].Entry.SiloName)
	assert.NotEmpty(t, row.Entries[0].ETag)

	after := mustReadAll(t, dir)
	assert.Greater(t, after.Version.Version, before.Version)
	assert.Len(t, after.Entries, 1)

	missing, err := dir.ReadRow(ctx, NewSiloAddress("10.0.0.9", 11111, 1))
	require.NoError(t, err)
	assert.Empty(t, missing.Entries)
	assert.Equal(t, after.Version, missing.Version)
}

func TestInsertExistingRowRejected(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")
	entry := testEntry("10.0.0.1", StatusJoining, time.Now())
	insert(t, dir, entry)

	before, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)

	clobber := entry
	clobber.Status = StatusDead
	ok, err := dir.InsertRow(ctx, clobber, before.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)
	assert.Equal(t, StatusJoining, after.Entries[0].Entry.Status)
	assert.Equal(t, before.Entries[0].ETag, after.Entries[0].ETag)
	assert.Equal(t, before.Version, after.Version, "a rejected insert does not advance the version")
}

func TestInsertWithStaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")

	stale := mustReadAll(t, dir).Version
	insert(t, dir, testEntry("a", StatusJoining, time.Now()))

	ok, err := dir.InsertRow(ctx, testEntry("b", StatusJoining, time.Now()), stale)
	require.NoError(t, err)
	assert.False(t, ok)

	data := mustReadAll(t, dir)
	assert.Len(t, data.Entries, 1)
	assert.Equal(t, int64(1), data.Version.Version)
}

func TestUpdateRowStaleETagConflicts(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")
	entry := testEntry("10.0.0.1", StatusJoining, time.Now())
	insert(t, dir, entry)

	read, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)
	staleETag := read.Entries[0].ETag

	// Someone else refreshes the row, which changes its etag.
	require.NoError(t, dir.UpdateIAmAlive(ctx, testEntry("10.0.0.1", StatusJoining, time.Now().Add(time.Minute))))
	current, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)

	update := entry
	update.Status = StatusActive
	ok, err := dir.UpdateRow(ctx, update, staleETag, current.Version)
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, staleETag, ce.Expected)
	assert.Equal(t, current.Entries[0].ETag, ce.Actual)

	after, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)
	assert.Equal(t, StatusJoining, after.Entries[0].Entry.Status)
	assert.Equal(t, current.Entries[0].ETag, after.Entries[0].ETag)
	assert.Equal(t, current.Version, after.Version)
}

func TestUpdateRowMissingOrStaleVersion(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")

	ok, err := dir.UpdateRow(ctx, testEntry("ghost", StatusActive, time.Now()), "etag", mustReadAll(t, dir).Version)
	require.NoError(t, err)
	assert.False(t, ok)

	entry := testEntry("a", StatusJoining, time.Now())
	stale := mustReadAll(t, dir).Version
	insert(t, dir, entry)
	row, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)

	entry.Status = StatusActive
	ok, err = dir.UpdateRow(ctx, entry, row.Entries[0].ETag, stale)
	require.NoError(t, err)
	assert.False(t, ok, "an update against an old table version is rejected")
}

func TestUpdateRowOverwritesMutableFieldsOnly(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")
	now := time.Now().UTC().Truncate(time.Millisecond)
	entry := testEntry("a", StatusJoining, now)
	insert(t, dir, entry)
	row, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)

	update := entry
	update.Status = StatusActive
	update.IAmAliveTime = now.Add(time.Minute)
	update.AddOrUpdateSuspector(NewSiloAddress("b", 1, 1), now, 3)
	update.SiloName = "renamed"
	update.ProxyPort = 1

	ok, err := dir.UpdateRow(ctx, update, row.Entries[0].ETag, row.Version)
	require.NoError(t, err)
	require.True(t, ok)

	after, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)
	got := after.Entries[0].Entry
	assert.Equal(t, StatusActive, got.Status)
	assert.True(t, got.IAmAliveTime.Equal(update.IAmAliveTime))
	assert.Len(t, got.SuspectTimes, 1)
	assert.Equal(t, "silo-a", got.SiloName, "descriptive fields are not updated")
	assert.Equal(t, 30000, got.ProxyPort)
}

func TestUpdateIAmAlive(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dir := newDirectory(t, store, "svc1", "d1")

	// Unknown silo: no error, nothing created.
	docsBefore := store.Len()
	require.NoError(t, dir.UpdateIAmAlive(ctx, testEntry("ghost", StatusActive, time.Now())))
	assert.Equal(t, docsBefore, store.Len())
	ghost, err := dir.ReadRow(ctx, NewSiloAddress("ghost", 11111, 1))
	require.NoError(t, err)
	assert.Empty(t, ghost.Entries)

	now := time.Now().UTC().Truncate(time.Millisecond)
	entry := testEntry("a", StatusActive, now)
	insert(t, dir, entry)
	before, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)

	touch := testEntry("a", StatusDead, now.Add(time.Minute))
	require.NoError(t, dir.UpdateIAmAlive(ctx, touch))

	after, err := dir.ReadRow(ctx, entry.SiloAddress)
	require.NoError(t, err)
	assert.True(t, after.Entries[0].Entry.IAmAliveTime.Equal(touch.IAmAliveTime))
	assert.Equal(t, StatusActive, after.Entries[0].Entry.Status, "only the liveness timestamp changes")
	assert.NotEqual(t, before.Entries[0].ETag, after.Entries[0].ETag)
	assert.Equal(t, before.Version, after.Version, "liveness does not advance the table version")
}

func TestCleanupDefunctSiloEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	mine := newDirectory(t, store, "svc1", "d1")
	otherDeployment := newDirectory(t, store, "svc1", "d2")
	otherService := newDirectory(t, store, "svc2", "d1")

	cutoff := time.Now().Add(-10 * time.Minute)
	old := cutoff.Add(-time.Hour)
	fresh := cutoff.Add(time.Minute)

	insert(t, mine, testEntry("old-1", StatusActive, old))
	insert(t, mine, testEntry("old-2", StatusDead, old))
	insert(t, mine, testEntry("fresh", StatusActive, fresh))
	insert(t, otherDeployment, testEntry("old-1", StatusActive, old))
	insert(t, otherService, testEntry("old-1", StatusActive, old))

	before := mustReadAll(t, mine).Version
	require.NoError(t, mine.CleanupDefunctSiloEntries(ctx, cutoff))

	data := mustReadAll(t, mine)
	require.Len(t, data.Entries, 1)
	assert.Equal(t, "fresh", data.Entries[0].Entry.SiloAddress.Host)
	assert.Equal(t, before.Version+1, data.Version.Version, "removing rows advances the version")

	assert.Len(t, mustReadAll(t, otherDeployment).Entries, 1, "other deployments are untouched")
	assert.Len(t, mustReadAll(t, otherService).Entries, 1, "other services are untouched")

	// Nothing left to remove: no version change.
	require.NoError(t, mine.CleanupDefunctSiloEntries(ctx, cutoff))
	assert.Equal(t, data.Version, mustReadAll(t, mine).Version)
}

func TestDeleteMembershipTableEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dir := newDirectory(t, store, "svc1", "d1")
	other := newDirectory(t, store, "svc1", "d2")

	insert(t, dir, testEntry("a", StatusActive, time.Now()))
	insert(t, dir, testEntry("b", StatusActive, time.Now()))
	insert(t, other, testEntry("a", StatusActive, time.Now()))
	before := mustReadAll(t, dir).Version

	require.NoError(t, dir.DeleteMembershipTableEntries(ctx, "svc1"))

	after := mustReadAll(t, dir)
	assert.Empty(t, after.Entries)
	assert.Equal(t, before, after.Version, "teardown does not advance the version")
	assert.Len(t, mustReadAll(t, other).Entries, 1)

	require.NoError(t, dir.DeleteMembershipTableEntries(ctx, "svc1"), "deleting nothing is fine")
}

func TestScopesKeepIndependentVersions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := newDirectory(t, store, "svc1", "d1")
	b := newDirectory(t, store, "svc1", "d2")
	c := newDirectory(t, store, "svc2", "d1")

	versionA := mustReadAll(t, a).Version

	// Writes in other scopes do not move A's version.
	insert(t, b, testEntry("x", StatusJoining, time.Now()))
	insert(t, b, testEntry("y", StatusJoining, time.Now()))
	insert(t, c, testEntry("x", StatusJoining, time.Now()))
	assert.Equal(t, versionA, mustReadAll(t, a).Version)

	ok, err := a.InsertRow(ctx, testEntry("x", StatusJoining, time.Now()), versionA)
	require.NoError(t, err)
	assert.True(t, ok, "an unrelated scope's writes must not reject this insert")

	read, err := a.ReadRow(ctx, NewSiloAddress("x", 11111, 1))
	require.NoError(t, err)
	require.Len(t, read.Entries, 1)

	insert(t, b, testEntry("z", StatusJoining, time.Now()))

	entry := read.Entries[0].Entry
	entry.Status = StatusActive
	ok, err = a.UpdateRow(ctx, entry, read.Entries[0].ETag, read.Version)
	require.NoError(t, err)
	assert.True(t, ok, "an unrelated scope's writes must not reject this update")

	assert.Equal(t, versionA.Version+2, mustReadAll(t, a).Version.Version)
	assert.Equal(t, int64(3), mustReadAll(t, b).Version.Version)
	assert.Equal(t, int64(1), mustReadAll(t, c).Version.Version)

	// A fresh scope sharing the database still starts at zero.
	assert.Equal(t, int64(0), mustReadAll(t, newDirectory(t, store, "svc3", "d9")).Version.Version)
}

func TestJoinThenActivateScenario(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")
	x := testEntry("X", StatusJoining, time.Now())

	start := mustReadAll(t, dir).Version
	ok, err := dir.InsertRow(ctx, x, start)
	require.NoError(t, err)
	require.True(t, ok)

	read, err := dir.ReadRow(ctx, x.SiloAddress)
	require.NoError(t, err)
	require.Len(t, read.Entries, 1)

	x.Status = StatusActive
	ok, err = dir.UpdateRow(ctx, x, read.Entries[0].ETag, read.Version)
	require.NoError(t, err)
	require.True(t, ok)

	end := mustReadAll(t, dir)
	assert.Equal(t, start.Version+2, end.Version.Version)
	assert.Equal(t, StatusActive, end.Entries[0].Entry.Status)
}

func TestConcurrentInsertsAdvanceVersionOnce(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")
	version := mustReadAll(t, dir).Version

	const silos = 6
	results := make(chan bool, silos)
	errs := make(chan error, silos)
	for i := 0; i < silos; i++ {
		go func(i int) {
			ok, err := dir.InsertRow(ctx, testEntry(string(rune('a'+i)), StatusJoining, time.Now()), version)
			results <- ok
			errs <- err
		}(i)
	}

	wins := 0
	for i := 0; i < silos; i++ {
		if <-results {
			wins++
		}
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 1, wins, "only one writer may advance from a given version")

	data := mustReadAll(t, dir)
	assert.Len(t, data.Entries, 1)
	assert.Equal(t, version.Version+1, data.Version.Version)
}

func TestGatewayProvider(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t, newStore(t), "svc1", "d1")

	active := testEntry("10.0.0.1", StatusActive, time.Now())
	joining := testEntry("10.0.0.2", StatusJoining, time.Now())
	noProxy := testEntry("10.0.0.3", StatusActive, time.Now())
	noProxy.ProxyPort = 0
	for _, e := range []MembershipEntry{active, joining, noProxy} {
		insert(t, dir, e)
	}

	gateways, err := NewGatewayProvider(dir).Gateways(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gwy.tcp://10.0.0.1:30000/1"}, gateways)
}

func TestDirectoryMetrics(t *testing.T) {
	ctx := context.Background()
	reg := metrics.NewRegistry()
	store := newStore(t)
	dir, err := NewDirectory(store, Config{ServiceID: "svc1", DeploymentID: "d1", Logger: logging.NewNopLogger(), Metrics: reg})
	require.NoError(t, err)
	require.NoError(t, dir.Initialize(ctx, true))

	insert(t, dir, testEntry("a", StatusActive, time.Now()))
	ok, err := dir.InsertRow(ctx, testEntry("a", StatusActive, time.Now()), mustReadAll(t, dir).Version)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = dir.UpdateRow(ctx, testEntry("a", StatusDead, time.Now()), "stale", mustReadAll(t, dir).Version)
	require.True(t, errors.Is(err, ErrConflict))

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MembershipOperationsTotal.WithLabelValues("insert_row", metrics.StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MembershipOperationsTotal.WithLabelValues("insert_row", metrics.StatusRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MembershipConflictsTotal.WithLabelValues("update_row")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MembershipTableVersion))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.MembershipRows.WithLabelValues("Active")))
}

func TestTableDataHelpers(t *testing.T) {
	data := &TableData{Entries: []EntryWithETag{
		{Entry: testEntry("a", StatusActive, time.Now())},
		{Entry: testEntry("b", StatusActive, time.Now())},
		{Entry: testEntry("c", StatusDead, time.Now())},
	}}

	counts := data.CountByStatus()
	assert.Equal(t, map[string]int{"Active": 2, "Dead": 1}, counts)

	found, ok := data.Find(NewSiloAddress("b", 11111, 1))
	require.True(t, ok)
	assert.Equal(t, "b", found.Entry.HostName)
	_, ok = data.Find(NewSiloAddress("z", 1, 1))
	assert.False(t, ok)

	now := time.Now()
	data.Entries = append(data.Entries,
		EntryWithETag{Entry: testEntry("d", StatusActive, now.Add(-time.Hour))},
		EntryWithETag{Entry: testEntry("e", StatusDead, now.Add(-time.Hour))},
	)
	stale := data.Stale(now, 10*time.Minute)
	require.Len(t, stale, 1)
	assert.Equal(t, "d", stale[0].Entry.HostName)
}
