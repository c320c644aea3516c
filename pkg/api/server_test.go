package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-clusterstore/pkg/auth"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/docstore/memstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/grainstate"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

const testSecret = "api-test-secret-that-is-at-least-32-characters"

type testEnv struct {
	handler http.Handler
	dir     *membership.Directory
	grains  *grainstate.Store
	jwt     *auth.JWTManager
	metrics *metrics.Registry
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNopLogger()
	reg := metrics.NewRegistry()

	docs, err := memstore.New(ctx, memstore.Options{Database: "api", Provisioned: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	dir, err := membership.NewDirectory(docs, membership.Config{ServiceID: "svc", DeploymentID: "dep", Logger: logger})
	require.NoError(t, err)
	require.NoError(t, dir.Initialize(ctx, false))

	grains, err := grainstate.NewStore(docs, grainstate.Config{ServiceID: "svc", Logger: logger})
	require.NoError(t, err)

	env := &testEnv{dir: dir, grains: grains, metrics: reg}
	opts := Options{Directory: dir, Grains: grains, Metrics: reg, Logger: logger}
	if withAuth {
		env.jwt, err = auth.NewJWTManager(testSecret, time.Hour)
		require.NoError(t, err)
		opts.JWT = env.jwt
	}

	srv, err := NewServer(opts)
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) insert(t *testing.T, host string, alive time.Time) membership.SiloAddress {
	t.Helper()
	ctx := context.Background()
	data, err := e.dir.ReadAll(ctx)
	require.NoError(t, err)
	entry := membership.MembershipEntry{
		SiloAddress:  membership.NewSiloAddress(host, 11111, 7),
		Status:       membership.StatusActive,
		StartTime:    alive,
		IAmAliveTime: alive,
	}
	ok, err := e.dir.InsertRow(ctx, entry, data.Version)
	require.NoError(t, err)
	require.True(t, ok)
	return entry.SiloAddress
}

func TestNewServerRequiresComponents(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestListMembership(t *testing.T) {
	env := newTestEnv(t, false)
	env.insert(t, "10.0.0.1", time.Now())

	rec := env.do(t, http.MethodGet, "/membership", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MembershipResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "svc", resp.ServiceID)
	assert.Equal(t, "dep", resp.DeploymentID)
	assert.Equal(t, int64(1), resp.Version.Version)
	require.Len(t, resp.Silos, 1)
	assert.Equal(t, "10.0.0.1:11111@7", resp.Silos[0].Address)
	assert.NotEmpty(t, resp.Silos[0].Etag)
}

func TestGetSilo(t *testing.T) {
	env := newTestEnv(t, false)
	addr := env.insert(t, "10.0.0.1", time.Now())

	rec := env.do(t, http.MethodGet, "/membership/silos/"+addr.ToParsableString(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	rec = env.do(t, http.MethodGet, "/membership/silos/10.0.0.2:11111@7", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/membership/silos/not-an-address", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, false)
	env.insert(t, "old", time.Now().Add(-48*time.Hour))
	env.insert(t, "new", time.Now())

	rec := env.do(t, http.MethodPost, "/membership/cleanup?older_than=24h", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CleanupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Removed)
	assert.Equal(t, int64(3), resp.Version.Version)

	tests := []struct {
		name  string
		query string
	}{
		{"missing", ""},
		{"not a duration", "?older_than=yesterday"},
		{"too short", "?older_than=1ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/membership/cleanup"+tt.query, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPurge(t *testing.T) {
	env := newTestEnv(t, false)
	env.insert(t, "a", time.Now())

	rec := env.do(t, http.MethodDelete, "/membership", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	data, err := env.dir.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Entries)
}

func TestGrainStateLifecycle(t *testing.T) {
	env := newTestEnv(t, false)
	const path = "/grains/Counter/42"

	rec := env.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, path, `{"count": 1}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	// Creating again without If-Match fails
	rec = env.do(t, http.MethodPut, path, `{"count": 5}`, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = env.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, etag, rec.Header().Get("ETag"))
	assert.JSONEq(t, `{"count": 1}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, path, `{"count": 2}`, map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusNoContent, rec.Code)
	newEtag := rec.Header().Get("ETag")
	assert.NotEqual(t, etag, newEtag)

	// The old etag is now stale
	rec = env.do(t, http.MethodPut, path, `{"count": 3}`, map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	var conflict StateConflictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conflict))
	assert.Equal(t, parseETag(etag), conflict.Expected)
	assert.Equal(t, parseETag(newEtag), conflict.Current)

	rec = env.do(t, http.MethodPut, path, `{"count": 9}`, map[string]string{"If-Match": "*"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, path, "", map[string]string{"If-Match": newEtag})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = env.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// interceptStore calls onOpen with the ordinal of each session it opens,
// before opening it.
type interceptStore struct {
	docstore.Store
	opened atomic.Int32
	onOpen func(n int32)
}

func (s *interceptStore) OpenSession(ctx context.Context) (docstore.Session, error) {
	s.onOpen(s.opened.Add(1))
	return s.Store.OpenSession(ctx)
}

func TestDeleteIfMatchLosesToConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNopLogger()

	docs, err := memstore.New(ctx, memstore.Options{Database: "api", Provisioned: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	direct, err := grainstate.NewStore(docs, grainstate.Config{ServiceID: "svc", Logger: logger})
	require.NoError(t, err)
	initial := grainstate.NewGrainState(json.RawMessage(`{"count": 1}`))
	require.NoError(t, direct.WriteState(ctx, "Counter", "7", initial))

	// The DELETE opens one session to check If-Match and one to clear.
	// Another writer lands between them.
	intercept := &interceptStore{Store: docs}
	intercept.onOpen = func(n int32) {
		if n != 2 {
			return
		}
		writer := grainstate.NewGrainState(json.RawMessage(`{"count": 2}`))
		writer.Etag = initial.Etag
		require.NoError(t, direct.WriteState(ctx, "Counter", "7", writer))
	}
	racingGrains, err := grainstate.NewStore(intercept, grainstate.Config{ServiceID: "svc", Logger: logger})
	require.NoError(t, err)
	dir, err := membership.NewDirectory(docs, membership.Config{ServiceID: "svc", DeploymentID: "dep", Logger: logger})
	require.NoError(t, err)

	srv, err := NewServer(Options{Directory: dir, Grains: racingGrains, Logger: logger})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/grains/Counter/7", nil)
	req.Header.Set("If-Match", quoteETag(initial.Etag))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)

	var conflict StateConflictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conflict))
	assert.Equal(t, initial.Etag, conflict.Expected)

	survivor := grainstate.NewGrainState[json.RawMessage](nil)
	require.NoError(t, direct.ReadState(ctx, "Counter", "7", survivor))
	require.True(t, survivor.Exists, "the write made after the precondition check survives")
	assert.JSONEq(t, `{"count": 2}`, string(survivor.State))
	assert.Equal(t, survivor.Etag, conflict.Current)
}

func TestGrainStateValidation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad grain type", http.MethodGet, "/grains/bad%20type/1", "", http.StatusBadRequest},
		{"empty body", http.MethodPut, "/grains/Counter/1", "", http.StatusBadRequest},
		{"invalid json", http.MethodPut, "/grains/Counter/1", "{nope", http.StatusBadRequest},
		{"too large", http.MethodPut, "/grains/Counter/1", `"` + strings.Repeat("x", 1<<20) + `"`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMutatingRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t, true)
	admin, err := env.jwt.GenerateToken("ops", auth.RoleAdmin)
	require.NoError(t, err)
	viewer, err := env.jwt.GenerateToken("dashboard", auth.RoleViewer)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"read is open", http.MethodGet, "/membership", "", http.StatusOK},
		{"purge without token", http.MethodDelete, "/membership", "", http.StatusUnauthorized},
		{"purge as viewer", http.MethodDelete, "/membership", viewer, http.StatusForbidden},
		{"purge as admin", http.MethodDelete, "/membership", admin, http.StatusNoContent},
		{"clear state without token", http.MethodDelete, "/grains/Counter/1", "", http.StatusUnauthorized},
		{"clear state as admin", http.MethodDelete, "/grains/Counter/1", admin, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.token != "" {
				headers["Authorization"] = "Bearer " + tt.token
			}
			rec := env.do(t, tt.method, tt.path, "", headers)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	env.do(t, http.MethodGet, "/membership", "", nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		env.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /membership", "200")))

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clusterstore_http_requests_total")
}

func TestParseETag(t *testing.T) {
	tests := map[string]string{
		`"abc"`:   "abc",
		`W/"abc"`: "abc",
		`abc`:     "abc",
		` "a" `:   "a",
		``:        "",
	}
	for in, want := range tests {
		if got := parseETag(in); got != want {
			t.Errorf("parseETag(%q) = %q, want %q", in, got, want)
		}
	}
}
