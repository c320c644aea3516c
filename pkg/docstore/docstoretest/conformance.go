// Package docstoretest holds the behaviour every docstore backend must share.
package docstoretest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
)

// Factory returns a fresh store bound to a database that does not exist yet.
type Factory func(t *testing.T) docstore.Store

type widget struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
	Count int    `json:"count"`
}

// RunConformance runs the shared backend suite against stores from newStore.
func RunConformance(t *testing.T, newStore Factory) {
	t.Run("DatabaseLifecycle", func(t *testing.T) { testDatabaseLifecycle(t, newStore) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, newStore) })
	t.Run("StoreAndLoad", func(t *testing.T) { testStoreAndLoad(t, newStore) })
	t.Run("StaleTokenConflicts", func(t *testing.T) { testStaleToken(t, newStore) })
	t.Run("InsertIfAbsent", func(t *testing.T) { testInsertIfAbsent(t, newStore) })
	t.Run("CommitIsAtomic", func(t *testing.T) { testAtomicCommit(t, newStore) })
	t.Run("UnconditionalWrite", func(t *testing.T) { testUnconditional(t, newStore) })
	t.Run("Query", func(t *testing.T) { testQuery(t, newStore) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore) })
	t.Run("ClosedSession", func(t *testing.T) { testClosedSession(t, newStore) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newStore) })
}

func ctxFor(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func provisioned(t *testing.T, newStore Factory) docstore.Store {
	t.Helper()
	store := newStore(t)
	require.NoError(t, store.CreateDatabase(ctxFor(t)))
	return store
}

func session(t *testing.T, store docstore.Store) docstore.Session {
	t.Helper()
	s, err := store.OpenSession(ctxFor(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDatabaseLifecycle(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := newStore(t)

	exists, err := store.DatabaseExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.OpenSession(ctx)
	assert.ErrorIs(t, err, docstore.ErrDatabaseNotFound)

	require.NoError(t, store.CreateDatabase(ctx))
	require.NoError(t, store.CreateDatabase(ctx), "creating twice is not an error")

	exists, err = store.DatabaseExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, store.Ping(ctx))
}

func testLoadMissing(t *testing.T, newStore Factory) {
	s := session(t, provisioned(t, newStore))

	doc, found, err := s.Load(ctxFor(t), "widgets/none")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)

	_, ok := s.ChangeToken("widgets/none")
	assert.False(t, ok)
}

func testStoreAndLoad(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	w := session(t, store)
	require.NoError(t, w.Store("widgets/1", "Widgets", widget{Name: "gear", Count: 3}))
	require.NoError(t, w.Commit(ctx))
	token, ok := w.ChangeToken("widgets/1")
	require.True(t, ok)
	assert.NotEmpty(t, token)

	r := session(t, store)
	loaded, found, err := docstore.LoadAs[widget](ctx, r, "widgets/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gear", loaded.Value.Name)
	assert.Equal(t, 3, loaded.Value.Count)
	assert.Equal(t, token, loaded.ChangeToken)

	// Every committed write produces a new token.
	require.NoError(t, r.Store("widgets/1", "Widgets", widget{Name: "gear", Count: 4}))
	require.NoError(t, r.Commit(ctx))
	next, _ := r.ChangeToken("widgets/1")
	assert.NotEqual(t, token, next)
}

func testStaleToken(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	seed := session(t, store)
	require.NoError(t, seed.Store("widgets/1", "Widgets", widget{Name: "v1"}))
	require.NoError(t, seed.Commit(ctx))

	a := session(t, store)
	b := session(t, store)
	_, _, err := a.Load(ctx, "widgets/1")
	require.NoError(t, err)
	_, _, err = b.Load(ctx, "widgets/1")
	require.NoError(t, err)

	require.NoError(t, a.Store("widgets/1", "Widgets", widget{Name: "from a"}))
	require.NoError(t, a.Commit(ctx))

	require.NoError(t, b.Store("widgets/1", "Widgets", widget{Name: "from b"}))
	err = b.Commit(ctx)
	require.Error(t, err)
	assert.True(t, docstore.IsConflict(err))
	ce, ok := docstore.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, "widgets/1", ce.DocumentID)

	check := session(t, store)
	loaded, _, err := docstore.LoadAs[widget](ctx, check, "widgets/1")
	require.NoError(t, err)
	assert.Equal(t, "from a", loaded.Value.Name)

	// An explicit token overrides what the session observed.
	stale, _ := b.ChangeToken("widgets/1")
	fresh, _ := check.ChangeToken("widgets/1")
	require.NoError(t, b.Store("widgets/1", "Widgets", widget{Name: "explicit"}, docstore.WithChangeToken(stale)))
	assert.True(t, docstore.IsConflict(b.Commit(ctx)))

	c := session(t, store)
	require.NoError(t, c.Store("widgets/1", "Widgets", widget{Name: "explicit"}, docstore.WithChangeToken(fresh)))
	assert.NoError(t, c.Commit(ctx))
}

func testInsertIfAbsent(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	a := session(t, store)
	b := session(t, store)
	_, found, err := a.Load(ctx, "widgets/new")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = b.Load(ctx, "widgets/new")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, a.Store("widgets/new", "Widgets", widget{Name: "a"}))
	require.NoError(t, a.Commit(ctx))

	require.NoError(t, b.Store("widgets/new", "Widgets", widget{Name: "b"}))
	assert.True(t, docstore.IsConflict(b.Commit(ctx)), "a Load miss makes the write insert-only")

	c := session(t, store)
	require.NoError(t, c.Store("widgets/new", "Widgets", widget{Name: "c"}, docstore.WithChangeToken("")))
	assert.True(t, docstore.IsConflict(c.Commit(ctx)))
}

func testAtomicCommit(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	seed := session(t, store)
	require.NoError(t, seed.Store("widgets/b", "Widgets", widget{Name: "existing"}))
	require.NoError(t, seed.Commit(ctx))

	s := session(t, store)
	require.NoError(t, s.Store("widgets/a", "Widgets", widget{Name: "new a"}))
	require.NoError(t, s.Store("widgets/b", "Widgets", widget{Name: "clobber"}, docstore.WithChangeToken("")))
	require.NoError(t, s.Store("widgets/c", "Widgets", widget{Name: "new c"}))
	assert.True(t, docstore.IsConflict(s.Commit(ctx)))

	check := session(t, store)
	for _, id := range []string{"widgets/a", "widgets/c"} {
		_, found, err := check.Load(ctx, id)
		require.NoError(t, err)
		assert.False(t, found, "%s must not be written by a failed commit", id)
	}
	loaded, _, err := docstore.LoadAs[widget](ctx, check, "widgets/b")
	require.NoError(t, err)
	assert.Equal(t, "existing", loaded.Value.Name)
}

func testUnconditional(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	a := session(t, store)
	_, _, err := a.Load(ctx, "widgets/1")
	require.NoError(t, err)

	b := session(t, store)
	require.NoError(t, b.Store("widgets/1", "Widgets", widget{Name: "b"}))
	require.NoError(t, b.Commit(ctx))

	require.NoError(t, a.Store("widgets/1", "Widgets", widget{Name: "a"}, docstore.WithoutConcurrencyCheck()))
	require.NoError(t, a.Commit(ctx))

	check := session(t, store)
	loaded, _, err := docstore.LoadAs[widget](ctx, check, "widgets/1")
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.Value.Name)
}

func testQuery(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	seed := session(t, store)
	require.NoError(t, seed.Store("widgets/3", "Widgets", widget{Name: "c", Owner: "ann"}))
	require.NoError(t, seed.Store("widgets/1", "Widgets", widget{Name: "a", Owner: "ann"}))
	require.NoError(t, seed.Store("widgets/2", "Widgets", widget{Name: "b", Owner: "bob"}))
	require.NoError(t, seed.Store("gadgets/1", "Gadgets", widget{Name: "x", Owner: "ann"}))
	require.NoError(t, seed.Commit(ctx))

	s := session(t, store)

	docs, err := s.Query(ctx, docstore.Query{Collection: "Widgets"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "widgets/1", docs[0].ID)
	assert.Equal(t, "widgets/2", docs[1].ID)
	assert.Equal(t, "widgets/3", docs[2].ID)

	owned, err := docstore.QueryAs[widget](ctx, s, docstore.Query{
		Collection: "Widgets",
		Equals:     map[string]string{"owner": "ann"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "a", owned[0].Value.Name)

	prefixed, err := s.Query(ctx, docstore.Query{IDPrefix: "gadgets/"})
	require.NoError(t, err)
	require.Len(t, prefixed, 1)
	assert.Equal(t, "Gadgets", prefixed[0].Collection)

	kept, err := docstore.QueryAs[widget](ctx, s, docstore.Query{Collection: "Widgets"}, func(w *widget) bool {
		return w.Name != "b"
	})
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	// Query results feed the same token tracking as Load.
	token, ok := s.ChangeToken("widgets/2")
	require.True(t, ok)
	assert.Equal(t, docs[1].ChangeToken, token)
}

func testDelete(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	seed := session(t, store)
	require.NoError(t, seed.Store("widgets/1", "Widgets", widget{Name: "a"}))
	require.NoError(t, seed.Commit(ctx))

	stale := session(t, store)
	_, _, err := stale.Load(ctx, "widgets/1")
	require.NoError(t, err)

	s := session(t, store)
	_, _, err = s.Load(ctx, "widgets/1")
	require.NoError(t, err)
	require.NoError(t, s.Store("widgets/1", "Widgets", widget{Name: "b"}))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, stale.Delete("widgets/1"))
	assert.True(t, docstore.IsConflict(stale.Commit(ctx)), "delete is conditioned on the observed token")

	require.NoError(t, s.Delete("widgets/1"))
	require.NoError(t, s.Commit(ctx))
	_, ok := s.ChangeToken("widgets/1")
	assert.False(t, ok)

	check := session(t, store)
	_, found, err := check.Load(ctx, "widgets/1")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting something never stored is a no-op.
	require.NoError(t, check.Delete("widgets/ghost", docstore.WithoutConcurrencyCheck()))
	assert.NoError(t, check.Commit(ctx))
}

func testClosedSession(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	s, err := store.OpenSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Store("widgets/1", "Widgets", widget{Name: "lost"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, _, err = s.Load(ctx, "widgets/1")
	assert.ErrorIs(t, err, docstore.ErrSessionClosed)
	assert.ErrorIs(t, s.Store("widgets/2", "Widgets", widget{}), docstore.ErrSessionClosed)
	assert.ErrorIs(t, s.Commit(ctx), docstore.ErrSessionClosed)

	check := session(t, store)
	_, found, err := check.Load(ctx, "widgets/1")
	require.NoError(t, err)
	assert.False(t, found, "buffered writes are dropped on close")

	assert.ErrorIs(t, check.Store("", "Widgets", widget{}), docstore.ErrInvalidDocumentID)
}

func testConcurrentInserts(t *testing.T, newStore Factory) {
	ctx := ctxFor(t)
	store := provisioned(t, newStore)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := store.OpenSession(ctx)
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			defer s.Close()

			err = s.Store("widgets/race", "Widgets", widget{Count: i}, docstore.WithChangeToken(""))
			if err == nil {
				err = s.Commit(ctx)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, docstore.ErrConflict):
			default:
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, succeeded, "exactly one insert-if-absent wins")
}
