// Package memstore is an in-process docstore.Store.
//
// Documents live in a map guarded by one RWMutex; commits take the write
// lock, verify every precondition and then apply the whole batch, so a
// commit is atomic with respect to every other session. When a snapshot
// sink is configured the full store is persisted after each commit and
// reloaded on open.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
	"github.com/dd0wney/cluso-clusterstore/pkg/snapshot"
)

// BackendName is reported by Store.Name
const BackendName = "memory"

// Options configures a memory store
type Options struct {
	// Database names the single database this store serves.
	Database string
	// Provisioned starts the store with its database already created.
	Provisioned bool
	// Sink, if set, receives a snapshot after every commit.
	Sink    snapshot.Sink
	Logger  logging.Logger
	Metrics *metrics.Registry
}

type entry struct {
	collection string
	body       []byte
	token      string
	updatedAt  time.Time
}

// Store is a map-backed document store
type Store struct {
	database string
	sink     snapshot.Sink
	logger   logging.Logger
	metrics  *metrics.Registry

	mu          sync.RWMutex
	provisioned bool
	docs        map[string]*entry
	closed      bool

	lastSnapshotErr error
	lastSnapshotAt  time.Time
}

// New creates a store, restoring the last snapshot from opts.Sink if any.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Database == "" {
		return nil, errors.New("memstore: database name is required")
	}

	s := &Store{
		database:    opts.Database,
		sink:        opts.Sink,
		logger:      logging.OrDefault(opts.Logger).With(logging.Component("memstore"), logging.String("database", opts.Database)),
		metrics:     opts.Metrics,
		provisioned: opts.Provisioned,
		docs:        make(map[string]*entry),
	}

	if s.sink != nil {
		if err := s.restore(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Name() string     { return BackendName }
func (s *Store) Database() string { return s.database }

// DatabaseExists reports whether CreateDatabase has run (or the store was
// opened provisioned).
func (s *Store) DatabaseExists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, docstore.ErrStoreClosed
	}
	return s.provisioned, nil
}

// CreateDatabase marks the database provisioned and persists that fact.
func (s *Store) CreateDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrStoreClosed
	}
	if s.provisioned {
		return nil
	}

	s.provisioned = true
	if err := s.persistLocked(ctx); err != nil {
		s.provisioned = false
		return docstore.OpError(BackendName, "create database", s.database, err)
	}
	s.logger.Info("database created")
	return nil
}

// OpenSession fails with ErrDatabaseNotFound until the database exists.
func (s *Store) OpenSession(ctx context.Context) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrStoreClosed
	}
	if !s.provisioned {
		return nil, fmt.Errorf("%w: %s", docstore.ErrDatabaseNotFound, s.database)
	}

	if s.metrics != nil {
		s.metrics.SessionOpened(BackendName)
	}
	return &session{store: s, state: docstore.NewSessionState()}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrStoreClosed
	}
	return nil
}

// Close stops the store. Documents are not persisted again on close;
// every commit already wrote its snapshot.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func newToken() string {
	return uuid.NewString()
}
