// Package pgstore is a docstore.Store over PostgreSQL.
//
// Every document is a row in one JSONB table. A commit runs all buffered
// operations in a single transaction; conditional writes are expressed as
// INSERT ... ON CONFLICT DO NOTHING (must not exist) and UPDATE/DELETE
// ... WHERE change_token = $n (token match), so a zero row count is a
// conflict and the transaction is rolled back.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

// BackendName is reported by Store.Name
const BackendName = "postgres"

// duplicate_database
const errDuplicateDatabase = "42P04"

// Options configures a PostgreSQL store
type Options struct {
	// ConnectionString is one or more PostgreSQL URLs or DSNs separated by
	// ';'. They are tried in order and the first reachable one is used.
	ConnectionString string
	// Database is the database documents are kept in. It may differ from
	// the database named in the connection string, which is only used to
	// check for and create it.
	Database string
	MaxConns int32
	Logger   logging.Logger
	Metrics  *metrics.Registry
}

// Store keeps documents in PostgreSQL
type Store struct {
	database string
	admin    *pgxpool.Pool
	dataCfg  *pgxpool.Config
	endpoint string
	logger   logging.Logger
	metrics  *metrics.Registry

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// Endpoints splits a ';'-separated connection string, dropping blanks.
func Endpoints(connectionString string) []string {
	var endpoints []string
	for _, part := range strings.Split(connectionString, ";") {
		if part = strings.TrimSpace(part); part != "" {
			endpoints = append(endpoints, part)
		}
	}
	return endpoints
}

// New connects to the first reachable endpoint. The target database does
// not have to exist yet.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Database == "" {
		return nil, errors.New("pgstore: database name is required")
	}
	endpoints := Endpoints(opts.ConnectionString)
	if len(endpoints) == 0 {
		return nil, errors.New("pgstore: connection string is required")
	}

	logger := logging.OrDefault(opts.Logger).With(logging.Component("pgstore"), logging.String("database", opts.Database))

	var errs []error
	for i, endpoint := range endpoints {
		admin, dataCfg, err := connect(ctx, endpoint, opts)
		if err != nil {
			logger.Warn("endpoint unreachable", logging.Int("endpoint", i), logging.Error(err))
			errs = append(errs, fmt.Errorf("endpoint %d: %w", i, err))
			continue
		}

		logger.Info("connected", logging.Int("endpoint", i), logging.String("host", dataCfg.ConnConfig.Host))
		return &Store{
			database: opts.Database,
			admin:    admin,
			dataCfg:  dataCfg,
			endpoint: dataCfg.ConnConfig.Host,
			logger:   logger,
			metrics:  opts.Metrics,
		}, nil
	}
	return nil, fmt.Errorf("pgstore: no reachable endpoint: %w", errors.Join(errs...))
}

func connect(ctx context.Context, endpoint string, opts Options) (*pgxpool.Pool, *pgxpool.Config, error) {
	adminCfg, err := pgxpool.ParseConfig(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	adminCfg.MaxConns = 2
	adminCfg.MaxConnLifetime = 5 * time.Minute

	dataCfg := adminCfg.Copy()
	dataCfg.ConnConfig.Database = opts.Database
	dataCfg.MaxConns = 10
	if opts.MaxConns > 0 {
		dataCfg.MaxConns = opts.MaxConns
	}
	dataCfg.MaxConnIdleTime = 1 * time.Minute

	admin, err := pgxpool.NewWithConfig(ctx, adminCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		return nil, nil, fmt.Errorf("database unreachable: %w", err)
	}
	return admin, dataCfg, nil
}

func (s *Store) Name() string     { return BackendName }
func (s *Store) Database() string { return s.database }

// DatabaseExists looks the target database up in pg_database.
func (s *Store) DatabaseExists(ctx context.Context) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var exists bool
	err := s.admin.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, s.database).Scan(&exists)
	if err != nil {
		return false, docstore.OpError(BackendName, "check database", s.database, err)
	}
	return exists, nil
}

// CreateDatabase creates the target database if needed and its schema.
func (s *Store) CreateDatabase(ctx context.Context) error {
	exists, err := s.DatabaseExists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		_, err := s.admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{s.database}.Sanitize())
		var pgErr *pgconn.PgError
		if err != nil && !(errors.As(err, &pgErr) && pgErr.Code == errDuplicateDatabase) {
			return docstore.OpError(BackendName, "create database", s.database, err)
		}
		if err == nil {
			s.logger.Info("database created")
		}
	}

	_, err = s.dataPool(ctx)
	return err
}

// dataPool opens the pool on the target database and migrates it on
// first use. It returns ErrDatabaseNotFound while the database is missing.
func (s *Store) dataPool(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrStoreClosed
	}
	if s.pool != nil {
		return s.pool, nil
	}

	var exists bool
	err := s.admin.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, s.database).Scan(&exists)
	if err != nil {
		return nil, docstore.OpError(BackendName, "check database", s.database, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", docstore.ErrDatabaseNotFound, s.database)
	}

	pool, err := pgxpool.NewWithConfig(ctx, s.dataCfg)
	if err != nil {
		return nil, docstore.OpError(BackendName, "connect", s.database, err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, docstore.OpError(BackendName, "migrate", s.database, err)
	}

	s.pool = pool
	return pool, nil
}

// OpenSession starts a session on the target database.
func (s *Store) OpenSession(ctx context.Context) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pool, err := s.dataPool(ctx)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SessionOpened(BackendName)
	}
	return &session{store: s, pool: pool, state: docstore.NewSessionState()}, nil
}

// Ping checks connectivity to the server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.admin.Ping(ctx)
}

// Close closes both connection pools.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pool != nil {
		s.pool.Close()
	}
	s.admin.Close()
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrStoreClosed
	}
	return nil
}
