// Package grainstate persists grain state in a document store with
// optimistic concurrency: every write is conditioned on the etag the grain
// last read or wrote, and losing writers get an *InconsistentStateError
// instead of silently overwriting.
package grainstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

// DefaultCollection holds grain state documents unless configured otherwise
const DefaultCollection = "GrainStates"

// Storage is grain state persistence as the runtime sees it
type Storage interface {
	ReadState(ctx context.Context, grainType, grainID string, state StateHandle) error
	WriteState(ctx context.Context, grainType, grainID string, state StateHandle) error
	ClearState(ctx context.Context, grainType, grainID string, state StateHandle) error
}

// Config scopes a Store
type Config struct {
	ServiceID  string
	Collection string
	Logger     logging.Logger
	Metrics    *metrics.Registry
}

// Store is Storage over a docstore.Store
type Store struct {
	docs       docstore.Store
	serviceID  string
	collection string
	logger     logging.Logger
	metrics    *metrics.Registry
}

var _ Storage = (*Store)(nil)

// NewStore creates grain storage for cfg.ServiceID
func NewStore(docs docstore.Store, cfg Config) (*Store, error) {
	if docs == nil {
		return nil, ErrNilStore
	}
	if cfg.ServiceID == "" {
		return nil, ErrServiceIDRequired
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	return &Store{
		docs:       docs,
		serviceID:  cfg.ServiceID,
		collection: cfg.Collection,
		logger: logging.OrDefault(cfg.Logger).With(
			logging.Component("grainstate"),
			logging.ServiceID(cfg.ServiceID),
		),
		metrics: cfg.Metrics,
	}, nil
}

// Collection returns the collection state documents are stored in
func (s *Store) Collection() string { return s.collection }

// Key derives the document key of one grain's state
func (s *Store) Key(grainType, grainID string) string {
	return s.serviceID + "/" + s.collection + "/" + grainType + "/" + grainID
}

// ReadState loads the stored state into state. When nothing is stored the
// handle is left as it is.
func (s *Store) ReadState(ctx context.Context, grainType, grainID string, state StateHandle) (err error) {
	start := time.Now()
	defer func() { s.record("read", grainType, start, err) }()

	if grainType == "" || grainID == "" {
		return ErrInvalidGrainKey
	}
	key := s.Key(grainType, grainID)

	sess, err := s.docs.OpenSession(ctx)
	if err != nil {
		return s.fail("read", key, err)
	}
	defer sess.Close()

	doc, found, err := sess.Load(ctx, key)
	if err != nil {
		return s.fail("read", key, err)
	}
	if !found {
		return nil
	}

	if err := state.Decode(doc.Body); err != nil {
		return s.fail("read", key, fmt.Errorf("decode state: %w", err))
	}
	state.SetETag(doc.ChangeToken)
	state.SetRecordExists(true)
	return nil
}

// WriteState stores state's value, conditioned on its etag (an empty etag
// means the record must not exist yet). On success the handle carries the
// new etag.
func (s *Store) WriteState(ctx context.Context, grainType, grainID string, state StateHandle) (err error) {
	start := time.Now()
	defer func() { s.record("write", grainType, start, err) }()

	if grainType == "" || grainID == "" {
		return ErrInvalidGrainKey
	}
	key := s.Key(grainType, grainID)
	expected := state.ETag()

	sess, err := s.docs.OpenSession(ctx)
	if err != nil {
		return s.fail("write", key, err)
	}
	defer sess.Close()

	if err := sess.Store(key, s.collection, state.Value(), docstore.WithChangeToken(expected)); err != nil {
		return s.fail("write", key, err)
	}
	if err := sess.Commit(ctx); err != nil {
		if ce, ok := docstore.AsConflict(err); ok {
			s.logger.Warn("grain state write conflicted",
				logging.GrainKey(key), logging.ChangeToken(expected), logging.String("current", ce.Actual))
			return &InconsistentStateError{
				GrainType:    grainType,
				GrainID:      grainID,
				ExpectedETag: expected,
				CurrentETag:  ce.Actual,
				Cause:        err,
			}
		}
		return s.fail("write", key, err)
	}

	token, _ := sess.ChangeToken(key)
	state.SetETag(token)
	state.SetRecordExists(true)
	return nil
}

// ClearState deletes the stored state, if any, and resets the handle's
// etag and existence flag, including when the delete conflicts. A handle
// carrying an etag only deletes that version of the record; a handle
// without one deletes whatever is stored. Clearing twice is fine.
func (s *Store) ClearState(ctx context.Context, grainType, grainID string, state StateHandle) (err error) {
	start := time.Now()
	defer func() { s.record("clear", grainType, start, err) }()

	if grainType == "" || grainID == "" {
		return ErrInvalidGrainKey
	}
	key := s.Key(grainType, grainID)

	sess, err := s.docs.OpenSession(ctx)
	if err != nil {
		return s.fail("clear", key, err)
	}
	defer sess.Close()

	doc, found, err := sess.Load(ctx, key)
	if err != nil {
		return s.fail("clear", key, err)
	}
	if found {
		expected := state.ETag()
		if expected == "" {
			expected = doc.ChangeToken
		}
		if expected != doc.ChangeToken {
			resetHandle(state)
			return s.clearConflict(grainType, grainID, key, expected, doc.ChangeToken, nil)
		}

		if err := sess.Delete(key, docstore.WithChangeToken(expected)); err != nil {
			return s.fail("clear", key, err)
		}
		if err := sess.Commit(ctx); err != nil {
			if ce, ok := docstore.AsConflict(err); ok {
				resetHandle(state)
				return s.clearConflict(grainType, grainID, key, expected, ce.Actual, err)
			}
			return s.fail("clear", key, err)
		}
	}

	resetHandle(state)
	return nil
}

func resetHandle(state StateHandle) {
	state.SetETag("")
	state.SetRecordExists(false)
}

func (s *Store) clearConflict(grainType, grainID, key, expected, current string, cause error) error {
	s.logger.Warn("grain state clear conflicted",
		logging.GrainKey(key), logging.ChangeToken(expected), logging.String("current", current))
	return &InconsistentStateError{
		GrainType:    grainType,
		GrainID:      grainID,
		ExpectedETag: expected,
		CurrentETag:  current,
		Cause:        cause,
	}
}

func (s *Store) fail(op, key string, err error) error {
	s.logger.Error("grain state operation failed",
		logging.Operation(op), logging.GrainKey(key), logging.Error(err))
	return fmt.Errorf("grainstate: %s %s: %w", op, key, err)
}

func (s *Store) record(op, grainType string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrInconsistentState):
		status = metrics.StatusConflict
	default:
		status = metrics.StatusError
	}
	s.metrics.RecordGrainStateOperation(op, grainType, status, time.Since(start))
}
