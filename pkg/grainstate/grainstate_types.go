package grainstate

import "encoding/json"

// StateHandle is a grain's in-memory state as handed to storage. The
// storage reads and writes the value and keeps the etag and existence
// flag current.
type StateHandle interface {
	ETag() string
	SetETag(etag string)
	RecordExists() bool
	SetRecordExists(exists bool)
	// Value returns what should be persisted.
	Value() any
	// Decode replaces the value with a stored one.
	Decode(data json.RawMessage) error
}

// GrainState is the StateHandle for a state value of type T. An empty
// ETag means nothing has been stored yet.
type GrainState[T any] struct {
	State  T
	Etag   string
	Exists bool
}

var _ StateHandle = (*GrainState[struct{}])(nil)

// NewGrainState wraps an initial state value
func NewGrainState[T any](initial T) *GrainState[T] {
	return &GrainState[T]{State: initial}
}

func (g *GrainState[T]) ETag() string                { return g.Etag }
func (g *GrainState[T]) SetETag(etag string)         { g.Etag = etag }
func (g *GrainState[T]) RecordExists() bool          { return g.Exists }
func (g *GrainState[T]) SetRecordExists(exists bool) { g.Exists = exists }
func (g *GrainState[T]) Value() any                  { return g.State }

func (g *GrainState[T]) Decode(data json.RawMessage) error {
	var state T
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	g.State = state
	return nil
}
