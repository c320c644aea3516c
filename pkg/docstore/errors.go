package docstore

import (
	"errors"
	"fmt"
)

// Store errors
var (
	ErrConflict          = errors.New("change token conflict")
	ErrDatabaseNotFound  = errors.New("database does not exist")
	ErrSessionClosed     = errors.New("session is closed")
	ErrStoreClosed       = errors.New("document store is closed")
	ErrInvalidDocumentID = errors.New("invalid document ID")
)

// ConflictError reports a commit precondition that no longer held.
// An empty Expected means the document was expected to be absent; an
// empty Actual means it no longer exists.
type ConflictError struct {
	DocumentID string
	Expected   string
	Actual     string
}

func (e *ConflictError) Error() string {
	expected := e.Expected
	if expected == "" {
		expected = "<absent>"
	}
	actual := e.Actual
	if actual == "" {
		actual = "<absent>"
	}
	return fmt.Sprintf("document %q: %v (expected %s, found %s)", e.DocumentID, ErrConflict, expected, actual)
}

// Is makes errors.Is(err, ErrConflict) hold for any *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict reports whether err is or wraps a commit conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// AsConflict extracts the *ConflictError from err's chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// OperationError gives backend failures their operation and document context.
type OperationError struct {
	Backend string
	Op      string
	ID      string
	Cause   error
}

func (e *OperationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// OpError wraps cause with backend/op/id context. A nil cause returns nil.
func OpError(backend, op, id string, cause error) error {
	if cause == nil {
		return nil
	}
	return &OperationError{Backend: backend, Op: op, ID: id, Cause: cause}
}
