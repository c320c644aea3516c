package grainstate

import (
	"errors"
	"fmt"
)

var (
	ErrServiceIDRequired = errors.New("service ID is required")
	ErrNilStore          = errors.New("document store is required")
	ErrInvalidGrainKey   = errors.New("grain type and ID are required")
)

// ErrInconsistentState is matched by every *InconsistentStateError
var ErrInconsistentState = errors.New("inconsistent grain state")

// InconsistentStateError reports a write or clear that lost to a
// concurrent writer. The caller should re-read the state and retry.
type InconsistentStateError struct {
	GrainType    string
	GrainID      string
	ExpectedETag string
	CurrentETag  string
	Cause        error
}

func (e *InconsistentStateError) Error() string {
	msg := fmt.Sprintf("%v: %s/%s: expected etag %q, current etag %q",
		ErrInconsistentState, e.GrainType, e.GrainID, e.ExpectedETag, e.CurrentETag)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InconsistentStateError) Is(target error) bool {
	return target == ErrInconsistentState
}

func (e *InconsistentStateError) Unwrap() error {
	return e.Cause
}
