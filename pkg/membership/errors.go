package membership

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrServiceIDRequired = errors.New("service ID is required")
	ErrNilStore          = errors.New("document store is required")
)

// Data errors
var (
	ErrInvalidSiloAddress = errors.New("invalid silo address")
	ErrInvalidStatus      = errors.New("invalid silo status")
)

// ErrConflict is matched by every *ConflictError
var ErrConflict = errors.New("membership row modified concurrently")

// ConflictError reports that a row's change token no longer matched.
// Expected is the token the caller wrote against; Actual is what is stored
// ("" when the row is gone or was not read).
type ConflictError struct {
	Address  SiloAddress
	Expected string
	Actual   string
	Cause    error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%v: silo %s (expected etag %q, found %q)", ErrConflict, e.Address, e.Expected, e.Actual)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}
