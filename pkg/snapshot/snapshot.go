// Package snapshot persists opaque store snapshots to a file or an S3 bucket.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

var (
	ErrNoSnapshot    = errors.New("no snapshot stored")
	ErrBadSnapshot   = errors.New("snapshot is corrupt or has an unknown format")
	ErrMissingTarget = errors.New("snapshot sink needs a path or a bucket and key")
)

// magic prefixes every encoded snapshot so foreign files are rejected
// instead of half-decoded.
var magic = []byte("CSS1")

// Sink stores and retrieves the latest snapshot.
type Sink interface {
	// Load returns the stored snapshot, or ErrNoSnapshot.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, data []byte) error
	// String describes the target for logs.
	String() string
}

// Encode serializes v as JSON and snappy-compresses it.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	out := make([]byte, 0, len(magic)+snappy.MaxEncodedLen(len(raw)))
	out = append(out, magic...)
	return append(out, snappy.Encode(nil, raw)...), nil
}

// Decode reverses Encode into v.
func Decode(data []byte, v any) error {
	if !bytes.HasPrefix(data, magic) {
		return ErrBadSnapshot
	}
	raw, err := snappy.Decode(nil, data[len(magic):])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return nil
}
