// Package docstore defines the document-store contract the membership
// directory and grain storage are built on.
//
// A Store hands out short-lived Sessions. A session loads and queries
// documents, buffers stores and deletes, and applies them with a single
// Commit that is atomic across every buffered operation. Every stored
// document carries an opaque change token; commits are conditioned on
// the tokens the session observed, and a mismatch fails the whole commit
// with a *ConflictError.
//
// Backends live in sub-packages:
//   - memstore: in-process maps with optional snapshot persistence
//   - pgstore: PostgreSQL JSONB via pgx
package docstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Document is a stored JSON document together with its change token.
type Document struct {
	ID          string
	Collection  string
	Body        json.RawMessage
	ChangeToken string
	UpdatedAt   time.Time
}

// Store is a document database bound to one named database.
type Store interface {
	// Name identifies the backend ("memory", "postgres") for logs and metrics.
	Name() string
	// Database returns the name of the database this store is bound to.
	Database() string
	// DatabaseExists reports whether the bound database has been provisioned.
	DatabaseExists(ctx context.Context) (bool, error)
	// CreateDatabase provisions the bound database. Creating an existing
	// database is not an error.
	CreateDatabase(ctx context.Context) error
	// OpenSession starts a unit of work. Sessions are not safe for
	// concurrent use and must be closed.
	OpenSession(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Session is a unit of work over a Store.
type Session interface {
	// Load returns the document stored under id. found is false when no
	// such document exists; that is not an error. The observed change
	// token (or its absence) is tracked for later writes.
	Load(ctx context.Context, id string) (doc *Document, found bool, err error)
	// Query returns every document matching q, ordered by ID, and tracks
	// their change tokens.
	Query(ctx context.Context, q Query) ([]*Document, error)
	// Store buffers a write of value (JSON-encoded) under id.
	Store(id, collection string, value any, opts ...WriteOption) error
	// Delete buffers removal of id.
	Delete(id string, opts ...WriteOption) error
	// ChangeToken returns the token this session last observed for id.
	ChangeToken(id string) (string, bool)
	// Commit applies every buffered operation atomically.
	Commit(ctx context.Context) error
	// Close discards anything uncommitted and releases resources.
	Close() error
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	// IDPrefix restricts results to IDs starting with this prefix.
	IDPrefix string
	// Equals restricts results to documents whose top-level string fields
	// equal the given values.
	Equals map[string]string
}

// Matches evaluates q against doc.
func (q Query) Matches(doc *Document) bool {
	if q.Collection != "" && doc.Collection != q.Collection {
		return false
	}
	if q.IDPrefix != "" && !strings.HasPrefix(doc.ID, q.IDPrefix) {
		return false
	}
	if len(q.Equals) == 0 {
		return true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc.Body, &fields); err != nil {
		return false
	}
	for name, want := range q.Equals {
		raw, ok := fields[name]
		if !ok {
			return false
		}
		var got string
		if err := json.Unmarshal(raw, &got); err != nil || got != want {
			return false
		}
	}
	return true
}
