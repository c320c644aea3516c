package pgstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

type session struct {
	store *Store
	pool  *pgxpool.Pool
	state *docstore.SessionState
}

func (s *session) Load(ctx context.Context, id string) (*docstore.Document, bool, error) {
	if err := s.state.CheckOpen(); err != nil {
		return nil, false, err
	}

	doc := &docstore.Document{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT collection, body, change_token, updated_at FROM documents WHERE id = $1`, id,
	).Scan(&doc.Collection, &doc.Body, &doc.ChangeToken, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		s.state.Observe(id, "", false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, docstore.OpError(BackendName, "load", id, err)
	}

	s.state.Observe(id, doc.ChangeToken, true)
	return doc, true, nil
}

// buildQuery turns q into a SELECT over the documents table.
func buildQuery(q docstore.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Collection != "" {
		where = append(where, "collection = "+arg(q.Collection))
	}
	if q.IDPrefix != "" {
		where = append(where, "starts_with(id, "+arg(q.IDPrefix)+")")
	}
	for _, field := range slices.Sorted(maps.Keys(q.Equals)) {
		where = append(where, "body->>"+arg(field)+" = "+arg(q.Equals[field]))
	}

	sql := `SELECT id, collection, body, change_token, updated_at FROM documents`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY id", args
}

func (s *session) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	if err := s.state.CheckOpen(); err != nil {
		return nil, err
	}

	sql, args := buildQuery(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, docstore.OpError(BackendName, "query", q.Collection, err)
	}
	defer rows.Close()

	var docs []*docstore.Document
	for rows.Next() {
		doc := &docstore.Document{}
		if err := rows.Scan(&doc.ID, &doc.Collection, &doc.Body, &doc.ChangeToken, &doc.UpdatedAt); err != nil {
			return nil, docstore.OpError(BackendName, "query", q.Collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, docstore.OpError(BackendName, "query", q.Collection, err)
	}

	for _, doc := range docs {
		s.state.Observe(doc.ID, doc.ChangeToken, true)
	}
	return docs, nil
}

func (s *session) Store(id, collection string, value any, opts ...docstore.WriteOption) error {
	return s.state.AddStore(id, collection, value, opts)
}

func (s *session) Delete(id string, opts ...docstore.WriteOption) error {
	return s.state.AddDelete(id, opts)
}

func (s *session) ChangeToken(id string) (string, bool) {
	return s.state.ChangeToken(id)
}

// Commit applies the buffered operations in one transaction.
func (s *session) Commit(ctx context.Context) error {
	if err := s.state.CheckOpen(); err != nil {
		return err
	}
	ops := s.state.Pending()
	if len(ops) == 0 {
		return nil
	}

	start := time.Now()
	tokens, err := s.commit(ctx, ops)
	s.store.recordCommit(start, err)
	if err != nil {
		return err
	}

	s.state.Committed(tokens)
	return nil
}

func (s *session) commit(ctx context.Context, ops []docstore.Op) (map[string]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, docstore.OpError(BackendName, "begin", "", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tokens := make(map[string]string, len(ops))
	for _, op := range ops {
		token, err := applyOp(ctx, tx, op)
		if err != nil {
			return nil, err
		}
		tokens[op.ID] = token
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, docstore.OpError(BackendName, "commit", "", err)
	}
	return tokens, nil
}

// applyOp runs one operation and returns the document's new token, ""
// for a delete.
func applyOp(ctx context.Context, tx pgx.Tx, op docstore.Op) (string, error) {
	var (
		tag   pgconn.CommandTag
		err   error
		token string
	)

	switch op.Kind {
	case docstore.OpStore:
		token = uuid.NewString()
		body := string(op.Body)
		switch op.Precondition.Kind {
		case docstore.PreconditionAbsent:
			tag, err = tx.Exec(ctx, `
				INSERT INTO documents (id, collection, body, change_token, updated_at)
				VALUES ($1, $2, $3::jsonb, $4, now())
				ON CONFLICT (id) DO NOTHING`,
				op.ID, op.Collection, body, token)
		case docstore.PreconditionToken:
			tag, err = tx.Exec(ctx, `
				UPDATE documents SET collection = $2, body = $3::jsonb, change_token = $4, updated_at = now()
				WHERE id = $1 AND change_token = $5`,
				op.ID, op.Collection, body, token, op.Precondition.Token)
		default:
			tag, err = tx.Exec(ctx, `
				INSERT INTO documents (id, collection, body, change_token, updated_at)
				VALUES ($1, $2, $3::jsonb, $4, now())
				ON CONFLICT (id) DO UPDATE
				SET collection = EXCLUDED.collection, body = EXCLUDED.body,
				    change_token = EXCLUDED.change_token, updated_at = EXCLUDED.updated_at`,
				op.ID, op.Collection, body, token)
		}

	case docstore.OpDelete:
		switch op.Precondition.Kind {
		case docstore.PreconditionAbsent:
			// Deleting something required to be absent only checks that it is.
			actual, found, lookupErr := currentToken(ctx, tx, op.ID)
			if lookupErr != nil {
				return "", lookupErr
			}
			if found {
				return "", op.Precondition.Conflict(op.ID, actual)
			}
			return "", nil
		case docstore.PreconditionToken:
			tag, err = tx.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND change_token = $2`, op.ID, op.Precondition.Token)
		default:
			_, err = tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, op.ID)
			if err != nil {
				return "", docstore.OpError(BackendName, op.Kind.String(), op.ID, err)
			}
			return "", nil
		}
	}

	if err != nil {
		return "", docstore.OpError(BackendName, op.Kind.String(), op.ID, err)
	}
	if tag.RowsAffected() == 0 {
		actual, _, lookupErr := currentToken(ctx, tx, op.ID)
		if lookupErr != nil {
			return "", lookupErr
		}
		return "", op.Precondition.Conflict(op.ID, actual)
	}
	return token, nil
}

func currentToken(ctx context.Context, tx pgx.Tx, id string) (string, bool, error) {
	var token string
	err := tx.QueryRow(ctx, `SELECT change_token FROM documents WHERE id = $1`, id).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, docstore.OpError(BackendName, "load", id, err)
	}
	return token, true, nil
}

func (s *session) Close() error {
	if s.state.CheckOpen() == nil && s.store.metrics != nil {
		s.store.metrics.SessionClosed(BackendName)
	}
	s.state.Close()
	return nil
}

func (st *Store) recordCommit(start time.Time, err error) {
	status := metrics.StatusSuccess
	switch {
	case docstore.IsConflict(err):
		status = metrics.StatusConflict
		st.logger.Debug("commit rejected", logging.Error(err))
	case err != nil:
		status = metrics.StatusError
		st.logger.Error("commit failed", logging.Error(err))
	}
	if st.metrics != nil {
		st.metrics.RecordCommit(BackendName, status, time.Since(start))
	}
}
