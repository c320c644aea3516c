package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
	"github.com/dd0wney/cluso-clusterstore/pkg/metrics"
)

type session struct {
	store *Store
	state *docstore.SessionState
}

func (e *entry) document(id string) *docstore.Document {
	body := make([]byte, len(e.body))
	copy(body, e.body)
	return &docstore.Document{
		ID:          id,
		Collection:  e.collection,
		Body:        body,
		ChangeToken: e.token,
		UpdatedAt:   e.updatedAt,
	}
}

func (s *session) Load(ctx context.Context, id string) (*docstore.Document, bool, error) {
	if err := s.state.CheckOpen(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.store.mu.RLock()
	e, ok := s.store.docs[id]
	var doc *docstore.Document
	if ok {
		doc = e.document(id)
	}
	s.store.mu.RUnlock()

	if !ok {
		s.state.Observe(id, "", false)
		return nil, false, nil
	}
	s.state.Observe(id, doc.ChangeToken, true)
	return doc, true, nil
}

func (s *session) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	if err := s.state.CheckOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.store.mu.RLock()
	ids := make([]string, 0, len(s.store.docs))
	for id := range s.store.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []*docstore.Document
	for _, id := range ids {
		doc := s.store.docs[id].document(id)
		if q.Matches(doc) {
			results = append(results, doc)
		}
	}
	s.store.mu.RUnlock()

	for _, doc := range results {
		s.state.Observe(doc.ID, doc.ChangeToken, true)
	}
	return results, nil
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

// Commit verifies every precondition under the store's write lock and
// applies the batch only if all of them hold. If the snapshot cannot be
// written the batch is undone and the error returned.
func (s *session) Commit(ctx context.Context) error {
	if err := s.state.CheckOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ops := s.state.Pending()
	if len(ops) == 0 {
		return nil
	}

	start := time.Now()
	tokens, err := s.store.apply(ctx, ops)
	s.store.recordCommit(start, err)
	if err != nil {
		return err
	}

	s.state.Committed(tokens)
	return nil
}

func (s *session) Close() error {
	if s.state.CheckOpen() == nil && s.store.metrics != nil {
		s.store.metrics.SessionClosed(BackendName)
	}
	s.state.Close()
	return nil
}

func (st *Store) apply(ctx context.Context, ops []docstore.Op) (map[string]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, docstore.ErrStoreClosed
	}

	for _, op := range ops {
		current, exists := st.docs[op.ID]
		token := ""
		if exists {
			token = current.token
		}
		if !op.Precondition.Satisfied(token, exists) {
			return nil, op.Precondition.Conflict(op.ID, token)
		}
	}

	undo := make(map[string]*entry, len(ops))
	tokens := make(map[string]string, len(ops))
	now := time.Now().UTC()

	for _, op := range ops {
		undo[op.ID] = st.docs[op.ID]
		switch op.Kind {
		case docstore.OpStore:
			e := &entry{collection: op.Collection, body: op.Body, token: newToken(), updatedAt: now}
			st.docs[op.ID] = e
			tokens[op.ID] = e.token
		case docstore.OpDelete:
			delete(st.docs, op.ID)
			tokens[op.ID] = ""
		}
	}

	if err := st.persistLocked(ctx); err != nil {
		for id, prev := range undo {
			if prev == nil {
				delete(st.docs, id)
			} else {
				st.docs[id] = prev
			}
		}
		return nil, docstore.OpError(BackendName, "commit", "", err)
	}

	return tokens, nil
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
