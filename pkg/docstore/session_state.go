package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// OpKind distinguishes buffered writes.
type OpKind int

const (
	OpStore OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "store"
}

// Op is one buffered write awaiting commit.
type Op struct {
	Kind         OpKind
	ID           string
	Collection   string
	Body         json.RawMessage
	Precondition Precondition
}

// SessionState is the bookkeeping shared by backend sessions: the change
// tokens observed so far and the writes buffered for the next commit.
// Backends embed it and supply their own Load/Query/Commit.
type SessionState struct {
	mu      sync.Mutex
	tokens  map[string]string // id -> token, "" = observed absent
	pending map[string]Op
	order   []string
	closed  bool
}

// NewSessionState returns empty session bookkeeping.
func NewSessionState() *SessionState {
	return &SessionState{
		tokens:  make(map[string]string),
		pending: make(map[string]Op),
	}
}

// CheckOpen returns ErrSessionClosed once Close has been called.
func (s *SessionState) CheckOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Observe records the token seen for id; exists=false records absence.
func (s *SessionState) Observe(id, token string, exists bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !exists {
		token = ""
	}
	s.tokens[id] = token
}

// ChangeToken returns the observed token for id. ok is false when the
// document was never observed or was observed absent.
func (s *SessionState) ChangeToken(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// resolve picks the precondition for a write to id: an explicit option
// wins, otherwise whatever this session observed.
func (s *SessionState) resolve(id string, opts []WriteOption) (Precondition, bool) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.precondition != nil {
		return *o.precondition, true
	}
	token, observed := s.tokens[id]
	switch {
	case !observed:
		return Precondition{Kind: PreconditionNone}, false
	case token == "":
		return Precondition{Kind: PreconditionAbsent}, false
	default:
		return Precondition{Kind: PreconditionToken, Token: token}, false
	}
}

// AddStore encodes value and buffers it under id.
func (s *SessionState) AddStore(id, collection string, value any, opts []WriteOption) error {
	if id == "" {
		return ErrInvalidDocumentID
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	pre, explicit := s.resolve(id, opts)
	s.put(Op{
		Kind:         OpStore,
		ID:           id,
		Collection:   collection,
		Body:         body,
		Precondition: pre,
	}, explicit)
	return nil
}

// AddDelete buffers removal of id.
func (s *SessionState) AddDelete(id string, opts []WriteOption) error {
	if id == "" {
		return ErrInvalidDocumentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	pre, explicit := s.resolve(id, opts)
	s.put(Op{
		Kind:         OpDelete,
		ID:           id,
		Precondition: pre,
	}, explicit)
	return nil
}

// put keeps one op per id. A later write replaces an earlier one but,
// unless its precondition was given explicitly, keeps the earlier
// precondition, which is what the store was observed as.
func (s *SessionState) put(op Op, explicit bool) {
	if prev, ok := s.pending[op.ID]; ok {
		if !explicit {
			op.Precondition = prev.Precondition
		}
		s.pending[op.ID] = op
		return
	}
	s.pending[op.ID] = op
	s.order = append(s.order, op.ID)
}

// Pending returns the buffered operations sorted by ID. Backends apply
// them in this order so concurrent commits lock rows consistently.
func (s *SessionState) Pending() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]Op, 0, len(s.order))
	for _, id := range s.order {
		ops = append(ops, s.pending[id])
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops
}

// Committed clears the buffer and records the tokens produced by a
// successful commit. Deleted IDs map to "".
func (s *SessionState) Committed(tokens map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, token := range tokens {
		s.tokens[id] = token
	}
	s.pending = make(map[string]Op)
	s.order = nil
}

// Close marks the session closed and drops buffered writes. It is idempotent.
func (s *SessionState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = make(map[string]Op)
	s.order = nil
}
