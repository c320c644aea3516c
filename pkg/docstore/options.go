package docstore

// PreconditionKind says what a commit must find before applying an operation.
type PreconditionKind int

const (
	// PreconditionNone applies the operation unconditionally.
	PreconditionNone PreconditionKind = iota
	// PreconditionAbsent requires that no document exists under the ID.
	PreconditionAbsent
	// PreconditionToken requires the stored change token to equal Token.
	PreconditionToken
)

// Precondition is checked against the stored document at commit time.
type Precondition struct {
	Kind  PreconditionKind
	Token string
}

// Satisfied reports whether a document with the given token (exists=false
// meaning no document) meets the precondition.
func (p Precondition) Satisfied(token string, exists bool) bool {
	switch p.Kind {
	case PreconditionAbsent:
		return !exists
	case PreconditionToken:
		return exists && token == p.Token
	default:
		return true
	}
}

// Conflict builds the error reported when p is not satisfied.
func (p Precondition) Conflict(id, actual string) *ConflictError {
	return &ConflictError{DocumentID: id, Expected: p.Token, Actual: actual}
}

type writeOptions struct {
	precondition *Precondition
}

// WriteOption adjusts how Store and Delete are checked at commit.
type WriteOption func(*writeOptions)

// WithChangeToken conditions the write on the stored change token. An
// empty token means the document must not exist yet.
func WithChangeToken(token string) WriteOption {
	return func(o *writeOptions) {
		if token == "" {
			o.precondition = &Precondition{Kind: PreconditionAbsent}
			return
		}
		o.precondition = &Precondition{Kind: PreconditionToken, Token: token}
	}
}

// WithoutConcurrencyCheck applies the write whatever is stored.
func WithoutConcurrencyCheck() WriteOption {
	return func(o *writeOptions) {
		o.precondition = &Precondition{Kind: PreconditionNone}
	}
}
