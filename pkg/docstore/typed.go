package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Loaded is a decoded document with its identity and change token.
type Loaded[T any] struct {
	ID          string
	Value       *T
	ChangeToken string
}

// LoadAs loads id and decodes it into a T.
func LoadAs[T any](ctx context.Context, s Session, id string) (*Loaded[T], bool, error) {
	doc, found, err := s.Load(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	value, err := decode[T](doc)
	if err != nil {
		return nil, false, err
	}
	return &Loaded[T]{ID: doc.ID, Value: value, ChangeToken: doc.ChangeToken}, true, nil
}

// QueryAs runs q and decodes every result into a T, keeping only those
// for which keep returns true. A nil keep keeps everything.
func QueryAs[T any](ctx context.Context, s Session, q Query, keep func(*T) bool) ([]*Loaded[T], error) {
	docs, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	results := make([]*Loaded[T], 0, len(docs))
	for _, doc := range docs {
		value, err := decode[T](doc)
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(value) {
			continue
		}
		results = append(results, &Loaded[T]{ID: doc.ID, Value: value, ChangeToken: doc.ChangeToken})
	}
	return results, nil
}

func decode[T any](doc *Document) (*T, error) {
	value := new(T)
	if err := json.Unmarshal(doc.Body, value); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", doc.ID, err)
	}
	return value, nil
}
