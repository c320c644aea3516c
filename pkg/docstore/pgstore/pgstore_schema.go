package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrate creates the documents table
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		body JSONB NOT NULL,
		change_token TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, id);
	`

	_, err := pool.Exec(ctx, schema)
	return err
}
