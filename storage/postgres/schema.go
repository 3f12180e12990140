package postgres

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/tagvault/storage"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the shared wallet, item and tag tables. Every statement
// is IF NOT EXISTS, so pools run it once on creation.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return storage.WrapIO("postgres schema", err)
	}
	return nil
}
