package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded migrations through goose. It is idempotent and
// runs on every [Open]; the migrate subcommand also calls it directly so a
// schema can be prepared by an account with DDL rights before the server
// starts under a lesser one.
//
// The embedding column is fixed at vector(1536) in the migration files.
// Deployments using a model with a different output dimension need a manual
// schema change before records carrying embeddings can be inserted.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}

	// Bridge the pgx pool into database/sql for goose. Closing the bridge
	// releases its connections without closing the pool.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
