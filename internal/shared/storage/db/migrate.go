package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Schema for runs and dead letters, applied in lexical order.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies the embedded migrations via goose. A nil database is
// a no-op so memory-backed dev setups can share the boot path.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	return goose.UpContext(ctx, database, "migrations")
}
