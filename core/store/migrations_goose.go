package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"talon-console/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations_sqlite/*.sql migrations_pg/*.sql
var gooseMigrationsFS embed.FS

func applyGooseMigrations(ctx context.Context, db *sql.DB, dialect string, logger *utils.Logger) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	dir := "migrations_sqlite"
	if dialect == "postgres" {
		dir = "migrations_pg"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	goose.SetBaseFS(gooseMigrationsFS)
	if logger != nil {
		logger.Printf("applying goose migrations from %s", dir)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("goose migrations applied")
	}
	return nil
}
