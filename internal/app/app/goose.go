package app

import (
	"database/sql"
	"embed"
	"fmt"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

// applyMigrations runs the embedded goose migrations up to the latest version.
func applyMigrations(migrations embed.FS, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
