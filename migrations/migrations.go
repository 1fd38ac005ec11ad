// Package migrations embeds the digest store's SQL schema migrations.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds the embedded migration files for the delivered-listings index
// and the per-window run table.
//
//go:embed *.sql
var FS embed.FS

// Run brings db up to the latest schema version. The SQLite store calls it
// on open so a fresh database is usable without a separate migrate step.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
