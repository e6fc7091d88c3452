// Package migrations carries the embedded schema for the listings
// database and brings a freshly opened database up to date.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS holds the versioned schema files, ordered by their goose prefix.
//
//go:embed *.sql
var FS embed.FS

// Run upgrades db to the latest schema version. Safe to call on every
// startup; an up-to-date database is a no-op.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply schema migrations: %w", err)
	}

	return nil
}
