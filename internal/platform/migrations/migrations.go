// Package migrations applies embedded SQL schema migrations using
// golang-migrate, superseding the teacher's raw embed-and-exec approach so
// migrations are versioned and re-runnable.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/ledger/*.sql
var ledgerFiles embed.FS

//go:embed sql/docstore/*.sql
var docstoreFiles embed.FS

// ApplyLedger runs the publisher ledger's migrations against db.
func ApplyLedger(db *sql.DB) error {
	return apply(db, ledgerFiles, "sql/ledger", "publisher_ledger")
}

// ApplyDocumentStore runs the queue/artifact document store's migrations
// against db.
func ApplyDocumentStore(db *sql.DB) error {
	return apply(db, docstoreFiles, "sql/docstore", "document_store")
}

func apply(db *sql.DB, fsys embed.FS, root, migrationsTable string) error {
	source, err := iofs.New(fsys, root)
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations_" + migrationsTable})
	if err != nil {
		return fmt.Errorf("init postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, migrationsTable, driver)
	if err != nil {
		return fmt.Errorf("init migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
