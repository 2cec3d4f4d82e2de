package store

import (
	"database/sql"
	"fmt"

	"github.com/hyperengineering/triage/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending database migrations for dialect using goose.
// It uses the embedded SQL files from the migrations package.
func RunMigrations(db *sql.DB, dialect string) error {
	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())

	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, migrations.Dir(dialect)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SchemaVersion returns the latest applied migration version.
func (s *SQLStore) SchemaVersion() (int64, error) {
	if err := goose.SetDialect(s.dialect); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}
	version, err := goose.GetDBVersion(s.db)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
