package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies schema migrations on the pool.
//   - targetVersion < 0 migrates to the latest version.
//   - targetVersion == 0 rolls every migration back.
//   - targetVersion > 0 migrates to that version.
func (db *DB) Migrate(targetVersion int) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer func() { _ = sqlDB.Close() }()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("accessing migrations directory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "portal", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d", from)
	}

	switch {
	case targetVersion < 0:
		err = m.Up()
	case targetVersion == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(targetVersion))
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("database schema up to date", "version", from)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrating from version %d: %w", from, err)
	}

	to, _, _ := m.Version()
	slog.Info("database migrated", "from", from, "to", to)
	return nil
}
