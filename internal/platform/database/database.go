// Package database manages the PostgreSQL pool and its schema.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	applicationName = "pai-portal"

	// migrationsTable is where golang-migrate records the applied version.
	migrationsTable = "schema_migrations"
)

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// ParseURL validates a PostgreSQL connection URL and tags its connections
// with the portal's application name unless the URL sets one.
func ParseURL(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return cfg, nil
}

// New opens a pool sized by maxConns/minConns and pings it.
func New(ctx context.Context, url string, maxConns, minConns int) (*DB, error) {
	if maxConns < 1 {
		return nil, fmt.Errorf("max connections must be positive, got %d", maxConns)
	}
	if minConns < 0 || minConns > maxConns {
		return nil, fmt.Errorf("min connections must be between 0 and %d, got %d", maxConns, minConns)
	}
	cfg, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = int32(maxConns)
	cfg.MinConns = int32(minConns)
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.ConnConfig.Database, err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// SchemaVersion returns the applied migration version. A database that was
// never migrated reports version 0.
func (db *DB) SchemaVersion(ctx context.Context) (version int64, dirty bool, err error) {
	var exists bool
	err = db.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, migrationsTable).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("looking up %s: %w", migrationsTable, err)
	}
	if !exists {
		return 0, false, nil
	}

	rows, err := db.Pool.Query(ctx, `SELECT version, dirty FROM `+migrationsTable+` LIMIT 1`)
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&version, &dirty); err != nil {
			return 0, false, fmt.Errorf("scanning schema version: %w", err)
		}
	}
	return version, dirty, rows.Err()
}

// HealthCheck verifies the connection and that no migration was left half
// applied.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return err
	}
	version, dirty, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema is dirty at version %d", version)
	}
	return nil
}
