// Package database opens the relational store and applies migrations.
package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/johndosdos/courier/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB is a sqlx handle that remembers its dialect and, for Postgres, the
// pgx pool backing it.
type DB struct {
	*sqlx.DB
	Driver string

	pool *pgxpool.Pool
}

// Open connects to the database named by driver and dsn.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("could not connect to the postgresql database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgresql ping failed: %w", err)
		}
		return &DB{
			DB:     sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
			Driver: driver,
			pool:   pool,
		}, nil

	case DriverSQLite:
		conn, err := sqlx.ConnectContext(ctx, DriverSQLite, sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("could not open the sqlite database: %w", err)
		}
		// SQLite doesn't support concurrent writes.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(5 * time.Minute)
		return &DB{DB: conn, Driver: driver}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqliteDSN turns a plain path into a DSN with foreign keys enforced.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Close closes the handle and, for Postgres, the pool.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}

func (db *DB) provider() (*goose.Provider, error) {
	var dialect goose.Dialect
	switch db.Driver {
	case DriverPostgres:
		dialect = goose.DialectPostgres
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("no migrations for driver %q", db.Driver)
	}

	dir, err := fs.Sub(migrations.FS, db.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration directory: %w", err)
	}

	return goose.NewProvider(dialect, db.DB.DB, dir)
}

// Migrate applies all pending migrations.
func (db *DB) Migrate(ctx context.Context, log *slog.Logger) error {
	p, err := db.provider()
	if err != nil {
		return err
	}

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if len(results) == 0 {
		log.InfoContext(ctx, "no database migrations to apply")
		return nil
	}
	for _, r := range results {
		log.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("took", r.Duration))
	}
	return nil
}

// Reset rolls back every migration. Used by tests against a shared Postgres.
func (db *DB) Reset(ctx context.Context) error {
	p, err := db.provider()
	if err != nil {
		return err
	}

	if _, err := p.DownTo(ctx, 0); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}
