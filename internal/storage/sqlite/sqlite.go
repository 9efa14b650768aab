// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// pure Go). SQLite has no bulk-load API, so rows go through multi-row
// INSERTs inside a transaction. It serves local runs and the end-to-end tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"strikeoffetl/internal/storage"
	"strikeoffetl/internal/storage/sqlrepo"
)

// Kind is the storage kind served by this package.
const Kind = "sqlite"

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER of older builds.
const maxParams = 999

// Config holds the SQLite connection settings.
type Config struct {
	// DSN is a file path or URI, e.g. "etl.db" or "file:etl.db?_pragma=busy_timeout(5000)".
	DSN string
}

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		// A SQLite file is its own database; cfg.Database has nothing to select.
		return newRepository(ctx, Config{DSN: cfg.DSN})
	})
	storage.RegisterDDL(Kind, Dialect)
}

// Open opens dsn with a single connection, so that a transaction and the
// statements of the same run never contend for the file lock.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewRepository opens and pings the database at cfg.DSN.
func NewRepository(ctx context.Context, cfg Config) (*sqlrepo.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := Open(cfg.DSN)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: pragma: %w", err)
	}

	return sqlrepo.New(db, sqlrepo.Options{
		Dialect:   Dialect,
		MaxParams: maxParams,
	}), nil
}
