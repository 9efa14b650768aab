// Package mysql registers the "mysql" storage backend on go-sql-driver/mysql.
// Rows go through multi-row INSERTs and the writer lock is GET_LOCK, which
// is session scoped and therefore released explicitly after the transaction.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"strikeoffetl/internal/storage"
	"strikeoffetl/internal/storage/sqlrepo"
)

// Kind is the storage kind served by this package.
const Kind = "mysql"

const (
	// maxParams is the protocol limit on placeholders per statement.
	maxParams = 65535
	// lockTimeoutSeconds bounds the wait for another run's lock.
	lockTimeoutSeconds = 600
)

// Config holds MySQL repository configuration.
type Config struct {
	DSN string // e.g. user:pass@tcp(127.0.0.1:3306)/dw
	// Database replaces the DSN's database when non-empty.
	Database string
}

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, Config{DSN: cfg.DSN, Database: cfg.Database})
	})
	storage.RegisterDDL(Kind, Dialect)
}

// driverConfig parses cfg.DSN and applies the database override.
func driverConfig(cfg Config) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if cfg.Database != "" {
		mc.DBName = cfg.Database
	}
	return mc, nil
}

// NewRepository connects and pings the server.
func NewRepository(ctx context.Context, cfg Config) (storage.Repository, error) {
	mc, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}
	c, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(c)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqlrepo.New(db, sqlrepo.Options{
		Dialect:   Dialect,
		MaxParams: maxParams,
		Lock:      getLock,
	}), nil
}

// getLock takes GET_LOCK(key) on the transaction's session and returns the
// matching RELEASE_LOCK.
func getLock(ctx context.Context, conn *sql.Conn, tx *sql.Tx, key string) (func(context.Context) error, error) {
	var ok sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, lockTimeoutSeconds).Scan(&ok); err != nil {
		return nil, fmt.Errorf("GET_LOCK: %w", err)
	}
	if !ok.Valid || ok.Int64 != 1 {
		return nil, fmt.Errorf("GET_LOCK %q: not granted", key)
	}
	return func(ctx context.Context) error {
		_, err := conn.ExecContext(ctx, "DO RELEASE_LOCK(?)", key)
		return err
	}, nil
}
