// Package mssql registers the "mssql" storage backend on go-mssqldb. Rows are
// loaded with the TDS bulk copy API and the writer lock is sp_getapplock.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"strikeoffetl/internal/storage"
	"strikeoffetl/internal/storage/sqlrepo"
)

// Kind is the storage kind served by this package.
const Kind = "mssql"

// lockTimeoutMillis bounds the wait for another run's applock.
const lockTimeoutMillis = 10 * 60 * 1000

// Config holds MSSQL repository configuration.
type Config struct {
	DSN string
	// Database replaces the database named in DSN when non-empty.
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

// connector parses cfg.DSN and applies the database override.
func connector(cfg Config) (*mssql.Connector, error) {
	p, err := msdsn.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	if cfg.Database != "" {
		p.Database = cfg.Database
	}
	return mssql.NewConnectorConfig(p), nil
}

// NewRepository connects and pings the server.
func NewRepository(ctx context.Context, cfg Config) (storage.Repository, error) {
	c, err := connector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(c)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqlrepo.New(db, sqlrepo.Options{
		Dialect:     Dialect,
		Placeholder: sq.AtP,
		Copy:        bulkCopy,
		Lock:        appLock,
	}), nil
}

// bulkCopy streams rows through mssql.CopyIn within tx.
func bulkCopy(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(Dialect.QuoteFQN(table), mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// appLockSQL returns sp_getapplock's status: >= 0 granted, < 0 refused.
const appLockSQL = `DECLARE @rc int;
EXEC @rc = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Transaction', @LockTimeout = @p2;
SELECT @rc;`

// appLock takes a transaction-owned applock; it is released with the
// transaction, so no release func is returned.
func appLock(ctx context.Context, _ *sql.Conn, tx *sql.Tx, key string) (func(context.Context) error, error) {
	var rc int
	if err := tx.QueryRowContext(ctx, appLockSQL, key, lockTimeoutMillis).Scan(&rc); err != nil {
		return nil, fmt.Errorf("sp_getapplock: %w", err)
	}
	if rc < 0 {
		return nil, fmt.Errorf("sp_getapplock %q: status %d", key, rc)
	}
	return nil, nil
}
