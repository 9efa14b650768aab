// Package postgres registers the "postgres" storage backend on pgx v5. Rows
// are bulk-loaded with COPY FROM STDIN; the writer lock is a transaction
// scoped advisory lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"strikeoffetl/internal/storage"
)

// Kind is the storage kind served by this package.
const Kind = "postgres"

// Config holds Postgres repository configuration.
type Config struct {
	DSN string // connection string for pgxpool
	// Database replaces the database named in DSN when non-empty.
	Database string
}

// querier is the part of *pgxpool.Pool and pgx.Tx the writer needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// writer implements storage.Writer over a querier.
type writer struct{ q querier }

func (w writer) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.q.Exec(ctx, sql, args...)
	return err
}

func (w writer) DeleteAll(ctx context.Context, table string) (int64, error) {
	query, args, err := sq.Delete(Dialect.QuoteFQN(table)).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := w.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (w writer) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := w.q.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return n, fmt.Errorf("copy into %s: %s (%s): %w", table, pgErr.Detail, pgErr.SQLState(), err)
		}
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// Repository is a Postgres-backed storage.Repository.
type Repository struct {
	writer
	pool *pgxpool.Pool
}

// NewRepository connects a pool and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.Database != "" {
		pc.ConnConfig.Database = cfg.Database
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{writer: writer{q: pool}, pool: pool}, pool.Close, nil
}

// WithTransaction runs fn inside pgx.BeginFunc.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(t pgx.Tx) error {
		return fn(ctx, &tx{writer: writer{q: t}, tx: t})
	})
}

type tx struct {
	writer
	tx pgx.Tx
}

// Lock takes pg_advisory_xact_lock on the key's 64-bit hash; it is released
// at commit or rollback.
func (t *tx) Lock(ctx context.Context, key string) error {
	_, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", storage.LockID(key))
	return err
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
