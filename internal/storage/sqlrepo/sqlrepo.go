// Package sqlrepo implements storage.Repository on top of database/sql for
// the backends that have no native pool (sqlite, mysql, mssql). Statements
// are built with squirrel; each backend supplies its dialect, placeholder
// format and, optionally, its own bulk copy and named lock.
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"strikeoffetl/internal/ddl"
	"strikeoffetl/internal/storage"
)

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CopyFunc bulk-inserts rows inside tx.
type CopyFunc func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)

// LockFunc takes the named lock key for the transaction tx running on conn.
// The returned release, when non-nil, runs on conn after the transaction ends.
type LockFunc func(ctx context.Context, conn *sql.Conn, tx *sql.Tx, key string) (release func(context.Context) error, err error)

// Options configures a Repository.
type Options struct {
	Dialect     ddl.Dialect
	Placeholder sq.PlaceholderFormat
	// MaxParams bounds the bind parameters of one multi-row INSERT.
	MaxParams int
	// Copy replaces the default multi-row INSERT.
	Copy CopyFunc
	// Lock implements storage.Tx.Lock; nil makes it a no-op.
	Lock LockFunc
}

// DefaultMaxParams is SQLite's historical bind parameter limit.
const DefaultMaxParams = 999

// withDefaults fills the statement-building options left unset.
func (o Options) withDefaults() Options {
	if o.Placeholder == nil {
		o.Placeholder = sq.Question
	}
	if o.MaxParams <= 0 {
		o.MaxParams = DefaultMaxParams
	}
	return o
}

// Repository is a database/sql backed storage.Repository.
type Repository struct {
	db  *sql.DB
	opt Options
}

var _ storage.Repository = (*Repository)(nil)

// New wraps db. The Repository owns db and closes it in Close.
func New(db *sql.DB, opt Options) *Repository {
	opt = opt.withDefaults()
	if opt.Copy == nil {
		opt.Copy = func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
			return InsertRows(ctx, tx, opt, table, columns, rows)
		}
	}
	return &Repository{db: db, opt: opt}
}

// DB exposes the underlying pool.
func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Close() { _ = r.db.Close() }

func (r *Repository) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) DeleteAll(ctx context.Context, table string) (int64, error) {
	return deleteAll(ctx, r.db, r.opt, table)
}

// CopyFrom runs the copy in its own short transaction.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	n, err := r.opt.Copy(ctx, tx, table, columns, rows)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// WithTransaction pins one connection for the transaction so that session
// scoped locks taken through Tx.Lock can be released on the same session.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	t := &tx{conn: conn, tx: sqlTx, opt: r.opt}
	defer func() {
		for i := len(t.releases) - 1; i >= 0; i-- {
			// The release must run even when ctx is already canceled.
			if rerr := t.releases[i](context.WithoutCancel(ctx)); rerr != nil {
				err = errors.Join(err, fmt.Errorf("release lock: %w", rerr))
			}
		}
	}()

	if err := fn(ctx, t); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	conn     *sql.Conn
	tx       *sql.Tx
	opt      Options
	releases []func(context.Context) error
}

func (t *tx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *tx) DeleteAll(ctx context.Context, table string) (int64, error) {
	return deleteAll(ctx, t.tx, t.opt, table)
}

func (t *tx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return t.opt.Copy(ctx, t.tx, table, columns, rows)
}

func (t *tx) Lock(ctx context.Context, key string) error {
	if t.opt.Lock == nil {
		return nil
	}
	release, err := t.opt.Lock(ctx, t.conn, t.tx, key)
	if err != nil {
		return err
	}
	if release != nil {
		t.releases = append(t.releases, release)
	}
	return nil
}

func deleteAll(ctx context.Context, ex Execer, opt Options, table string) (int64, error) {
	opt = opt.withDefaults()
	query, args, err := sq.Delete(opt.Dialect.QuoteFQN(table)).PlaceholderFormat(opt.Placeholder).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertRows inserts rows with multi-row INSERT statements, each holding at
// most opt.MaxParams bind parameters. Unset Placeholder and MaxParams take
// the same defaults as New.
func InsertRows(ctx context.Context, ex Execer, opt Options, table string, columns []string, rows [][]any) (int64, error) {
	opt = opt.withDefaults()
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: columns must not be empty", table)
	}
	per := opt.MaxParams / len(columns)
	if per < 1 {
		per = 1
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = opt.Dialect.Quote(c)
	}

	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		b := sq.Insert(opt.Dialect.QuoteFQN(table)).Columns(quoted...).PlaceholderFormat(opt.Placeholder)
		for i, row := range rows[start:end] {
			if len(row) != len(columns) {
				return total, fmt.Errorf("insert %s: row %d has %d values for %d columns", table, start+i, len(row), len(columns))
			}
			b = b.Values(row...)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return total, fmt.Errorf("build insert: %w", err)
		}
		res, err := ex.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(end - start)
		}
		total += n
	}
	return total, nil
}
