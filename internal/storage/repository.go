// Package storage contains the storage-agnostic contracts used to replace the
// warehouse tables, plus a registry of backends keyed by kind.
//
// Backends register a Factory and a ddl.Dialect from init(); callers obtain a
// Repository with New and never import a backend directly (see storage/all).
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedKind is returned by New for a kind nothing registered.
var ErrUnsupportedKind = errors.New("unsupported storage.kind")

// Writer is the set of write primitives shared by a Repository and an open
// transaction. Table names are given in dotted form and quoted by the backend.
type Writer interface {
	// Exec runs a raw statement (pre-actions, DDL).
	Exec(ctx context.Context, sql string, args ...any) error
	// DeleteAll removes every row of table and reports how many went.
	DeleteAll(ctx context.Context, table string) (int64, error)
	// CopyFrom bulk-inserts rows aligned to columns and reports the count.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Tx is a Writer bound to one database transaction.
type Tx interface {
	Writer
	// Lock takes an exclusive lock named key that is held until the
	// transaction ends. Backends without named locks treat it as a no-op.
	Lock(ctx context.Context, key string) error
}

// Repository is a connection to one destination database.
type Repository interface {
	Writer
	// WithTransaction runs fn in a transaction, committing when fn returns
	// nil and rolling back otherwise.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
	// Database overrides the database named in DSN when non-empty.
	Database string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository through the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w=%s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
