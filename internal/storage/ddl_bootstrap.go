package storage

import (
	"context"
	"fmt"
	"sync"

	"strikeoffetl/internal/ddl"
)

var (
	ddlMu    sync.RWMutex
	dialects = map[string]ddl.Dialect{}
)

// RegisterDDL registers (or replaces) the DDL dialect for a storage kind. It
// is called from backend packages' init() functions next to Register.
func RegisterDDL(kind string, d ddl.Dialect) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	dialects[kind] = d
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (ddl.Dialect, error) {
	ddlMu.RLock()
	d, ok := dialects[kind]
	ddlMu.RUnlock()
	if !ok {
		return ddl.Dialect{}, fmt.Errorf("no DDL dialect registered for storage.kind=%q", kind)
	}
	return d, nil
}

// EnsureTables creates every table in defs that does not exist yet, using the
// dialect registered for kind.
func EnsureTables(ctx context.Context, kind string, w Writer, defs []ddl.TableDef) error {
	d, err := DialectFor(kind)
	if err != nil {
		return err
	}
	for _, def := range defs {
		stmt, err := ddl.BuildCreateTableSQL(d, def)
		if err != nil {
			return fmt.Errorf("render %s: %w", def.FQN, err)
		}
		if err := w.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", def.FQN, err)
		}
	}
	return nil
}
