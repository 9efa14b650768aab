// Package ddl defines a small, backend-agnostic model for SQL DDL and renders
// CREATE TABLE statements from it through a Dialect.
//
// ColumnDef.Default is emitted as raw SQL; the caller is responsible for its
// dialect correctness.
package ddl

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"strikeoffetl/internal/mapping"
)

// BuildCreateTableSQL renders an idempotent CREATE TABLE statement.
//
// Rules:
//
//   - t.FQN must be non-empty; each column needs a Name and an SQLType.
//
//   - A column is rendered as:
//
//     <Name> <SQLType> [NOT NULL] [DEFAULT <Default>]
//
//     where NOT NULL is added when Nullable == false or PrimaryKey == true.
//
//   - Primary-key columns are collected, in column order, into a trailing
//     PRIMARY KEY (...) clause.
//
//   - Without a Dialect.Guard the statement is CREATE TABLE IF NOT EXISTS.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.Quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.Quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	body := fmt.Sprintf("%s (\n  %s\n);", quoted, strings.Join(cols, ",\n  "))
	if d.Guard == nil {
		return "CREATE TABLE IF NOT EXISTS " + body, nil
	}
	return d.Guard(quoted, "CREATE TABLE "+body), nil
}

// FromMapping derives the destination table of m. Column types go through
// the dialect; columns listed in keyColumns form the primary key.
func FromMapping(d Dialect, m *mapping.Mapping, keyColumns []string) (TableDef, error) {
	for _, k := range keyColumns {
		if !lo.Contains(m.Columns(), k) {
			return TableDef{}, fmt.Errorf("ddl: key column %q not mapped in %s", k, m.Table)
		}
	}
	return TableDef{
		FQN: m.Table,
		Columns: lo.Map(m.Fields, func(f mapping.Field, _ int) ColumnDef {
			c := ColumnDef{Name: f.Dest, SQLType: d.Type(f.DestType), Nullable: f.Nullable}
			if lo.Contains(keyColumns, f.Dest) {
				c.SQLType, c.PrimaryKey = d.TypeOfKey(f.DestType), true
			}
			return c
		}),
	}, nil
}
