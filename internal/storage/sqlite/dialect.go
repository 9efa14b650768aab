package sqlite

import (
	"strings"

	"strikeoffetl/internal/ddl"
)

// Dialect renders SQLite DDL.
var Dialect = ddl.Dialect{
	Name:       Kind,
	QuoteIdent: ddl.QuoteDoubled(`"`, `"`),
	MapType:    MapType,
}

// MapType maps a mapping type onto a SQLite affinity. Booleans are stored as
// 0/1 INTEGERs and timestamps as ISO-8601 TEXT.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint", "bool", "boolean":
		return "INTEGER"
	default:
		return "TEXT"
	}
}
