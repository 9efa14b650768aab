package postgres

import (
	"strings"

	"strikeoffetl/internal/ddl"
)

// Dialect renders Postgres (and Redshift) DDL with double-quoted identifiers.
var Dialect = ddl.Dialect{
	Name:       Kind,
	QuoteIdent: ddl.QuoteDoubled(`"`, `"`),
	MapType:    MapType,
}

// MapType normalizes a mapping type into a Postgres SQL type.
//
//	"int"/"integer"/"bigint"  -> BIGINT
//	"bool"/"boolean"          -> BOOLEAN
//	"timestamp"/"timestamptz" -> TIMESTAMPTZ
//	everything else           -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "BOOLEAN"
	case "timestamp", "timestamptz":
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
