package mysql

import (
	"strings"

	"strikeoffetl/internal/ddl"
)

// Dialect renders MySQL DDL with backquoted identifiers.
var Dialect = ddl.Dialect{
	Name:       Kind,
	QuoteIdent: ddl.QuoteDoubled("`", "`"),
	MapType:    MapType,
	KeyType: func(kind string) string {
		if t := MapType(kind); t != "LONGTEXT" {
			return t
		}
		return "VARCHAR(255)"
	},
}

// MapType maps a mapping type into a MySQL column type.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "BOOLEAN"
	case "timestamp", "datetime":
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}
