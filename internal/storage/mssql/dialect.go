package mssql

import (
	"fmt"
	"strings"

	"strikeoffetl/internal/ddl"
)

// Dialect renders T-SQL DDL. T-SQL has no CREATE TABLE IF NOT EXISTS, so the
// statement is guarded by OBJECT_ID.
var Dialect = ddl.Dialect{
	Name:       Kind,
	QuoteIdent: ddl.QuoteDoubled("[", "]"),
	MapType:    MapType,
	KeyType: func(kind string) string {
		if t := MapType(kind); t != "NVARCHAR(MAX)" {
			return t
		}
		return "NVARCHAR(450)"
	},
	Guard: func(quotedFQN, create string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s\nEND;",
			strings.ReplaceAll(quotedFQN, "'", "''"), create)
	},
}

// MapType maps a mapping type into a SQL Server column type. Unknown kinds
// fall back to NVARCHAR(MAX).
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "BIT"
	case "timestamp", "datetime", "timestamptz":
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}
