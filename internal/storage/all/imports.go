// Package all wires every built-in storage backend into the storage factory.
// It exists for side effects only: importing it runs each backend's init,
// which registers its factory and DDL dialect for these kinds:
//
//   - "postgres" (also Redshift-compatible endpoints)
//   - "mssql"
//   - "mysql"
//   - "sqlite"
//
// Typical usage (in cmd/etl):
//
//	import _ "strikeoffetl/internal/storage/all"
package all

import (
	_ "strikeoffetl/internal/storage/mssql"
	_ "strikeoffetl/internal/storage/mysql"
	_ "strikeoffetl/internal/storage/postgres"
	_ "strikeoffetl/internal/storage/sqlite"
)
