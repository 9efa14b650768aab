package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"strikeoffetl/internal/mapping"
)

func TestMigrations_PairedAndParsable(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for _, n := range names {
		if strings.HasSuffix(n, ".up.sql") {
			_, err := fs.Stat(migrationsFS, strings.TrimSuffix(n, ".up.sql")+".down.sql")
			assert.NoError(t, err, "%s has no down migration", n)
		}
	}

	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer src.Close()
	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)
}

// Every mapped column of a built-in mapping has a column in the schema.
func TestMigrations_CoverBuiltinMappings(t *testing.T) {
	t.Parallel()

	var up strings.Builder
	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	for _, n := range names {
		b, err := migrationsFS.ReadFile(n)
		require.NoError(t, err)
		up.Write(b)
	}

	for _, name := range mapping.Builtins() {
		m, err := mapping.Load(name)
		require.NoError(t, err)
		assert.Contains(t, up.String(), `CREATE TABLE IF NOT EXISTS "`+m.Table+`"`)
		for _, c := range m.Columns() {
			assert.Contains(t, up.String(), `"`+c+`"`, "%s.%s", m.Table, c)
		}
	}
}

type fakeMigration struct{ calls []string }

func (f *fakeMigration) Up() error {
	f.calls = append(f.calls, "up")
	return nil
}

func (f *fakeMigration) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func TestApplyMigration(t *testing.T) {
	t.Parallel()

	f := &fakeMigration{}
	require.NoError(t, applyMigration(f, migrationTypeUp))
	require.NoError(t, applyMigration(f, migrationTypeDown))
	assert.Equal(t, []string{"up", "down"}, f.calls)

	err := applyMigration(f, "sideways")
	assert.True(t, errors.Is(err, errInput))
}

func TestResolveDSN(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "storage": {"connection": "warehouse"},
  "connections": {
    "warehouse": {"kind": "postgres", "dsn": "postgres://etl@db:5432/reporting"},
    "local": {"kind": "sqlite", "dsn": "etl.db"}
  }
}`), 0o644))

	dsn, err := resolveDSN("postgres://explicit", path, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit", dsn)

	dsn, err = resolveDSN("", path, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://etl@db:5432/reporting", dsn)

	_, err = resolveDSN("", path, "local")
	assert.ErrorIs(t, err, errInput)
	assert.ErrorContains(t, err, `connection is "sqlite"`)

	_, err = resolveDSN("", "", "")
	assert.ErrorIs(t, err, errInput)
}

func TestRun_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	require.NoError(t, run(ctx, log, dsn, migrationTypeUp))
	// Applying twice is a no-op.
	require.NoError(t, run(ctx, log, dsn, migrationTypeUp))
	require.NoError(t, run(ctx, log, dsn, "version"))
	require.NoError(t, run(ctx, log, dsn, migrationTypeDown))
}
