package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strikeoffetl/internal/ddl"
)

// fakeRepo is an in-memory Repository. Transactions work on a copy of the
// tables that is swapped in on commit.
type fakeRepo struct {
	tables map[string][][]any
	log    []string
	closed bool
	// failCopy fails CopyFrom into this table.
	failCopy string
}

func newFakeRepo() *fakeRepo { return &fakeRepo{tables: map[string][][]any{}} }

type fakeWriter struct {
	r      *fakeRepo
	tables map[string][][]any
}

func (w *fakeWriter) Exec(_ context.Context, sql string, _ ...any) error {
	w.r.log = append(w.r.log, "exec "+sql)
	if t, ok := strings.CutPrefix(sql, "delete from "); ok {
		delete(w.tables, strings.TrimSuffix(t, ";"))
	}
	return nil
}

func (w *fakeWriter) DeleteAll(_ context.Context, table string) (int64, error) {
	w.r.log = append(w.r.log, "delete "+table)
	n := len(w.tables[table])
	delete(w.tables, table)
	return int64(n), nil
}

func (w *fakeWriter) CopyFrom(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	w.r.log = append(w.r.log, fmt.Sprintf("copy %s %d", table, len(rows)))
	if table == w.r.failCopy {
		return 0, errors.New("copy refused")
	}
	w.tables[table] = append(w.tables[table], rows...)
	return int64(len(rows)), nil
}

type fakeTx struct{ fakeWriter }

func (t *fakeTx) Lock(_ context.Context, key string) error {
	t.r.log = append(t.r.log, "lock "+key)
	return nil
}

func (f *fakeRepo) Exec(ctx context.Context, sql string, args ...any) error {
	return (&fakeWriter{r: f, tables: f.tables}).Exec(ctx, sql, args...)
}

func (f *fakeRepo) DeleteAll(ctx context.Context, table string) (int64, error) {
	return (&fakeWriter{r: f, tables: f.tables}).DeleteAll(ctx, table)
}

func (f *fakeRepo) CopyFrom(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	return (&fakeWriter{r: f, tables: f.tables}).CopyFrom(ctx, table, cols, rows)
}

func (f *fakeRepo) WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error {
	staged := make(map[string][][]any, len(f.tables))
	for k, v := range f.tables {
		staged[k] = append([][]any(nil), v...)
	}
	if err := fn(ctx, &fakeTx{fakeWriter{r: f, tables: staged}}); err != nil {
		f.log = append(f.log, "rollback")
		return err
	}
	f.tables = staged
	f.log = append(f.log, "commit")
	return nil
}

func (f *fakeRepo) Close() { f.closed = true }

func TestRegisterAndNew(t *testing.T) {
	t.Parallel()

	Register("fake", func(ctx context.Context, cfg Config) (Repository, error) {
		assert.Equal(t, "dw", cfg.Database)
		return newFakeRepo(), nil
	})
	repo, err := New(context.Background(), Config{Kind: "fake", Database: "dw"})
	require.NoError(t, err)
	require.NotNil(t, repo)
	repo.Close()
	assert.True(t, repo.(*fakeRepo).closed)
}

func TestNew_UnsupportedKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	assert.EqualError(t, err, "unsupported storage.kind=does-not-exist")
}

func TestRegister_OverrideAndErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	Register("override", func(context.Context, Config) (Repository, error) { calls++; return newFakeRepo(), nil })
	Register("override", func(context.Context, Config) (Repository, error) { calls += 10; return newFakeRepo(), nil })
	_, err := New(context.Background(), Config{Kind: "override"})
	require.NoError(t, err)
	assert.Equal(t, 10, calls, "only the second factory is used")

	boom := errors.New("boom")
	Register("errkind", func(context.Context, Config) (Repository, error) { return nil, boom })
	_, err = New(context.Background(), Config{Kind: "errkind"})
	assert.ErrorIs(t, err, boom)
}

func TestListKinds_Snapshot(t *testing.T) {
	t.Parallel()

	Register("snap", func(context.Context, Config) (Repository, error) { return newFakeRepo(), nil })

	a := ListKinds()
	require.NotEmpty(t, a)
	assert.True(t, sort.StringsAreSorted(a))
	a[0] = "mutated"
	assert.False(t, reflect.DeepEqual(a, ListKinds()), "want snapshot copy")
}

func TestEnsureTables(t *testing.T) {
	t.Parallel()

	RegisterDDL("fake-ddl", ddl.Dialect{QuoteIdent: ddl.QuoteDoubled(`"`, `"`)})
	repo := newFakeRepo()
	err := EnsureTables(context.Background(), "fake-ddl", repo, []ddl.TableDef{
		{FQN: "a", Columns: []ddl.ColumnDef{{Name: "id", SQLType: "TEXT"}}},
		{FQN: "b", Columns: []ddl.ColumnDef{{Name: "id", SQLType: "TEXT", Nullable: true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"exec CREATE TABLE IF NOT EXISTS \"a\" (\n  \"id\" TEXT NOT NULL\n);",
		"exec CREATE TABLE IF NOT EXISTS \"b\" (\n  \"id\" TEXT\n);",
	}, repo.log)

	err = EnsureTables(context.Background(), "fake-ddl", repo, []ddl.TableDef{{FQN: "c"}})
	assert.ErrorContains(t, err, "render c")

	err = EnsureTables(context.Background(), "no-such-kind", repo, nil)
	assert.ErrorContains(t, err, `no DDL dialect registered for storage.kind="no-such-kind"`)
}

func TestLockID_IsStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LockID("strike_off_objections"), LockID("strike_off_objections"))
	assert.NotEqual(t, LockID("a"), LockID("b"))
}
