package etl

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"strikeoffetl/internal/catalog"
	"strikeoffetl/internal/config"
	"strikeoffetl/internal/mapping"
	"strikeoffetl/internal/relationalize"
	"strikeoffetl/internal/staging"
	"strikeoffetl/internal/transformer/builtin"
)

const twoObjections = `[
  {
    "_id": {"$oid": "o1"},
    "created_on": {"$date": "2020-09-13T12:26:40.000Z"},
    "created_by": {"id": "u1", "email": "ann@example.com", "full_name": "Ann", "share_identity": true},
    "company_number": "00006400",
    "status": "OPEN",
    "action_code": {"$numberLong": "3"},
    "attachments": [
      {"id": "a1", "name": "letter.pdf", "content_type": "application/pdf", "size": 2048,
       "links": {"linksMap": {"self": "/a1", "download": "/a1/download"}}},
      {"id": "a2", "name": "photo.jpg", "content_type": "image/jpeg", "size": 10}
    ],
    "links": {"linksMap": {"self": "/o1"}}
  },
  {
    "_id": "o2",
    "created_by": {"share_identity": false},
    "status": "SUBMITTED",
    "attachments": []
  }
]`

const oneObjection = `{"_id": "o3", "status": "OPEN", "attachments": [{"id": "a9", "name": "z.pdf"}]}`

// fixture writes an extract and its catalog and returns a pipeline loading
// them into a fresh SQLite file.
func fixture(tb testing.TB, extract string) (config.Pipeline, string) {
	tb.Helper()
	dir := tb.TempDir()
	writeExtract(tb, dir, extract)

	cat := "databases:\n  " + config.DefaultSourceDatabase + ":\n    tables:\n      " +
		config.DefaultSourceTable + ":\n        location: extract.json\n        format: json\n"
	require.NoError(tb, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(cat), 0o644))

	db := filepath.Join(dir, "warehouse.db")
	p := config.Pipeline{
		Source:  config.Source{Catalog: filepath.Join(dir, "catalog.yaml")},
		Storage: config.Storage{Kind: "sqlite", DSN: db, AutoCreateTable: true},
	}
	config.ApplyDefaults(&p)
	return p, db
}

func writeExtract(tb testing.TB, dir, extract string) {
	tb.Helper()
	require.NoError(tb, os.WriteFile(filepath.Join(dir, "extract.json"), []byte(extract), 0o644))
}

func run(tb testing.TB, p config.Pipeline) (Summary, error) {
	tb.Helper()
	return Run(context.Background(), p, Options{Log: zaptest.NewLogger(tb)})
}

func openDB(tb testing.TB, path string) *sql.DB {
	tb.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = db.Close() })
	return db
}

func column(tb testing.TB, db *sql.DB, query string) []string {
	tb.Helper()
	rows, err := db.Query(query)
	require.NoError(tb, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(tb, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(tb, rows.Err())
	sort.Strings(out)
	return out
}

func TestRun_TwoObjections(t *testing.T) {
	t.Parallel()

	p, path := fixture(t, twoObjections)
	sum, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Documents)
	assert.Equal(t, []string{"root", "root_attachments"}, sum.Frames)
	require.Len(t, sum.Tables, 2)
	assert.Equal(t, config.ObjectionsTable, sum.Tables[0].Table)
	assert.Equal(t, int64(2), sum.Tables[0].Inserted)
	assert.Equal(t, int64(2), sum.Tables[1].Inserted)

	db := openDB(t, path)
	assert.Equal(t, []string{"o1", "o2"}, column(t, db, `SELECT id FROM strike_off_objection`))
	assert.Equal(t, []string{"a1", "a2"}, column(t, db, `SELECT id FROM strike_off_objection_attachment`))

	var orphans int
	require.NoError(t, db.QueryRow(`
		SELECT COUNT(*) FROM strike_off_objection_attachment a
		WHERE (SELECT COUNT(*) FROM strike_off_objection o WHERE o.id = a.strike_off_objection_id) <> 1`).Scan(&orphans))
	assert.Zero(t, orphans)

	var share bool
	require.NoError(t, db.QueryRow(`SELECT created_by_share_identity FROM strike_off_objection WHERE id = 'o1'`).Scan(&share))
	assert.True(t, share)
	require.NoError(t, db.QueryRow(`SELECT created_by_share_identity FROM strike_off_objection WHERE id = 'o2'`).Scan(&share))
	assert.False(t, share)

	var code int64
	require.NoError(t, db.QueryRow(`SELECT action_code FROM strike_off_objection WHERE id = 'o1'`).Scan(&code))
	assert.Equal(t, int64(3), code)
}

func TestRun_PlaceholdersNeverReachOutput(t *testing.T) {
	t.Parallel()

	for _, placeholders := range []bool{false, true} {
		p, path := fixture(t, twoObjections)
		p.Relationalize.Placeholders = placeholders

		_, err := run(t, p)
		require.NoError(t, err, "placeholders=%v", placeholders)

		db := openDB(t, path)
		assert.Equal(t, []string{"a1", "a2"}, column(t, db, `SELECT id FROM strike_off_objection_attachment`),
			"placeholders=%v", placeholders)
	}
}

func TestRun_FullReplace(t *testing.T) {
	t.Parallel()

	for _, strategy := range []string{config.StrategyTransaction, config.StrategyPreaction} {
		p, path := fixture(t, twoObjections)
		p.Storage.Strategy = strategy

		_, err := run(t, p)
		require.NoError(t, err)
		// Same input twice: same contents.
		_, err = run(t, p)
		require.NoError(t, err)
		db := openDB(t, path)
		assert.Equal(t, []string{"o1", "o2"}, column(t, db, `SELECT id FROM strike_off_objection`), strategy)

		writeExtract(t, filepath.Dir(path), oneObjection)
		_, err = run(t, p)
		require.NoError(t, err)
		assert.Equal(t, []string{"o3"}, column(t, db, `SELECT id FROM strike_off_objection`), strategy)
		assert.Equal(t, []string{"a9"}, column(t, db, `SELECT id FROM strike_off_objection_attachment`), strategy)
	}
}

func TestRun_DropNullFields(t *testing.T) {
	t.Parallel()

	p, path := fixture(t, twoObjections)
	p.Tables[0].Prune = config.PruneDropNullFields

	_, err := run(t, p)
	require.NoError(t, err)

	db := openDB(t, path)
	cols := column(t, db, `SELECT name FROM pragma_table_info('strike_off_objection')`)
	assert.NotContains(t, cols, "reason")
	assert.NotContains(t, cols, "http_request_id")
	assert.Contains(t, cols, "status")
}

func TestRun_FailingSecondTableKeepsPriorContents(t *testing.T) {
	t.Parallel()

	p, path := fixture(t, twoObjections)
	_, err := run(t, p)
	require.NoError(t, err)

	// Rebuild the attachment table with a column the load cannot fill.
	db := openDB(t, path)
	_, err = db.Exec(`DROP TABLE strike_off_objection_attachment`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE strike_off_objection_attachment (id TEXT PRIMARY KEY, strike_off_objection_id TEXT NOT NULL, required_extra TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO strike_off_objection_attachment VALUES ('keep', 'o1', 'x')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	writeExtract(t, filepath.Dir(path), oneObjection)
	_, err = run(t, p)
	require.Error(t, err)

	db = openDB(t, path)
	assert.Equal(t, []string{"o1", "o2"}, column(t, db, `SELECT id FROM strike_off_objection`))
	assert.Equal(t, []string{"keep"}, column(t, db, `SELECT id FROM strike_off_objection_attachment`))
}

func TestRun_Staging(t *testing.T) {
	t.Parallel()

	p, _ := fixture(t, twoObjections)
	p.Relationalize.StagingPath = "file://" + filepath.ToSlash(t.TempDir())
	p.Storage.TempDir = t.TempDir()

	sum, err := Run(context.Background(), p, Options{Log: zaptest.NewLogger(t), RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", filepath.Base(sum.StagingDir))

	require.NoError(t, staging.Verify(sum.StagingDir))
	m, err := staging.ReadManifest(sum.StagingDir)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)

	m, err = staging.ReadManifest(sum.TempDir)
	require.NoError(t, err)
	names := []string{m.Entries[0].Name, m.Entries[1].Name}
	assert.ElementsMatch(t, []string{config.ObjectionsTable, config.AttachmentsTable}, names)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate func(*config.Pipeline)
		is     error
		msg    string
	}{
		"unknown dataset": {
			mutate: func(p *config.Pipeline) { p.Source.Table = "nope" },
			is:     catalog.ErrNotFound,
		},
		"unknown frame": {
			mutate: func(p *config.Pipeline) { p.Tables[1].Frame = "attachments" },
			is:     relationalize.ErrUnknownFrame,
		},
		"bad mapping": {
			mutate: func(p *config.Pipeline) { p.Tables[0].Mapping = "no_such_mapping" },
			msg:    "not a builtin",
		},
		"unmapped key": {
			mutate: func(p *config.Pipeline) { p.Tables[0].KeyColumns = []string{"nope"} },
			msg:    `key column "nope" is not mapped`,
		},
		"unknown storage kind": {
			mutate: func(p *config.Pipeline) { p.Storage.Kind = "oracle" },
			msg:    "unsupported storage.kind=oracle",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, _ := fixture(t, twoObjections)
			tt.mutate(&p)
			_, err := run(t, p)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.msg != "" {
				assert.ErrorContains(t, err, tt.msg)
			}
		})
	}
}

func TestRun_DuplicateObjectionIDs(t *testing.T) {
	t.Parallel()

	p, path := fixture(t, `{"_id": "o1", "status": "OPEN"} {"_id": "o1", "status": "CLOSED"}`)
	_, err := run(t, p)
	assert.ErrorIs(t, err, builtin.ErrDuplicateKey)

	p.Tables[0].Duplicates = "keep-last"
	_, err = run(t, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"CLOSED"}, column(t, openDB(t, path), `SELECT status FROM strike_off_objection`))
}

func TestRun_NoAttachmentsAnywhere(t *testing.T) {
	t.Parallel()

	p, path := fixture(t, twoObjections)
	_, err := run(t, p)
	require.NoError(t, err)

	writeExtract(t, filepath.Dir(path), `[{"_id": "o5", "status": "OPEN"}]`)
	sum, err := run(t, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, sum.Frames)
	assert.Equal(t, int64(0), sum.Tables[1].Inserted)

	db := openDB(t, path)
	assert.Equal(t, []string{"o5"}, column(t, db, `SELECT id FROM strike_off_objection`))
	assert.Empty(t, column(t, db, `SELECT id FROM strike_off_objection_attachment`))
}

func TestRun_CoerceFailure(t *testing.T) {
	t.Parallel()

	p, _ := fixture(t, `[{"_id": "o1", "action_code": "twelve"}]`)
	_, err := run(t, p)
	assert.ErrorIs(t, err, mapping.ErrCoerce)
}
