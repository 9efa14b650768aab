package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strikeoffetl/internal/ddl"
	"strikeoffetl/internal/storage"
)

func TestRegistrationUsesNewRepositoryHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var got Config
	boom := errors.New("no server")
	newRepository = func(_ context.Context, cfg Config) (storage.Repository, error) {
		got = cfg
		return nil, boom
	}

	_, err := storage.New(context.Background(), storage.Config{Kind: Kind, DSN: "u:p@tcp(db:3306)/a", Database: "b"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "b", got.Database)
}

func TestDriverConfig(t *testing.T) {
	t.Parallel()

	mc, err := driverConfig(Config{DSN: "u:p@tcp(db:3306)/staging?parseTime=true", Database: "warehouse"})
	require.NoError(t, err)
	assert.Equal(t, "warehouse", mc.DBName)
	assert.Equal(t, "db:3306", mc.Addr)
	assert.True(t, mc.ParseTime)

	mc, err = driverConfig(Config{DSN: "u:p@tcp(db:3306)/staging"})
	require.NoError(t, err)
	assert.Equal(t, "staging", mc.DBName)

	_, err = driverConfig(Config{DSN: "u:p@tcp(db:3306)"})
	assert.ErrorContains(t, err, "mysql dsn")
}

func TestDialect(t *testing.T) {
	t.Parallel()

	got, err := ddl.BuildCreateTableSQL(Dialect, ddl.TableDef{
		FQN: "strike_off_objection",
		Columns: []ddl.ColumnDef{
			{Name: "id", SQLType: Dialect.TypeOfKey("string"), PrimaryKey: true},
			{Name: "created_by_share_identity", SQLType: MapType("boolean"), Nullable: true},
			{Name: "created_on", SQLType: MapType("timestamp"), Nullable: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS `strike_off_objection` (\n"+
		"  `id` VARCHAR(255) NOT NULL,\n"+
		"  `created_by_share_identity` BOOLEAN,\n"+
		"  `created_on` DATETIME(6),\n"+
		"  PRIMARY KEY (`id`)\n);", got)
}
