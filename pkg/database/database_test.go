package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmbeddedMigrationsApplyOnce(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())
	ctx := context.Background()

	n, err := m.RunMigrations(ctx, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	n, err = m.RunMigrations(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, table := range []string{"entities", "entity_links", "budgets", "transition_records"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestLoadMigrations(t *testing.T) {
	source := fstest.MapFS{
		"002_add_index.sql": {Data: []byte("CREATE INDEX x ON t(a);")},
		"001_create.sql":    {Data: []byte("CREATE TABLE t (a INTEGER);")},
		"README.md":         {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(source)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create", migrations[0].Name)
	assert.Equal(t, "add_index", migrations[1].Name)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{"create.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)
}

func TestFailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())
	ctx := context.Background()

	_, err := m.Run(ctx, fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (a INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE broken (;")},
	})
	require.Error(t, err)

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.True(t, applied[1])
	assert.False(t, applied[2])
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE t (a INTEGER)")
	require.NoError(t, err)

	err = db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (a) VALUES (1)"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}
