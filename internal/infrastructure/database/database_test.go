package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "nested", "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen_CreatesDirectoryAndFile(t *testing.T) {
	db := openTestDB(t)

	_, err := os.Stat(filepath.Dir(db.Path()))
	assert.NoError(t, err)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestClose_NilSafe(t *testing.T) {
	assert.NoError(t, (&DB{}).Close())
}

func TestMigrate_AppliesInOrderOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260102_000000_second.up.sql": {Data: []byte("INSERT INTO things (name) VALUES ('b');")},
		"20260101_000000_first.up.sql":  {Data: []byte("CREATE TABLE things (name TEXT);")},
		"README.md":                     {Data: []byte("ignored")},
	}

	require.NoError(t, db.Migrate(ctx, fsys))
	// Second run is a no-op; the insert must not be repeated.
	require.NoError(t, db.Migrate(ctx, fsys))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM things").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrate_FailureRollsBackThatMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":  {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260102_000000_bad.up.sql": {Data: []byte("CREATE TABLE broken (;")},
	}

	err := db.Migrate(ctx, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "20260102_000000")

	applied, err := db.appliedVersions(ctx)
	require.NoError(t, err)
	assert.True(t, applied["20260101_000000"])
	assert.False(t, applied["20260102_000000"])
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		wantErr bool
	}{
		{"20260301_120000_persist_values.up.sql", "20260301_120000", "persist_values", false},
		{"20260301_120000_x.up.sql", "20260301_120000", "x", false},
		{"2026_1200_x.up.sql", "", "", true},
		{"nounderscores.up.sql", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, err := parseMigrationName(tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}
