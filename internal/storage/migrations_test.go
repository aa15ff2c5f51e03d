package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDatabase(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db := openRaw(t)

	require.NoError(t, ApplyMigrations(ctx, db))
	v, err := currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	// Applying again does nothing
	require.NoError(t, ApplyMigrations(ctx, db))
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestApplyMigrations_Upgrade(t *testing.T) {
	ctx := context.Background()
	db := openRaw(t)

	// A store written before the generation column existed
	for _, m := range AllMigrations[:2] {
		_, err := db.Exec(m.Up)
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, 0)", m.Version)
		require.NoError(t, err)
	}
	_, err := db.Exec(`INSERT INTO collections (name, model, dimension, created_at, updated_at) VALUES ('c', 'm', 4, 1, 1)`)
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(ctx, db))
	v, err := currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	coll, err := getCollection(ctx, db, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), coll.Generation)
	assert.Equal(t, 4, coll.Dimension)
}
