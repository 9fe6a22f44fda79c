package migration

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRawTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDetectVersionDefaultsTo1_0_0(t *testing.T) {
	db := newRawTestDB(t)
	_, err := db.Exec("CREATE TABLE tasks(task_id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	assert.Equal(t, V1_0_0, DetectVersion(db))
}

func TestDetectVersionInfersFrom1_1_0Column(t *testing.T) {
	db := newRawTestDB(t)
	_, err := db.Exec("CREATE TABLE tasks(task_id TEXT PRIMARY KEY, code_context TEXT)")
	require.NoError(t, err)

	assert.Equal(t, V1_1_0, DetectVersion(db))
}

func TestDetectVersionInfersFrom2_0_0PhaseTask(t *testing.T) {
	db := newRawTestDB(t)
	_, err := db.Exec("CREATE TABLE tasks(task_id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO tasks(task_id) VALUES ('phase_1_foundation')")
	require.NoError(t, err)

	assert.Equal(t, V2_0_0, DetectVersion(db))
}

func TestDetectVersionPrefersSchemaMigrationsTable(t *testing.T) {
	db := newRawTestDB(t)
	_, err := db.Exec("CREATE TABLE tasks(task_id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE schema_migrations(version TEXT PRIMARY KEY, applied_at TEXT, description TEXT)")
	require.NoError(t, err)
	require.NoError(t, RecordVersion(db, V1_1_0, "seed", "2026-01-01T00:00:00Z"))

	assert.Equal(t, V1_1_0, DetectVersion(db))
}

func TestPendingVersions(t *testing.T) {
	assert.Equal(t, []string{V1_1_0, V2_0_0}, PendingVersions(V1_0_0))
	assert.Equal(t, []string{V2_0_0}, PendingVersions(V1_1_0))
	assert.Empty(t, PendingVersions(V2_0_0))
	assert.Equal(t, orderedVersions, PendingVersions("9.9.9"))
}

func TestColumnExistsAndTableExists(t *testing.T) {
	db := newRawTestDB(t)
	_, err := db.Exec("CREATE TABLE tasks(task_id TEXT PRIMARY KEY, code_context TEXT)")
	require.NoError(t, err)

	assert.True(t, tableExists(db, "tasks"))
	assert.False(t, tableExists(db, "nope"))
	assert.True(t, columnExists(db, "tasks", "code_context"))
	assert.False(t, columnExists(db, "tasks", "missing_col"))
}
