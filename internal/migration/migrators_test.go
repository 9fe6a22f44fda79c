package migration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReorganizer struct {
	called bool
	opts   ReorganizeOptions
	err    error
}

func (f *fakeReorganizer) Reorganize(ctx context.Context, db *sql.DB, opts ReorganizeOptions) error {
	f.called = true
	f.opts = opts
	return f.err
}

func TestMigrateAddCodeSupportColumnsIsIdempotent(t *testing.T) {
	db := newRawTestDB(t)
	_, err := db.Exec("CREATE TABLE tasks(task_id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, migrateAddCodeSupportColumns(ctx, db))
	assert.True(t, columnExists(db, "tasks", "code_context"))
	assert.True(t, columnExists(db, "tasks", "code_language"))
	assert.True(t, columnExists(db, "tasks", "affected_files"))

	// second application must not error on already-present columns.
	require.NoError(t, migrateAddCodeSupportColumns(ctx, db))
}

func TestMigratorsDelegatesToReorganizer(t *testing.T) {
	reorg := &fakeReorganizer{}
	opts := ReorganizeOptions{PreserveHierarchies: true, MinTasksPerWorkstream: 5}
	migrators := Migrators(reorg, opts)

	require.Len(t, migrators, 2)
	assert.Equal(t, V1_0_0, migrators[0].FromVersion)
	assert.Equal(t, V1_1_0, migrators[0].ToVersion)
	assert.Equal(t, V1_1_0, migrators[1].FromVersion)
	assert.Equal(t, V2_0_0, migrators[1].ToVersion)

	db := newRawTestDB(t)
	require.NoError(t, migrators[1].Apply(context.Background(), db))
	assert.True(t, reorg.called)
	assert.Equal(t, opts, reorg.opts)
}

func TestMigratorsWithNilReorganizerFailsOn2_0_0Step(t *testing.T) {
	migrators := Migrators(nil, ReorganizeOptions{})
	db := newRawTestDB(t)
	err := migrators[1].Apply(context.Background(), db)
	assert.Error(t, err)
}
