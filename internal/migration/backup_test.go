package migration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRestoreBackup(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("original-content"), 0o644))

	backupDir := filepath.Join(dir, "backups")
	backupPath, err := CreateBackup(dbPath, backupDir)
	require.NoError(t, err)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "original-content", string(data))

	require.NoError(t, os.WriteFile(dbPath, []byte("corrupted"), 0o644))
	require.NoError(t, RestoreBackup(dbPath, backupPath))

	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "original-content", string(restored))
}

func TestPruneBackupsRemovesOldOnly(t *testing.T) {
	dir := t.TempDir()

	oldPath := filepath.Join(dir, "state_backup_20200101_000000.db")
	newPath := filepath.Join(dir, "state_backup_20990101_000000.db")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))

	oldTime := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	require.NoError(t, PruneBackups(dir, 7))

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}

func TestPruneBackupsDisabledWhenRetentionIsZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state_backup_20200101_000000.db")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	oldTime := time.Now().AddDate(0, 0, -365)
	require.NoError(t, os.Chtimes(path, oldTime, oldTime))

	require.NoError(t, PruneBackups(dir, 0))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
