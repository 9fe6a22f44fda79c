package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrationConf(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "migration.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyMigrationConfFile(t *testing.T) {
	dir := t.TempDir()
	path := writeMigrationConf(t, dir, "# migration overrides\nauto_backup = false\nmin_tasks_per_workstream = 3\nmax_workstreams_per_phase = 9\n")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyMigrationConfFile(path))

	assert.False(t, cfg.Migration.AutoBackup)
	assert.Equal(t, 3, cfg.Migration.MinTasksPerWorkstream)
	assert.Equal(t, 9, cfg.Migration.MaxWorkstreamsPerPhase)
}

func TestApplyMigrationConfFileMissingIsNotError(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyMigrationConfFile(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	assert.NoError(t, err)
	assert.True(t, cfg.Migration.AutoMigrate)
}

func TestMigrationEnvOverridesExtended(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("AGENT_MCP_MIGRATION_AUTO_BACKUP", "false")
	t.Setenv("AGENT_MCP_MIGRATION_MAX_WORKSTREAMS_PER_PHASE", "12")
	cfg.applyEnvOverrides()

	assert.False(t, cfg.Migration.AutoBackup)
	assert.Equal(t, 12, cfg.Migration.MaxWorkstreamsPerPhase)
}
