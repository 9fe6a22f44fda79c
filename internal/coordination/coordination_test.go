package coordination

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/config"
	"github.com/agent-mcp/agent-mcp/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type fakeReorganizer struct{}

func (fakeReorganizer) Reorganize(ctx context.Context, db *sql.DB, opts migration.ReorganizeOptions) error {
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Migration.Interactive = false
	cfg.Migration.BackupDir = ""
	return cfg
}

func TestStartRunsMigrationAndRebuildsMirror(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Migration.BackupDir = filepath.Join(dir, "backups")

	rt, err := Start(context.Background(), dir, cfg, "admintok", fakeReorganizer{})
	require.NoError(t, err)
	require.NotNil(t, rt)
	defer rt.Shutdown(2 * time.Second)

	assert.NotNil(t, rt.Engine)
	assert.NotNil(t, rt.Auth)
	assert.NotNil(t, rt.Registry)
	assert.False(t, rt.MigrationInProgress())
}

func TestMigrationGateToggledDuringStartup(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Migration.BackupDir = filepath.Join(dir, "backups")

	rt, err := Start(context.Background(), dir, cfg, "admintok", fakeReorganizer{})
	require.NoError(t, err)
	defer rt.Shutdown(2 * time.Second)

	// By the time Start returns, the gate must have been unset again.
	assert.False(t, rt.MigrationInProgress())

	rt.SetMigrationInProgress(true)
	assert.True(t, rt.MigrationInProgress())
}

func TestShutdownIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Migration.BackupDir = filepath.Join(dir, "backups")

	rt, err := Start(context.Background(), dir, cfg, "admintok", fakeReorganizer{})
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown(2*time.Second))
	require.NoError(t, rt.Shutdown(2*time.Second))
}

func TestStartFailsWithoutReorganizerWhenMigrationNeeded(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Migration.BackupDir = filepath.Join(dir, "backups")

	_, err := Start(context.Background(), dir, cfg, "admintok", nil)
	assert.Error(t, err)
}
