package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migration.conf")
	require.NoError(t, os.WriteFile(path, []byte("AUTO_MIGRATE=true\n"), 0o644))

	reloaded := make(chan string, 4)
	w, err := NewConfigWatcher(path, func(p string) error {
		reloaded <- p
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("AUTO_MIGRATE=false\n"), 0o644))

	select {
	case p := <-reloaded:
		require.Equal(t, path, p)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload after file write")
	}
}
