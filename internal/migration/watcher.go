package migration

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// ConfigReloader is called whenever the watched migration.conf file changes.
// config.Config.ApplyMigrationConfFile followed by ApplyEnvOverrides
// satisfies this, preserving the env > migration.conf > defaults precedence
// on every reload.
type ConfigReloader func(path string) error

// ConfigWatcher watches .agent/migration.conf for edits made between runs
// (an operator hand-tuning auto_migrate/interactive/backup_dir without
// restarting the daemon) and re-applies it through reload. Debounced the
// same way the teacher's MangleWatcher debounces rapid saves, since editors
// commonly emit several write events per save.
type ConfigWatcher struct {
	path    string
	reload  ConfigReloader
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewConfigWatcher builds a watcher for path, invoking reload on each
// settled change. The caller still calls reload(path) once up front; the
// watcher only covers changes after Start.
func NewConfigWatcher(path string, reload ConfigReloader) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		path:    path,
		reload:  reload,
		watcher: w,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in the background. Watching the parent directory
// rather than the file itself survives editors that replace the file via
// rename-on-save instead of writing in place.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		logging.MigrationWarn("config watcher: failed to watch %s: %v", dir, err)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *ConfigWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(300 * time.Millisecond)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.MigrationWarn("config watcher error: %v", err)
		case <-debounce.C:
			pending = false
			if err := w.reload(w.path); err != nil {
				logging.MigrationWarn("config watcher: reload of %s failed: %v", w.path, err)
				continue
			}
			logging.Migration("config watcher: reloaded %s", w.path)
		}
	}
}
