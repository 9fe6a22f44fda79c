package migration

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// CreateBackup snapshots the database file to backupDir/<base>_backup_<ts>.<ext>,
// adapted from the teacher's CreateBackup in internal/store/migrations.go
// (there a flat-file copy; here parameterized on an explicit directory per
// spec.md §6's `.agent/<store-file>_backup_YYYYMMDD_HHMMSS.<ext>` layout).
func CreateBackup(dbPath, backupDir string) (string, error) {
	timer := logging.StartTimer(logging.CategoryMigration, "CreateBackup")
	defer timer.Stop()

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	ext := filepath.Ext(dbPath)
	base := strings.TrimSuffix(filepath.Base(dbPath), ext)
	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s_backup_%s%s", base, timestamp, ext))

	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("opening source database: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return "", fmt.Errorf("copying database to backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("syncing backup to disk: %w", err)
	}

	logging.Migration("backup created: %s (%d bytes)", backupPath, n)
	return backupPath, nil
}

// RestoreBackup copies a backup file back over the live database path.
func RestoreBackup(dbPath, backupPath string) error {
	timer := logging.StartTimer(logging.CategoryMigration, "RestoreBackup")
	defer timer.Stop()

	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("opening backup file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dbPath)
	if err != nil {
		return fmt.Errorf("recreating database file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("restoring from backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("syncing restored database: %w", err)
	}

	logging.Migration("database restored from backup (%d bytes)", n)
	return nil
}

// PruneBackups removes backups older than retentionDays under backupDir
// (spec.md §4.2 step 7), matching `<base>_backup_*` naming. retentionDays<=0
// disables pruning.
func PruneBackups(backupDir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading backup directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var pruned []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), "_backup_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, entry.Name())
			if err := os.Remove(path); err == nil {
				pruned = append(pruned, entry.Name())
			}
		}
	}
	sort.Strings(pruned)
	if len(pruned) > 0 {
		logging.Migration("pruned %d backup(s) older than %d days", len(pruned), retentionDays)
	}
	return nil
}
