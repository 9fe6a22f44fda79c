package migration

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// Gate is the seam to C8's migration-in-progress flag (dispatch.MigrationGate
// satisfies the read side; Runner needs to flip it too).
type Gate interface {
	SetMigrationInProgress(bool)
}

// Prompter abstracts the interactive confirm step (spec.md §4.2 step 4) so
// tests can supply a canned answer instead of a real terminal.
type Prompter interface {
	Confirm(banner string) bool
}

// TerminalPrompter prints a labeled banner and reads a yes/no answer from
// stdin, grounded on agent_mcp/core/startup_migration.py's console-driven
// startup flow (which prints status before acting, though it does not itself
// block on a y/n — that confirm loop is this spec's supplemented feature).
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p TerminalPrompter) Confirm(banner string) bool {
	in, out := p.In, p.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, banner)
	fmt.Fprint(out, "Proceed with migration? [y/N]: ")

	reader := bufio.NewReader(in)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// Result summarizes one CheckAndMigrate run.
type Result struct {
	FromVersion   string
	ToVersion     string
	AppliedCount  int
	BackupPath    string
	Skipped       bool
	Success       bool
}

// Runner drives the operation order in spec.md §4.2.
type Runner struct {
	ProjectDir string
	Reorg      Reorganizer
	Gate       Gate
	Prompter   Prompter
}

// Options bundles the §4.2 configuration knobs relevant to a single run.
type Options struct {
	AutoMigrate         bool
	AutoBackup          bool
	Interactive         bool
	BackupDir           string
	BackupRetentionDays int
	LockTimeout         time.Duration
	LockStale           time.Duration
	Reorganize          ReorganizeOptions
}

// CheckAndMigrate runs the full §4.2 operation order against db.
func (r *Runner) CheckAndMigrate(ctx context.Context, db *sql.DB, opts Options) (*Result, error) {
	if !opts.AutoMigrate {
		logging.Migration("auto_migrate disabled, skipping migration check")
		return &Result{Skipped: true, Success: true}, nil
	}

	current := DetectVersion(db)
	pending := PendingVersions(current)
	if len(pending) == 0 {
		logging.Migration("schema at %s, no migration needed", current)
		return &Result{FromVersion: current, ToVersion: current, Skipped: true, Success: true}, nil
	}

	if r.Gate != nil {
		r.Gate.SetMigrationInProgress(true)
		defer r.Gate.SetMigrationInProgress(false)
	}

	lock := NewAdvisoryLock(r.ProjectDir)
	if err := lock.Acquire(opts.LockTimeout, opts.LockStale); err != nil {
		return nil, err
	}
	defer lock.Release()

	target := pending[len(pending)-1]
	if opts.Interactive && r.Prompter != nil {
		banner := fmt.Sprintf(
			"=== AGENT-MCP SCHEMA MIGRATION ===\nCurrent version: %s\nTarget version:  %s\nPending steps:   %s\n",
			current, target, strings.Join(pending, " -> "),
		)
		if !r.Prompter.Confirm(banner) {
			logging.Migration("migration declined interactively")
			return &Result{FromVersion: current, ToVersion: current, Success: false}, nil
		}
	}

	result := &Result{FromVersion: current, ToVersion: target}

	dbPath, _ := currentDBPath(db)
	if opts.AutoBackup && dbPath != "" {
		backupPath, err := CreateBackup(dbPath, opts.BackupDir)
		if err != nil {
			return nil, fmt.Errorf("pre-migration backup: %w", err)
		}
		result.BackupPath = backupPath
	}

	migrators := Migrators(r.Reorg, opts.Reorganize)
	byFrom := make(map[string]Migrator, len(migrators))
	for _, m := range migrators {
		byFrom[m.FromVersion] = m
	}

	applied := current
	for _, step := range pending {
		m, ok := byFrom[applied]
		if !ok || m.ToVersion != step {
			err := fmt.Errorf("%w: no migrator registered from %s to %s", apperrors.ErrMigrationFailed, applied, step)
			r.onFailure(result, dbPath, opts, err)
			return result, err
		}

		logging.Migration("applying migrator %s -> %s: %s", m.FromVersion, m.ToVersion, m.Description)
		if err := m.Apply(ctx, db); err != nil {
			wrapped := fmt.Errorf("%w: %s -> %s: %v", apperrors.ErrMigrationFailed, m.FromVersion, m.ToVersion, err)
			r.onFailure(result, dbPath, opts, wrapped)
			return result, wrapped
		}
		if err := RecordVersion(db, m.ToVersion, m.Description, time.Now().UTC().Format(time.RFC3339)); err != nil {
			wrapped := fmt.Errorf("%w: recording version %s: %v", apperrors.ErrMigrationFailed, m.ToVersion, err)
			r.onFailure(result, dbPath, opts, wrapped)
			return result, wrapped
		}

		applied = m.ToVersion
		result.AppliedCount++
		time.Sleep(500 * time.Millisecond) // release handles between steps, per spec.md §4.2 step 6
	}

	if opts.AutoBackup && opts.BackupDir != "" {
		if err := PruneBackups(opts.BackupDir, opts.BackupRetentionDays); err != nil {
			logging.MigrationWarn("backup pruning failed: %v", err)
		}
	}

	result.Success = true
	logging.Migration("migration complete: %s -> %s (%d step(s))", current, applied, result.AppliedCount)
	return result, nil
}

// onFailure leaves the failing transaction's own rollback to its caller
// (each migrator is expected to be transactional internally); this only
// logs and, in non-interactive mode, leaves the backup in place per
// spec.md §4.2 step 8.
func (r *Runner) onFailure(result *Result, dbPath string, opts Options, err error) {
	result.Success = false
	logging.MigrationError("migration failed: %v", err)
	if opts.Interactive && result.BackupPath != "" && r.Prompter != nil {
		banner := fmt.Sprintf("Migration failed: %v\nBackup available at: %s", err, result.BackupPath)
		if r.Prompter.Confirm(banner) && dbPath != "" {
			if restoreErr := RestoreBackup(dbPath, result.BackupPath); restoreErr != nil {
				logging.MigrationError("restore from backup failed: %v", restoreErr)
			}
		}
	}
}

func currentDBPath(db *sql.DB) (string, error) {
	var seq int
	var name, file string
	row := db.QueryRow("PRAGMA database_list")
	if err := row.Scan(&seq, &name, &file); err != nil {
		return "", err
	}
	return file, nil
}
