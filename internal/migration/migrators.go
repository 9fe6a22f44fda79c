package migration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// Reorganizer is the seam to C4 (internal/reorganizer), kept as an interface
// so migration doesn't need a concrete dependency to be testable — the same
// explicit-runtime-handle pattern dispatch.MigrationGate uses.
type Reorganizer interface {
	Reorganize(ctx context.Context, db *sql.DB, opts ReorganizeOptions) error
}

// ReorganizeOptions carries the §4.2 configuration knobs C4 needs.
type ReorganizeOptions struct {
	PreserveHierarchies    bool
	ConsolidateWorkstreams bool
	MinTasksPerWorkstream  int
	MaxWorkstreamsPerPhase int
}

// Migrator applies one version step.
type Migrator struct {
	FromVersion string
	ToVersion   string
	Description string
	Apply       func(ctx context.Context, db *sql.DB) error
}

// Migrators returns the fixed, ordered list of version-step migrators. The
// 1.1.0→2.0.0 step delegates to reorg (may be nil if only 1.0.0→1.1.0 is
// pending — callers must supply a non-nil Reorganizer when that step is
// in the pending set).
func Migrators(reorg Reorganizer, opts ReorganizeOptions) []Migrator {
	return []Migrator{
		{
			FromVersion: V1_0_0,
			ToVersion:   V1_1_0,
			Description: "add code-support columns to tasks",
			Apply:       migrateAddCodeSupportColumns,
		},
		{
			FromVersion: V1_1_0,
			ToVersion:   V2_0_0,
			Description: "construct phase/workstream hierarchy via graph reorganizer",
			Apply: func(ctx context.Context, db *sql.DB) error {
				if reorg == nil {
					return fmt.Errorf("migrating to 2.0.0 requires a graph reorganizer")
				}
				return reorg.Reorganize(ctx, db, opts)
			},
		},
	}
}

// migrateAddCodeSupportColumns is §4.2.1: additive, idempotent column
// addition. Adapted from the teacher's pendingMigrations/RunMigrations
// skip-if-exists pattern in internal/store/migrations.go.
func migrateAddCodeSupportColumns(ctx context.Context, db *sql.DB) error {
	columns := []struct{ name, def string }{
		{"code_context", "TEXT"},
		{"code_language", "TEXT"},
		{"affected_files", "TEXT DEFAULT '[]'"},
	}

	for _, col := range columns {
		if columnExists(db, "tasks", col.name) {
			logging.MigrationDebug("column tasks.%s already present, skipping", col.name)
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE tasks ADD COLUMN %s %s", col.name, col.def)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column tasks.%s: %w", col.name, err)
		}
		logging.Migration("added column tasks.%s", col.name)
	}
	return nil
}
