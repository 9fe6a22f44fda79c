// Package migration implements the schema & migration runtime (C2):
// version detection, ordered migrators, cross-process exclusion, and
// backup/restore, per spec.md §4.2.
package migration

import (
	"database/sql"

	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// Known schema versions, in their total order (spec.md §4.2).
const (
	V1_0_0 = "1.0.0"
	V1_1_0 = "1.1.0"
	V2_0_0 = "2.0.0"

	CurrentVersion = V2_0_0
)

// orderedVersions is the total order pending-set computation walks.
var orderedVersions = []string{V1_0_0, V1_1_0, V2_0_0}

// DetectVersion reports the current schema version: the latest row in
// schema_migrations if any exist, otherwise legacy heuristics (spec.md §4.2):
// a phase_* task implies 2.0.0, the code-support column implies 1.1.0,
// otherwise 1.0.0.
func DetectVersion(db *sql.DB) string {
	if v, ok := latestAppliedVersion(db); ok {
		logging.MigrationDebug("version from schema_migrations: %s", v)
		return v
	}

	if hasPhaseTask(db) {
		logging.MigrationDebug("inferred version 2.0.0 (phase_* task present)")
		return V2_0_0
	}
	if columnExists(db, "tasks", "code_context") {
		logging.MigrationDebug("inferred version 1.1.0 (code-support column present)")
		return V1_1_0
	}
	logging.MigrationDebug("inferred version 1.0.0 (no markers found)")
	return V1_0_0
}

// PendingVersions returns every known version strictly greater than current,
// in ascending order.
func PendingVersions(current string) []string {
	idx := -1
	for i, v := range orderedVersions {
		if v == current {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Unknown current version: treat as needing everything.
		return append([]string(nil), orderedVersions...)
	}
	return append([]string(nil), orderedVersions[idx+1:]...)
}

func latestAppliedVersion(db *sql.DB) (string, bool) {
	if !tableExists(db, "schema_migrations") {
		return "", false
	}
	var version string
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY applied_at DESC, rowid DESC LIMIT 1").Scan(&version)
	if err != nil {
		return "", false
	}
	return version, true
}

func hasPhaseTask(db *sql.DB) bool {
	if !tableExists(db, "tasks") {
		return false
	}
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM tasks WHERE task_id LIKE 'phase_%'").Scan(&count)
	return err == nil && count > 0
}

// RecordVersion appends a schema_migrations row. Append-only, per spec.md §3.
func RecordVersion(db *sql.DB, version, description string, appliedAt string) error {
	_, err := db.Exec(
		"INSERT INTO schema_migrations(version, applied_at, description) VALUES (?, ?, ?)",
		version, appliedAt, description,
	)
	return err
}

// tableExists and columnExists are adapted from the teacher's
// internal/store/migrations.go helpers of the same name.
func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
