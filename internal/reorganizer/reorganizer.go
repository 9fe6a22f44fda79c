package reorganizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/agent-mcp/agent-mcp/internal/migration"
)

// Reorganizer implements migration.Reorganizer: it runs the five-step
// pipeline spec.md §4.4 names (analyze, map, categorize, cluster into
// workstreams, apply), applying the result in one transaction it opens on
// the *sql.DB the migrator passes in.
type Reorganizer struct{}

// New returns a ready Reorganizer. It carries no state between calls.
func New() *Reorganizer {
	return &Reorganizer{}
}

// Reorganize implements migration.Reorganizer.
func (r *Reorganizer) Reorganize(ctx context.Context, db *sql.DB, opts migration.ReorganizeOptions) error {
	tasks, err := loadRawTasks(ctx, db)
	if err != nil {
		return fmt.Errorf("loading tasks for reorganization: %w", err)
	}
	logging.Migration("reorganizer: analyzing %d existing task(s)", len(tasks))

	analyzer := newRelationshipAnalyzer(tasks)
	clusters := analyzer.buildClusters()
	for _, c := range clusters {
		analyzer.annotate(c)
	}
	logging.Migration("reorganizer: built %d cluster(s) from %d root task(s)", len(clusters), len(analyzer.rootTasks()))

	byPhase := assignClustersToPhases(clusters, opts.PreserveHierarchies)

	type resolvedWorkstream struct {
		phaseID    string
		key        string
		title      string
		clusterIDs []string
		taskCount  int
	}
	var workstreams []resolvedWorkstream
	phaseIDs := make([]string, 0, len(byPhase))
	for phaseID := range byPhase {
		phaseIDs = append(phaseIDs, phaseID)
	}
	sort.Strings(phaseIDs)

	for _, phaseID := range phaseIDs {
		groups := byPhase[phaseID]
		consolidated := groups
		if opts.ConsolidateWorkstreams {
			consolidated = consolidateGroups(groups, opts.MinTasksPerWorkstream, opts.MaxWorkstreamsPerPhase)
		}
		keys := make([]string, 0, len(consolidated))
		for k := range consolidated {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			g := consolidated[key]
			workstreams = append(workstreams, resolvedWorkstream{
				phaseID:    phaseID,
				key:        g.key,
				title:      workstreamTitle(g.key),
				clusterIDs: g.clusterIDs,
				taskCount:  g.totalTasks,
			})
		}
	}

	clusterByID := make(map[string]*cluster, len(clusters))
	for _, c := range clusters {
		clusterByID[c.id] = c
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reorganization transaction: %w", err)
	}
	defer tx.Rollback()

	neededPhases := make(map[string]bool)
	for _, ws := range workstreams {
		neededPhases[ws.phaseID] = true
	}
	for _, phaseID := range sortedKeys(neededPhases) {
		if err := ensurePhase(ctx, tx, phaseID); err != nil {
			return fmt.Errorf("creating phase %s: %w", phaseID, err)
		}
	}

	allIDs := make(map[string]bool, len(tasks))
	for id := range tasks {
		allIDs[id] = true
	}

	assigned := make(map[string]bool)
	for _, ws := range workstreams {
		workstreamID := "root_" + ws.phaseID + "_" + ws.key

		var taskIDs []string
		for _, cid := range ws.clusterIDs {
			taskIDs = append(taskIDs, clusterByID[cid].taskIDs...)
		}
		sort.Strings(taskIDs)

		// Only a cluster member whose parent is null, a synthetic phase/
		// workstream node, or missing from the pre-migration task set gets
		// repointed to the workstream. Everything else keeps its existing
		// parent, preserving nested hierarchies inside the cluster — its
		// topmost preserved ancestor is what ends up a direct child of the
		// workstream.
		var topLevelIDs []string
		for _, taskID := range taskIDs {
			if shouldReparentToWorkstream(tasks[taskID], allIDs) {
				topLevelIDs = append(topLevelIDs, taskID)
			}
		}

		if err := createWorkstream(ctx, tx, workstreamID, ws.phaseID, ws.title, topLevelIDs, len(taskIDs)); err != nil {
			return fmt.Errorf("creating workstream %s: %w", workstreamID, err)
		}

		for _, taskID := range taskIDs {
			reparent := shouldReparentToWorkstream(tasks[taskID], allIDs)
			if err := migrateTask(ctx, tx, tasks[taskID], workstreamID, reparent); err != nil {
				return fmt.Errorf("migrating task %s: %w", taskID, err)
			}
			assigned[taskID] = true
		}
	}

	for id, t := range tasks {
		if t.isPhaseOrWorkstream() || assigned[id] {
			continue
		}
		logging.MigrationWarn("reorganizer: task %s not covered by any cluster, leaving unparented", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reorganization: %w", err)
	}
	logging.Migration("reorganizer: committed %d workstream(s) across %d phase(s)", len(workstreams), len(neededPhases))
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func loadRawTasks(ctx context.Context, db *sql.DB) (map[string]*rawTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT task_id, title, description, status, priority,
		COALESCE(assigned_to, ''), COALESCE(created_by, ''), created_at,
		COALESCE(parent_task, ''), child_tasks, depends_on_tasks, notes FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*rawTask)
	for rows.Next() {
		var t rawTask
		var childTasksRaw, dependsOnRaw string
		if err := rows.Scan(&t.TaskID, &t.Title, &t.Description, &t.Status, &t.Priority,
			&t.AssignedTo, &t.CreatedBy, &t.CreatedAt, &t.ParentTask, &childTasksRaw, &dependsOnRaw, &t.Notes); err != nil {
			return nil, err
		}
		t.ChildTasks = decodeStringSlice(childTasksRaw)
		t.DependsOn = decodeStringSlice(dependsOnRaw)
		out[t.TaskID] = &t
	}
	return out, rows.Err()
}

func ensurePhase(ctx context.Context, tx *sql.Tx, phaseID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE task_id = ?", phaseID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	def := phaseDefByID(phaseID)
	now := nowRFC3339()
	if _, err = tx.ExecContext(ctx, `INSERT INTO tasks
		(task_id, title, description, status, priority, assigned_to, created_by, created_at, updated_at,
		 parent_task, child_tasks, depends_on_tasks, notes)
		VALUES (?, ?, ?, 'pending', 'high', NULL, 'reorganizer', ?, ?, NULL, '[]', '[]', ?)`,
		phaseID, def.Name, def.Description, now, now,
		encodeStringSlice(nil)); err != nil {
		return err
	}
	return appendNote(ctx, tx, phaseID, "reorganizer", "phase synthesized by reorganization")
}

func phaseDefByID(id string) phaseDefinition {
	for _, def := range phaseDefinitions {
		if def.ID == id {
			return def
		}
	}
	return phaseDefinition{ID: id, Name: id, Description: ""}
}

// createWorkstream inserts (or, on re-run, updates) the workstream row.
// childTaskIDs is the topmost-preserved-ancestor set, not every task in the
// cluster — nested descendants keep pointing at their existing parent.
// clusterSize is the full cluster task count, recorded in the creation note.
func createWorkstream(ctx context.Context, tx *sql.Tx, workstreamID, phaseID, title string, childTaskIDs []string, clusterSize int) error {
	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE task_id = ?", workstreamID).Scan(&exists); err != nil {
		return err
	}
	now := nowRFC3339()
	if exists == 0 {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks
			(task_id, title, description, status, priority, assigned_to, created_by, created_at, updated_at,
			 parent_task, child_tasks, depends_on_tasks, notes)
			VALUES (?, ?, '', 'pending', 'medium', NULL, 'reorganizer', ?, ?, ?, ?, '[]', '[]')`,
			workstreamID, title, now, now, phaseID, encodeStringSlice(childTaskIDs))
		if err != nil {
			return err
		}
		if clusterSize > 0 {
			note := fmt.Sprintf("workstream created during reorganization, grouping %d task(s)", clusterSize)
			if err := appendNote(ctx, tx, workstreamID, "reorganizer", note); err != nil {
				return err
			}
		}
	} else {
		_, err := tx.ExecContext(ctx, "UPDATE tasks SET child_tasks = ?, updated_at = ? WHERE task_id = ?",
			encodeStringSlice(childTaskIDs), now, workstreamID)
		if err != nil {
			return err
		}
	}

	return appendChild(ctx, tx, phaseID, workstreamID)
}

func appendChild(ctx context.Context, tx *sql.Tx, parentID, childID string) error {
	var childTasksRaw string
	if err := tx.QueryRowContext(ctx, "SELECT child_tasks FROM tasks WHERE task_id = ?", parentID).Scan(&childTasksRaw); err != nil {
		return err
	}
	children := decodeStringSlice(childTasksRaw)
	for _, c := range children {
		if c == childID {
			return nil
		}
	}
	children = append(children, childID)
	_, err := tx.ExecContext(ctx, "UPDATE tasks SET child_tasks = ? WHERE task_id = ?", encodeStringSlice(children), parentID)
	return err
}

// shouldReparentToWorkstream implements spec.md §4.4 Step 5's guard
// (ground truth: original_source/agent_mcp/core/granular_migration.py's
// _migrate_task should_update_parent): a task only gets repointed at the
// workstream if its current parent is null, a synthetic phase/workstream
// node, or no longer present in the pre-migration task set. Otherwise its
// parent is left alone, preserving the nested hierarchy inside the cluster.
func shouldReparentToWorkstream(t *rawTask, allIDs map[string]bool) bool {
	if t.ParentTask == "" {
		return true
	}
	if hasPrefix(t.ParentTask, "phase_") || hasPrefix(t.ParentTask, "root_") {
		return true
	}
	return !allIDs[t.ParentTask]
}

// migrateTask repoints t at workstreamID only when reparent is true, and in
// either case appends a note recording the assignment and rationale (both
// branches of granular_migration.py's _migrate_task append a migration note).
func migrateTask(ctx context.Context, tx *sql.Tx, t *rawTask, workstreamID string, reparent bool) error {
	now := nowRFC3339()
	var note string
	if reparent {
		if _, err := tx.ExecContext(ctx, "UPDATE tasks SET parent_task = ?, updated_at = ? WHERE task_id = ?",
			workstreamID, now, t.TaskID); err != nil {
			return err
		}
		note = fmt.Sprintf("reorganization: assigned to workstream %s", workstreamID)
	} else {
		if _, err := tx.ExecContext(ctx, "UPDATE tasks SET updated_at = ? WHERE task_id = ?", now, t.TaskID); err != nil {
			return err
		}
		note = fmt.Sprintf("reorganization: existing parent preserved, nested under workstream %s", workstreamID)
	}
	return appendNote(ctx, tx, t.TaskID, "reorganizer", note)
}

// noteEntry mirrors internal/graph's Note JSON shape (at/by/content); kept
// local rather than imported to avoid a dependency from the migration-time
// reorganizer back onto the runtime graph package.
type noteEntry struct {
	At      string `json:"at"`
	By      string `json:"by"`
	Content string `json:"content"`
}

func appendNote(ctx context.Context, tx *sql.Tx, taskID, by, content string) error {
	var notesRaw string
	if err := tx.QueryRowContext(ctx, "SELECT notes FROM tasks WHERE task_id = ?", taskID).Scan(&notesRaw); err != nil {
		return err
	}
	var notes []noteEntry
	if notesRaw != "" {
		_ = json.Unmarshal([]byte(notesRaw), &notes)
	}
	notes = append(notes, noteEntry{At: nowRFC3339(), By: by, Content: content})
	encoded, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE tasks SET notes = ? WHERE task_id = ?", string(encoded), taskID)
	return err
}
