package reorganizer

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/agent-mcp/agent-mcp/internal/migration"
	"github.com/agent-mcp/agent-mcp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "state.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.DB()
}

func insertFlatTask(t *testing.T, db *sql.DB, id, title, description, status, parent string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO tasks
		(task_id, title, description, status, priority, created_by, created_at, updated_at, parent_task, child_tasks, depends_on_tasks, notes)
		VALUES (?, ?, ?, ?, 'medium', 'tester', datetime('now'), datetime('now'), ?, '[]', '[]', '[]')`,
		id, title, description, status, nullIfEmpty(parent))
	require.NoError(t, err)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func TestClassifyTaskPicksAuthKeywords(t *testing.T) {
	phase, conf := classifyTask(&rawTask{Title: "Add login page", Description: "user authentication and session handling"})
	assert.Equal(t, "phase_1_foundation", phase)
	assert.Greater(t, conf, 0.0)
}

func TestClassifyTaskDefaultsToFoundationOnLowConfidence(t *testing.T) {
	phase, conf := classifyTask(&rawTask{Title: "zzz", Description: "qqq"})
	assert.Equal(t, "phase_1_foundation", phase)
	assert.Equal(t, 0.1, conf)
}

func TestDetermineWorkstreamTypePicksAuthentication(t *testing.T) {
	tasks := []*rawTask{
		{Title: "Build login form", Description: "user session and signup flow"},
		{Title: "Add profile page", Description: "user profile editing"},
	}
	assert.Equal(t, "authentication", determineWorkstreamType(tasks))
}

func TestRelationshipAnalyzerClustersParentChildAndDeps(t *testing.T) {
	tasks := map[string]*rawTask{
		"task_a": {TaskID: "task_a", Title: "Design schema"},
		"task_b": {TaskID: "task_b", Title: "Implement schema", ParentTask: "task_a"},
		"task_c": {TaskID: "task_c", Title: "Write schema tests", DependsOn: []string{"task_b"}},
		"task_x": {TaskID: "task_x", Title: "Unrelated task"},
	}
	a := newRelationshipAnalyzer(tasks)
	clusters := a.buildClusters()

	total := 0
	for _, c := range clusters {
		total += len(c.taskIDs)
	}
	assert.Equal(t, 4, total)

	var abcCluster *cluster
	for _, c := range clusters {
		ids := map[string]bool{}
		for _, id := range c.taskIDs {
			ids[id] = true
		}
		if ids["task_a"] {
			abcCluster = c
		}
	}
	require.NotNil(t, abcCluster)
	assert.Len(t, abcCluster.taskIDs, 3)
}

func TestConsolidateGroupsMergesSmallIntoGeneral(t *testing.T) {
	groups := map[string]*workstreamGroup{
		"authentication": {key: "authentication", totalTasks: 10, clusterIDs: []string{"c1"}},
		"dashboard":       {key: "dashboard", totalTasks: 2, clusterIDs: []string{"c2"}},
		"testing":         {key: "testing", totalTasks: 1, clusterIDs: []string{"c3"}},
	}
	out := consolidateGroups(groups, 5, 7)
	assert.Contains(t, out, "authentication")
	assert.Contains(t, out, "general")
	assert.NotContains(t, out, "dashboard")
	assert.Equal(t, 3, out["general"].totalTasks)
}

func TestConsolidateGroupsCapsMaxWorkstreamsPerPhase(t *testing.T) {
	groups := make(map[string]*workstreamGroup)
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		groups[key] = &workstreamGroup{key: key, totalTasks: 10 - i, clusterIDs: []string{"c" + key}}
	}
	out := consolidateGroups(groups, 0, 3)
	assert.LessOrEqual(t, len(out), 3)
	assert.Contains(t, out, "general")
}

func TestReorganizeBuildsPhaseAndWorkstreamHierarchy(t *testing.T) {
	db := newTestDB(t)
	insertFlatTask(t, db, "task_1", "Design database schema", "core database schema and migrations", "completed", "")
	insertFlatTask(t, db, "task_2", "Implement auth login", "user authentication and session handling", "in_progress", "")
	insertFlatTask(t, db, "task_3", "Add signup page", "user signup and profile", "pending", "task_2")

	reorg := New()
	opts := migration.ReorganizeOptions{
		PreserveHierarchies:    true,
		ConsolidateWorkstreams: true,
		MinTasksPerWorkstream:  1,
		MaxWorkstreamsPerPhase: 7,
	}
	require.NoError(t, reorg.Reorganize(context.Background(), db, opts))

	var phaseCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM tasks WHERE task_id LIKE 'phase_%'").Scan(&phaseCount))
	assert.Equal(t, 1, phaseCount)

	var task1Parent string
	require.NoError(t, db.QueryRow("SELECT parent_task FROM tasks WHERE task_id = 'task_1'").Scan(&task1Parent))
	assert.Contains(t, task1Parent, "root_phase_1_foundation_")

	var task2Parent, task3Parent string
	require.NoError(t, db.QueryRow("SELECT parent_task FROM tasks WHERE task_id = 'task_2'").Scan(&task2Parent))
	require.NoError(t, db.QueryRow("SELECT parent_task FROM tasks WHERE task_id = 'task_3'").Scan(&task3Parent))
	assert.Contains(t, task2Parent, "root_phase_1_foundation_", "task_2 had no parent, so it repoints to its cluster's workstream")
	assert.Equal(t, "task_2", task3Parent, "task_3's existing parent is preserved rather than flattened to the workstream")

	var wsChildren string
	require.NoError(t, db.QueryRow("SELECT child_tasks FROM tasks WHERE task_id = ?", task2Parent).Scan(&wsChildren))
	assert.Contains(t, wsChildren, "task_2")
	assert.NotContains(t, wsChildren, "task_3", "only the topmost preserved ancestor is a direct child of the workstream")

	var task3Notes string
	require.NoError(t, db.QueryRow("SELECT notes FROM tasks WHERE task_id = 'task_3'").Scan(&task3Notes))
	assert.Contains(t, task3Notes, "existing parent preserved")

	var wsNotes string
	require.NoError(t, db.QueryRow("SELECT notes FROM tasks WHERE task_id = ?", task2Parent).Scan(&wsNotes))
	assert.Contains(t, wsNotes, "workstream created during reorganization")
}

func TestReorganizeIsIdempotentOnSecondRun(t *testing.T) {
	db := newTestDB(t)
	insertFlatTask(t, db, "task_1", "Design database schema", "core database schema", "pending", "")

	reorg := New()
	opts := migration.ReorganizeOptions{PreserveHierarchies: true, ConsolidateWorkstreams: true, MinTasksPerWorkstream: 1, MaxWorkstreamsPerPhase: 7}
	require.NoError(t, reorg.Reorganize(context.Background(), db, opts))
	require.NoError(t, reorg.Reorganize(context.Background(), db, opts))

	var phaseCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM tasks WHERE task_id = 'phase_1_foundation'").Scan(&phaseCount))
	assert.Equal(t, 1, phaseCount)
}
