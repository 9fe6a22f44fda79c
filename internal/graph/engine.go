package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/agent-mcp/agent-mcp/internal/store"
)

// AgentLookup is the seam to C5 Auth: Engine consults it to refuse
// assigning work to a terminated agent without importing internal/auth.
type AgentLookup interface {
	AgentStatus(agentID string) (status string, ok bool)
}

// DuplicateChecker is the seam to C7 RAG: the task-placement hook in
// spec.md §4.7 surfaces a likely-duplicate task before creation.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, title, description string) (similarity float64, matchTaskID string, ok bool)
}

// Engine holds the in-memory task mirror (spec.md §9) and serializes every
// mutation through the Store, the same single-writer-many-readers
// discipline the teacher's LocalStore applies to its knowledge graph in
// internal/store/local_graph.go.
type Engine struct {
	st *store.Store

	mu    sync.RWMutex
	tasks map[string]*Task

	agents     AgentLookup
	duplicates DuplicateChecker

	enableTaskPlacementRAG bool
	allowRAGOverride       bool
	duplicationThreshold   float64
}

// Options configures optional Engine behavior.
type Options struct {
	Agents                 AgentLookup
	Duplicates             DuplicateChecker
	EnableTaskPlacementRAG bool
	AllowRAGOverride       bool
	DuplicationThreshold   float64 // default 0.8 per spec.md §4.7
}

// New constructs an Engine and rebuilds its mirror from st.
func New(ctx context.Context, st *store.Store, opts Options) (*Engine, error) {
	if opts.DuplicationThreshold == 0 {
		opts.DuplicationThreshold = 0.8
	}
	e := &Engine{
		st:                     st,
		tasks:                  make(map[string]*Task),
		agents:                 opts.Agents,
		duplicates:             opts.Duplicates,
		enableTaskPlacementRAG: opts.EnableTaskPlacementRAG,
		allowRAGOverride:       opts.AllowRAGOverride,
		duplicationThreshold:   opts.DuplicationThreshold,
	}
	if err := e.Rebuild(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Rebuild reloads the in-memory mirror from the Store (spec.md §4.8 startup
// step 4, and §9: "Rebuild fully from the Store on startup").
func (e *Engine) Rebuild(ctx context.Context) error {
	rows, err := e.st.Query(ctx, `SELECT task_id, title, description, status, priority,
		assigned_to, created_by, created_at, updated_at, parent_task,
		child_tasks, depends_on_tasks, notes FROM tasks`)
	if err != nil {
		return fmt.Errorf("rebuilding task mirror: %w", err)
	}
	defer rows.Close()

	tasks := make(map[string]*Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logging.Get(logging.CategoryGraph).Warn("skipping unreadable task row: %v", err)
			continue
		}
		tasks[t.TaskID] = t
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading task rows: %w", err)
	}

	e.mu.Lock()
	e.tasks = tasks
	e.mu.Unlock()

	logging.GraphDebug("task mirror rebuilt: %d task(s)", len(tasks))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(rows rowScanner) (*Task, error) {
	var t Task
	var assignedTo, createdBy, parentTask sql.NullString
	var childJSON, dependsJSON, notesJSON string

	if err := rows.Scan(&t.TaskID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&assignedTo, &createdBy, &t.CreatedAt, &t.UpdatedAt, &parentTask,
		&childJSON, &dependsJSON, &notesJSON); err != nil {
		return nil, err
	}
	t.AssignedTo = assignedTo.String
	t.CreatedBy = createdBy.String
	t.ParentTask = parentTask.String

	if err := json.Unmarshal([]byte(childJSON), &t.ChildTasks); err != nil {
		t.ChildTasks = nil
	}
	if err := json.Unmarshal([]byte(dependsJSON), &t.DependsOnTasks); err != nil {
		t.DependsOnTasks = nil
	}
	if err := json.Unmarshal([]byte(notesJSON), &t.Notes); err != nil {
		t.Notes = nil
	}
	return &t, nil
}

// getLocked returns a copy of the task, the caller must already hold e.mu (read
// or write lock) for consistency with other mirror reads in the same call.
func (e *Engine) getLocked(taskID string) (*Task, bool) {
	t, ok := e.tasks[taskID]
	if !ok {
		return nil, false
	}
	cp := *t
	cp.ChildTasks = append([]string(nil), t.ChildTasks...)
	cp.DependsOnTasks = append([]string(nil), t.DependsOnTasks...)
	cp.Notes = append([]Note(nil), t.Notes...)
	return &cp, true
}

// Get returns a snapshot of one task from the mirror.
func (e *Engine) Get(taskID string) (*Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getLocked(taskID)
}

// ancestorChainLocked walks parent_task links up to the root, inclusive of start.
func (e *Engine) ancestorChainLocked(start string) []*Task {
	var chain []*Task
	seen := make(map[string]bool)
	cur := start
	for cur != "" && !seen[cur] {
		seen[cur] = true
		t, ok := e.tasks[cur]
		if !ok {
			break
		}
		chain = append(chain, t)
		cur = t.ParentTask
	}
	return chain
}

func persistTaskInsert(ctx context.Context, tx *sql.Tx, t *Task) error {
	childJSON, _ := json.Marshal(t.ChildTasks)
	dependsJSON, _ := json.Marshal(t.DependsOnTasks)
	notesJSON, _ := json.Marshal(t.Notes)

	_, err := tx.ExecContext(ctx, `INSERT INTO tasks
		(task_id, title, description, status, priority, assigned_to, created_by,
		 created_at, updated_at, parent_task, child_tasks, depends_on_tasks, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Title, t.Description, t.Status, t.Priority, nullIfEmpty(t.AssignedTo),
		nullIfEmpty(t.CreatedBy), t.CreatedAt, t.UpdatedAt, nullIfEmpty(t.ParentTask),
		string(childJSON), string(dependsJSON), string(notesJSON))
	return err
}

func persistTaskUpdate(ctx context.Context, tx *sql.Tx, t *Task) error {
	childJSON, _ := json.Marshal(t.ChildTasks)
	dependsJSON, _ := json.Marshal(t.DependsOnTasks)
	notesJSON, _ := json.Marshal(t.Notes)

	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?,
		assigned_to=?, updated_at=?, parent_task=?, child_tasks=?, depends_on_tasks=?, notes=?
		WHERE task_id=?`,
		t.Title, t.Description, t.Status, t.Priority, nullIfEmpty(t.AssignedTo), t.UpdatedAt,
		nullIfEmpty(t.ParentTask), string(childJSON), string(dependsJSON), string(notesJSON),
		t.TaskID)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
