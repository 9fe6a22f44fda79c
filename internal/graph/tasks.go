package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/google/uuid"
)

// CreateTaskInput bundles create_task's arguments (spec.md §4.3).
type CreateTaskInput struct {
	Title        string
	Description  string
	ParentTaskID string
	Priority     string
	DependsOn    []string
	CreatedBy    string
	Override     bool // ALLOW_RAG_OVERRIDE escape hatch (spec.md §4.7)
}

// DuplicateWarning is returned alongside an error when the RAG
// task-placement hook (spec.md §4.7) finds a likely duplicate.
type DuplicateWarning struct {
	Similarity float64
	TaskID     string
}

func (d *DuplicateWarning) Error() string {
	return fmt.Sprintf("likely duplicate of %s (similarity %.2f)", d.TaskID, d.Similarity)
}

// CreateTask validates and inserts a new task, per spec.md §4.3.
func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (string, error) {
	if in.Title == "" {
		return "", fmt.Errorf("%w: title is required", apperrors.ErrBadRequest)
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}

	e.mu.RLock()
	var parent *Task
	if in.ParentTaskID != "" {
		p, ok := e.tasks[in.ParentTaskID]
		if !ok {
			e.mu.RUnlock()
			return "", fmt.Errorf("%w: parent task %s", apperrors.ErrNotFound, in.ParentTaskID)
		}
		if p.Status == StatusCancelled {
			e.mu.RUnlock()
			return "", fmt.Errorf("%w: parent task %s is cancelled", apperrors.ErrConflict, in.ParentTaskID)
		}
		if p.IsPhase() && p.Status == StatusCompleted {
			e.mu.RUnlock()
			return "", fmt.Errorf("%w: phase %s is closed", apperrors.ErrPhaseClosed, in.ParentTaskID)
		}
		if p.IsPhase() {
			if err := e.checkLinearProgressionLocked(p.TaskID); err != nil {
				e.mu.RUnlock()
				return "", err
			}
		}
		cp := *p
		parent = &cp
	}

	for _, dep := range in.DependsOn {
		if _, ok := e.tasks[dep]; !ok {
			e.mu.RUnlock()
			return "", fmt.Errorf("%w: dependency %s", apperrors.ErrNotFound, dep)
		}
	}
	taskID := "task_" + uuid.NewString()
	if wouldCreateCycle(e.tasks, taskID, in.DependsOn) {
		e.mu.RUnlock()
		return "", fmt.Errorf("%w: dependency list introduces a cycle", apperrors.ErrConflict)
	}
	e.mu.RUnlock()

	if e.enableTaskPlacementRAG && e.duplicates != nil {
		if similarity, matchID, ok := e.duplicates.CheckDuplicate(ctx, in.Title, in.Description); ok && similarity > e.duplicationThreshold {
			if !(in.Override && e.allowRAGOverride) {
				return "", fmt.Errorf("%w: %v", apperrors.ErrConflict, &DuplicateWarning{Similarity: similarity, TaskID: matchID})
			}
		}
	}

	now := nowRFC3339()
	t := &Task{
		TaskID:         taskID,
		Title:          in.Title,
		Description:    in.Description,
		Status:         StatusPending,
		Priority:       in.Priority,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		ParentTask:     in.ParentTaskID,
		ChildTasks:     []string{},
		DependsOnTasks: append([]string(nil), in.DependsOn...),
		Notes: []Note{{
			At:      now,
			By:      in.CreatedBy,
			Content: "task created",
		}},
	}

	err := e.st.Tx(ctx, func(tx *sql.Tx) error {
		if err := persistTaskInsert(ctx, tx, t); err != nil {
			return err
		}
		if parent != nil {
			parent.ChildTasks = append(parent.ChildTasks, taskID)
			parent.UpdatedAt = now
			if err := persistTaskUpdate(ctx, tx, parent); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: inserting task: %v", apperrors.ErrInternal, err)
	}

	e.mu.Lock()
	e.tasks[taskID] = t
	if parent != nil {
		e.tasks[parent.TaskID] = parent
	}
	e.mu.Unlock()

	if parent != nil && parent.IsWorkstream() {
		e.recomputeAncestors(ctx, parent.TaskID)
	}

	logging.Graph("created task %s under parent=%q", taskID, in.ParentTaskID)
	return taskID, nil
}

// checkLinearProgressionLocked verifies every canonical phase before
// phaseID is completed (spec.md §4.3's linear-progression invariant).
// Caller must hold e.mu (read or write).
func (e *Engine) checkLinearProgressionLocked(phaseID string) error {
	idx := -1
	for i, p := range canonicalPhaseOrder {
		if p == phaseID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return nil
	}
	for _, prior := range canonicalPhaseOrder[:idx] {
		p, ok := e.tasks[prior]
		if !ok || p.Status != StatusCompleted {
			return fmt.Errorf("%w: phase %s precedes an incomplete %s", apperrors.ErrConflict, phaseID, prior)
		}
	}
	return nil
}

// AssignTask assigns task_id to an agent. Admin-only authorization is
// enforced one layer up by dispatch.Tool.RequiresAdmin.
func (e *Engine) AssignTask(ctx context.Context, agentID, taskID string) error {
	if e.agents != nil {
		status, ok := e.agents.AgentStatus(agentID)
		if !ok {
			return fmt.Errorf("%w: agent %s", apperrors.ErrNotFound, agentID)
		}
		if status == "terminated" {
			return fmt.Errorf("%w: agent %s is terminated", apperrors.ErrConflict, agentID)
		}
	}

	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}
	for _, ancestor := range e.ancestorChainLocked(taskID) {
		if ancestor.Status == StatusCancelled {
			e.mu.Unlock()
			return fmt.Errorf("%w: ancestor %s is cancelled", apperrors.ErrConflict, ancestor.TaskID)
		}
	}

	cp := *t
	cp.AssignedTo = agentID
	cp.UpdatedAt = nowRFC3339()

	if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskUpdate(ctx, tx, &cp) }); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: assigning task: %v", apperrors.ErrInternal, err)
	}
	e.tasks[taskID] = &cp
	e.mu.Unlock()

	logging.Graph("assigned task %s to agent %s", taskID, agentID)
	return nil
}

// UpdateTaskStatusInput bundles update_task_status's arguments.
type UpdateTaskStatusInput struct {
	TaskID    string
	NewStatus string
	Note      string
	Actor     string
	Force     bool // admin-only escape hatch from DependencyNotMet (spec.md §4.3)
}

// UpdateTaskStatus transitions a task's status per the state machine,
// enforcing the dependency-readiness check and recomputing rollups for
// every ancestor Workstream/Phase on a terminal transition.
func (e *Engine) UpdateTaskStatus(ctx context.Context, in UpdateTaskStatusInput) error {
	e.mu.Lock()
	t, ok := e.tasks[in.TaskID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: task %s", apperrors.ErrNotFound, in.TaskID)
	}
	if !transitionAllowed(t.Status, in.NewStatus) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s not permitted", apperrors.ErrConflict, t.Status, in.NewStatus)
	}
	if in.NewStatus == StatusInProgress && !in.Force {
		for _, dep := range t.DependsOnTasks {
			d, ok := e.tasks[dep]
			if !ok || d.Status != StatusCompleted {
				e.mu.Unlock()
				return fmt.Errorf("%w: dependency %s not completed", apperrors.ErrDependencyNotMet, dep)
			}
		}
	}

	cp := *t
	cp.Notes = append([]Note(nil), t.Notes...)
	cp.Status = in.NewStatus
	cp.UpdatedAt = nowRFC3339()
	if in.Note != "" {
		cp.Notes = append(cp.Notes, Note{At: cp.UpdatedAt, By: in.Actor, Content: in.Note})
	}
	cp.Notes = append(cp.Notes, Note{At: cp.UpdatedAt, By: in.Actor, Content: fmt.Sprintf("status -> %s", in.NewStatus)})

	if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskUpdate(ctx, tx, &cp) }); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: updating task status: %v", apperrors.ErrInternal, err)
	}
	e.tasks[in.TaskID] = &cp
	parentID := cp.ParentTask
	e.mu.Unlock()

	logging.Graph("task %s status %s -> %s", in.TaskID, t.Status, in.NewStatus)

	if isTerminal(in.NewStatus) && parentID != "" {
		e.recomputeAncestors(ctx, parentID)
	}
	return nil
}

// AddTaskNote appends a note to a task. Append-only: never rewrites
// existing entries (spec.md §4.3, and the monotone-notes-length invariant
// in spec.md §8).
func (e *Engine) AddTaskNote(ctx context.Context, taskID, actor, content string) error {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: task %s", apperrors.ErrNotFound, taskID)
	}

	cp := *t
	cp.Notes = append(append([]Note(nil), t.Notes...), Note{At: nowRFC3339(), By: actor, Content: content})
	cp.UpdatedAt = cp.Notes[len(cp.Notes)-1].At

	if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskUpdate(ctx, tx, &cp) }); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: adding note: %v", apperrors.ErrInternal, err)
	}
	e.tasks[taskID] = &cp
	e.mu.Unlock()
	return nil
}

// ViewFilter restricts view_tasks results (spec.md §4.3).
type ViewFilter struct {
	Status        string
	AssignedTo    string
	AncestorPhase string
	ParentTask    string
}

// ViewTasks returns a filtered, stable-ordered snapshot of the mirror.
func (e *Engine) ViewTasks(filter ViewFilter) []*Task {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Task
	for id, t := range e.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && t.AssignedTo != filter.AssignedTo {
			continue
		}
		if filter.ParentTask != "" && t.ParentTask != filter.ParentTask {
			continue
		}
		if filter.AncestorPhase != "" && !e.hasAncestorPhaseLocked(id, filter.AncestorPhase) {
			continue
		}
		cp, _ := e.getLocked(id)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (e *Engine) hasAncestorPhaseLocked(taskID, phaseID string) bool {
	for _, t := range e.ancestorChainLocked(taskID) {
		if t.TaskID == phaseID {
			return true
		}
	}
	return false
}
