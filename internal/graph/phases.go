package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/logging"
)

var phaseDisplayNames = map[string]string{
	Phase1Foundation:   "Foundation",
	Phase2Intelligence: "Intelligence",
	Phase3Coordination: "Coordination",
	Phase4Optimization: "Optimization",
}

// CreatePhase inserts one of the four canonical phase nodes, gated by the
// linear-progression invariant (spec.md §4.3).
func (e *Engine) CreatePhase(ctx context.Context, phaseType, name, description, actor string) (string, error) {
	phaseID, ok := phaseTypeAliases[phaseType]
	if !ok {
		return "", fmt.Errorf("%w: unknown phase_type %q", apperrors.ErrBadRequest, phaseType)
	}

	e.mu.RLock()
	if _, exists := e.tasks[phaseID]; exists {
		e.mu.RUnlock()
		return "", fmt.Errorf("%w: phase %s already exists", apperrors.ErrConflict, phaseID)
	}
	if err := e.checkLinearProgressionLocked(phaseID); err != nil {
		e.mu.RUnlock()
		return "", err
	}
	e.mu.RUnlock()

	if name == "" {
		name = phaseDisplayNames[phaseID]
	}
	now := nowRFC3339()
	t := &Task{
		TaskID:      phaseID,
		Title:       name,
		Description: description,
		Status:      StatusPending,
		Priority:    "phase",
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
		ChildTasks:  []string{},
		Notes:       []Note{{At: now, By: actor, Content: "phase created"}},
	}

	if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskInsert(ctx, tx, t) }); err != nil {
		return "", fmt.Errorf("%w: creating phase: %v", apperrors.ErrInternal, err)
	}

	e.mu.Lock()
	e.tasks[phaseID] = t
	e.mu.Unlock()

	logging.Graph("created phase %s", phaseID)
	return phaseID, nil
}

// PhaseStatus is view_phase_status's result shape.
type PhaseStatus struct {
	PhaseID           string
	Status            string
	Completion        float64
	CanAdvance        bool
	BlockingWorkstreams []string
	ActiveAgents      []string
}

// ViewPhaseStatus summarizes one phase, or the first non-completed
// canonical phase if phaseID is empty.
func (e *Engine) ViewPhaseStatus(phaseID string) (*PhaseStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if phaseID == "" {
		for _, p := range canonicalPhaseOrder {
			if t, ok := e.tasks[p]; ok && t.Status != StatusCompleted {
				phaseID = p
				break
			}
		}
		if phaseID == "" && len(canonicalPhaseOrder) > 0 {
			phaseID = canonicalPhaseOrder[len(canonicalPhaseOrder)-1]
		}
	}

	phase, ok := e.tasks[phaseID]
	if !ok {
		return nil, fmt.Errorf("%w: phase %s", apperrors.ErrNotFound, phaseID)
	}

	completion, canAdvance, blocking := e.rollupPhaseLocked(phase)
	agents := e.activeAgentsUnderLocked(phaseID)

	return &PhaseStatus{
		PhaseID:             phaseID,
		Status:              phase.Status,
		Completion:          completion,
		CanAdvance:          canAdvance,
		BlockingWorkstreams: blocking,
		ActiveAgents:        agents,
	}, nil
}

// rollupWorkstreamLocked implements spec.md §4.3's rollup algorithm for a
// Workstream: completion = completed/total over every non-cancelled
// descendant (not just direct children — a child may itself have nested
// subtasks, a legitimate shape once the Reorganizer preserves hierarchies),
// status completed iff all done, in_progress iff any started, else pending.
func (e *Engine) rollupWorkstreamLocked(w *Task) (completion float64, status string) {
	var total, done int
	var anyInProgress bool
	e.countDescendantsLocked(w, &total, &done, &anyInProgress)
	if total == 0 {
		return 1.0, StatusCompleted
	}
	completion = float64(done) / float64(total)
	switch {
	case done == total:
		status = StatusCompleted
	case done > 0 || anyInProgress:
		status = StatusInProgress
	default:
		status = StatusPending
	}
	return completion, status
}

// countDescendantsLocked walks the full subtree under t, tallying every
// non-cancelled descendant into total/done/anyInProgress. A cancelled task
// itself is excluded from the count but its children are still descendants
// and still walked.
func (e *Engine) countDescendantsLocked(t *Task, total, done *int, anyInProgress *bool) {
	for _, childID := range t.ChildTasks {
		child, ok := e.tasks[childID]
		if !ok {
			continue
		}
		if child.Status != StatusCancelled {
			*total++
			switch child.Status {
			case StatusCompleted:
				*done++
			case StatusInProgress:
				*anyInProgress = true
			}
		}
		e.countDescendantsLocked(child, total, done, anyInProgress)
	}
}

// rollupPhaseLocked aggregates a Phase's Workstream children.
func (e *Engine) rollupPhaseLocked(p *Task) (completion float64, canAdvance bool, blocking []string) {
	var workstreams []*Task
	for _, childID := range p.ChildTasks {
		if w, ok := e.tasks[childID]; ok && w.IsWorkstream() {
			workstreams = append(workstreams, w)
		}
	}
	if len(workstreams) == 0 {
		return 1.0, true, nil
	}

	var sum float64
	canAdvance = true
	for _, w := range workstreams {
		c, status := e.rollupWorkstreamLocked(w)
		sum += c
		if status != StatusCompleted {
			canAdvance = false
			blocking = append(blocking, w.TaskID)
		}
	}
	return sum / float64(len(workstreams)), canAdvance, blocking
}

func (e *Engine) activeAgentsUnderLocked(rootID string) []string {
	seen := make(map[string]bool)
	var stack []string
	if t, ok := e.tasks[rootID]; ok {
		stack = append(stack, t.ChildTasks...)
	}
	var agents []string
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, ok := e.tasks[id]
		if !ok {
			continue
		}
		if t.AssignedTo != "" && !seen[t.AssignedTo] {
			seen[t.AssignedTo] = true
			agents = append(agents, t.AssignedTo)
		}
		stack = append(stack, t.ChildTasks...)
	}
	return agents
}

// recomputeAncestors walks up from startID, recomputing and writing through
// rollup status for every Workstream/Phase ancestor (spec.md §4.3: "written
// through after any descendant state change").
func (e *Engine) recomputeAncestors(ctx context.Context, startID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := startID
	seen := make(map[string]bool)
	for cur != "" && !seen[cur] {
		seen[cur] = true
		t, ok := e.tasks[cur]
		if !ok {
			break
		}

		var newStatus string
		switch {
		case t.IsWorkstream():
			_, newStatus = e.rollupWorkstreamLocked(t)
		case t.IsPhase():
			// advance_phase is the only path to a completed phase status
			// (spec.md §4.3); the rollup only ever auto-writes pending/in_progress.
			if t.Status != StatusCompleted {
				if _, newStatus = e.rollupWorkstreamLocked(t); newStatus == StatusCompleted {
					newStatus = StatusInProgress
				}
			}
		default:
			cur = t.ParentTask
			continue
		}

		if newStatus != "" && newStatus != t.Status {
			cp := *t
			cp.Status = newStatus
			cp.UpdatedAt = nowRFC3339()
			if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskUpdate(ctx, tx, &cp) }); err != nil {
				logging.GraphError("rollup write-through failed for %s: %v", cur, err)
			} else {
				e.tasks[cur] = &cp
			}
		}
		cur = t.ParentTask
	}
}

// RecomputeAllRollups walks every Workstream and Phase and writes through
// any rollup status that has drifted from what's persisted. recomputeAncestors
// already writes through after every task-state change, so in steady state
// this finds nothing to do; it exists as a periodic reconciliation pass for
// the Coordination Runtime's scheduled-rollup worker (spec.md §4.8 step 5),
// catching drift from a crash between an event and its write-through or a
// direct store edit.
func (e *Engine) RecomputeAllRollups(ctx context.Context) (int, error) {
	e.mu.RLock()
	var candidateIDs []string
	for id, t := range e.tasks {
		if t.IsWorkstream() || t.IsPhase() {
			candidateIDs = append(candidateIDs, id)
		}
	}
	e.mu.RUnlock()

	updated := 0
	for _, id := range candidateIDs {
		e.mu.Lock()
		cur, ok := e.tasks[id]
		if !ok {
			e.mu.Unlock()
			continue
		}

		var newStatus string
		switch {
		case cur.IsWorkstream():
			_, newStatus = e.rollupWorkstreamLocked(cur)
		case cur.IsPhase():
			// advance_phase is the only path to a completed phase status; the
			// rollup here only ever writes pending/in_progress, same rule as
			// recomputeAncestors.
			if cur.Status != StatusCompleted {
				if _, newStatus = e.rollupWorkstreamLocked(cur); newStatus == StatusCompleted {
					newStatus = StatusInProgress
				}
			}
		}

		if newStatus == "" || newStatus == cur.Status {
			e.mu.Unlock()
			continue
		}

		cp := *cur
		cp.Status = newStatus
		cp.UpdatedAt = nowRFC3339()
		if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskUpdate(ctx, tx, &cp) }); err != nil {
			e.mu.Unlock()
			return updated, fmt.Errorf("%w: recomputing rollup for %s: %v", apperrors.ErrInternal, id, err)
		}
		e.tasks[id] = &cp
		e.mu.Unlock()
		updated++
	}
	return updated, nil
}

// AdvancePhase marks a phase completed, validating its rollup unless force
// is set (spec.md §4.3 and §8's boundary behavior).
func (e *Engine) AdvancePhase(ctx context.Context, phaseID string, force bool, actor string) (blockingAgents []string, err error) {
	e.mu.Lock()
	phase, ok := e.tasks[phaseID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: phase %s", apperrors.ErrNotFound, phaseID)
	}

	_, canAdvance, blocking := e.rollupPhaseLocked(phase)
	agents := e.activeAgentsUnderLocked(phaseID)

	if !canAdvance && !force {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: blocking workstream(s): %v", apperrors.ErrConflict, blocking)
	}

	cp := *phase
	cp.Status = StatusCompleted
	cp.UpdatedAt = nowRFC3339()
	note := Note{At: cp.UpdatedAt, By: actor, Content: "phase advanced"}
	if force && !canAdvance {
		note.Content = fmt.Sprintf("phase force-advanced over blocking workstream(s): %v", blocking)
	}
	cp.Notes = append(append([]Note(nil), phase.Notes...), note)

	if err := e.st.Tx(ctx, func(tx *sql.Tx) error { return persistTaskUpdate(ctx, tx, &cp) }); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: advancing phase: %v", apperrors.ErrInternal, err)
	}
	e.tasks[phaseID] = &cp
	e.mu.Unlock()

	logging.Graph("advanced phase %s (force=%v)", phaseID, force)
	return agents, nil
}
