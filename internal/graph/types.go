// Package graph implements C3 Task Graph Engine: pure-domain operations over
// the task table and its in-memory mirror, per spec.md §4.3. Phase,
// Workstream, and Task are one entity distinguished by task_id prefix and
// role in the invariants, not by subclassing (spec.md §9).
package graph

import "time"

// Task status values (spec.md §4.3's state machine).
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// PhaseWorkstream prefixes distinguish roles within the flat task table.
const (
	phasePrefix      = "phase_"
	workstreamPrefix = "root_"
)

// Canonical phases, in their fixed linear-progression order.
const (
	Phase1Foundation    = "phase_1_foundation"
	Phase2Intelligence  = "phase_2_intelligence"
	Phase3Coordination  = "phase_3_coordination"
	Phase4Optimization  = "phase_4_optimization"
)

var canonicalPhaseOrder = []string{Phase1Foundation, Phase2Intelligence, Phase3Coordination, Phase4Optimization}

var phaseTypeAliases = map[string]string{
	"foundation":    Phase1Foundation,
	"intelligence":  Phase2Intelligence,
	"coordination":  Phase3Coordination,
	"optimization":  Phase4Optimization,
	Phase1Foundation:   Phase1Foundation,
	Phase2Intelligence: Phase2Intelligence,
	Phase3Coordination: Phase3Coordination,
	Phase4Optimization: Phase4Optimization,
}

// Note is one append-only entry in a task's note log.
type Note struct {
	At      string `json:"at"`
	By      string `json:"by"`
	Content string `json:"content"`
}

// Task mirrors one row of the `tasks` table (spec.md §6).
type Task struct {
	TaskID         string   `json:"task_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	AssignedTo     string   `json:"assigned_to,omitempty"`
	CreatedBy      string   `json:"created_by,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	ParentTask     string   `json:"parent_task,omitempty"`
	ChildTasks     []string `json:"child_tasks"`
	DependsOnTasks []string `json:"depends_on_tasks"`
	Notes          []Note   `json:"notes"`
}

// IsPhase reports whether t's task_id names a canonical phase node.
func (t *Task) IsPhase() bool {
	return isPhaseID(t.TaskID)
}

// IsWorkstream reports whether t's task_id names a synthetic workstream node.
func (t *Task) IsWorkstream() bool {
	return isWorkstreamID(t.TaskID)
}

func isPhaseID(id string) bool {
	for _, p := range canonicalPhaseOrder {
		if id == p {
			return true
		}
	}
	return false
}

func isWorkstreamID(id string) bool {
	return len(id) > len(workstreamPrefix) && id[:len(workstreamPrefix)] == workstreamPrefix
}

func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
