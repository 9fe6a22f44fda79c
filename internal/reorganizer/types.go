// Package reorganizer implements C4 Graph Reorganizer: the five-step
// pipeline spec.md §4.4 describes for turning a flat pre-phase task table
// into the phase/workstream hierarchy C3 operates on. It satisfies
// internal/migration's Reorganizer seam, invoked by the 1.1.0 -> 2.0.0
// migration step.
package reorganizer

import (
	"encoding/json"
	"time"
)

// rawTask is the pre-hierarchy shape of one tasks row, read directly off
// the *sql.DB the migrator hands us (not through internal/store, since the
// migration runs before C3's Engine exists).
type rawTask struct {
	TaskID      string
	Title       string
	Description string
	Status      string
	Priority    string
	AssignedTo  string
	CreatedBy   string
	CreatedAt   string
	ParentTask  string
	ChildTasks  []string
	DependsOn   []string
	Notes       string
}

func (t *rawTask) isPhaseOrWorkstream() bool {
	return hasPrefix(t.TaskID, "phase_") || hasPrefix(t.TaskID, "root_")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func decodeStringSlice(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeStringSlice(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// cluster is a set of related task IDs discovered by the relationship
// analyzer (step 3).
type cluster struct {
	id            string
	taskIDs       []string
	workstreamKey string
	phaseID       string
	completionPct float64
	hasActiveWork bool
}
