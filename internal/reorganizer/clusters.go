package reorganizer

import "sort"

// relationshipAnalyzer builds parent/child and dependency maps over the
// flat (pre-hierarchy) task set and groups them into natural clusters,
// grounded on original_source/agent_mcp/core/relationship_aware_migration.py's
// TaskRelationshipAnalyzer.
type relationshipAnalyzer struct {
	tasks        map[string]*rawTask
	childrenOf   map[string][]string // parent_id -> child_ids
	parentOf     map[string]string   // child_id -> parent_id
	dependsOn    map[string]map[string]bool
	dependedBy   map[string]map[string]bool
}

func newRelationshipAnalyzer(tasks map[string]*rawTask) *relationshipAnalyzer {
	a := &relationshipAnalyzer{
		tasks:      tasks,
		childrenOf: make(map[string][]string),
		parentOf:   make(map[string]string),
		dependsOn:  make(map[string]map[string]bool),
		dependedBy: make(map[string]map[string]bool),
	}
	a.buildMaps()
	return a
}

func (a *relationshipAnalyzer) buildMaps() {
	for id, t := range a.tasks {
		if t.isPhaseOrWorkstream() {
			continue
		}
		if t.ParentTask != "" && !hasPrefix(t.ParentTask, "phase_") && !hasPrefix(t.ParentTask, "root_") {
			a.parentOf[id] = t.ParentTask
			a.childrenOf[t.ParentTask] = append(a.childrenOf[t.ParentTask], id)
		}
		for _, dep := range t.DependsOn {
			if _, ok := a.tasks[dep]; !ok {
				continue
			}
			if a.dependsOn[id] == nil {
				a.dependsOn[id] = make(map[string]bool)
			}
			a.dependsOn[id][dep] = true
			if a.dependedBy[dep] == nil {
				a.dependedBy[dep] = make(map[string]bool)
			}
			a.dependedBy[dep][id] = true
		}
	}
}

// rootTasks identifies tasks that head their own hierarchy: no parent, a
// parent that is itself a phase/workstream (stale from a prior partial
// migration), a parent that no longer exists, or a cancelled parent.
func (a *relationshipAnalyzer) rootTasks() []string {
	var roots []string
	for id, t := range a.tasks {
		if t.isPhaseOrWorkstream() {
			continue
		}
		parentID := t.ParentTask
		if parentID == "" {
			roots = append(roots, id)
			continue
		}
		parent, parentExists := a.tasks[parentID]
		switch {
		case !parentExists:
			roots = append(roots, id)
		case parent.Status == "cancelled":
			roots = append(roots, id)
		case hasPrefix(parentID, "phase_") || hasPrefix(parentID, "root_"):
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// buildClusters runs a DFS over children/dependency/dependent edges from
// every root task, then sweeps any disconnected remainder into its own
// cluster so no task is ever left unassigned.
func (a *relationshipAnalyzer) buildClusters() []*cluster {
	visited := make(map[string]bool)
	var clusters []*cluster

	for _, rootID := range a.rootTasks() {
		if visited[rootID] {
			continue
		}
		ids := a.collectRelated(rootID, visited)
		if len(ids) > 0 {
			clusters = append(clusters, &cluster{id: "cluster_" + rootID, taskIDs: ids})
		}
	}

	var allRegular []string
	for id, t := range a.tasks {
		if !t.isPhaseOrWorkstream() {
			allRegular = append(allRegular, id)
		}
	}
	sort.Strings(allRegular)

	var leftover []string
	for _, id := range allRegular {
		if !visited[id] {
			leftover = append(leftover, id)
		}
	}
	for _, id := range leftover {
		if visited[id] {
			continue
		}
		ids := a.collectRelated(id, visited)
		if len(ids) > 0 {
			clusters = append(clusters, &cluster{id: "cluster_disconnected_" + id, taskIDs: ids})
		}
	}

	var stillUnvisited []string
	for _, id := range allRegular {
		if !visited[id] {
			stillUnvisited = append(stillUnvisited, id)
		}
	}
	if len(stillUnvisited) > 0 {
		clusters = append(clusters, &cluster{id: "cluster_uncategorized", taskIDs: stillUnvisited})
	}

	return clusters
}

func (a *relationshipAnalyzer) collectRelated(taskID string, visited map[string]bool) []string {
	if visited[taskID] || hasPrefix(taskID, "phase_") || hasPrefix(taskID, "root_") {
		return nil
	}
	visited[taskID] = true
	out := []string{taskID}

	children := append([]string(nil), a.childrenOf[taskID]...)
	sort.Strings(children)
	for _, childID := range children {
		out = append(out, a.collectRelated(childID, visited)...)
	}

	var deps []string
	for depID := range a.dependsOn[taskID] {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	for _, depID := range deps {
		out = append(out, a.collectRelated(depID, visited)...)
	}

	var dependents []string
	for depID := range a.dependedBy[taskID] {
		if !visited[depID] {
			dependents = append(dependents, depID)
		}
	}
	sort.Strings(dependents)
	for _, depID := range dependents {
		out = append(out, a.collectRelated(depID, visited)...)
	}

	return out
}

// annotate fills in the workstream type and completion stats the
// phase-assignment step (step 4) needs.
func (a *relationshipAnalyzer) annotate(c *cluster) {
	tasks := make([]*rawTask, 0, len(c.taskIDs))
	completed := 0
	active := false
	for _, id := range c.taskIDs {
		t := a.tasks[id]
		tasks = append(tasks, t)
		switch t.Status {
		case "completed":
			completed++
		case "in_progress":
			active = true
		}
	}
	c.workstreamKey = determineWorkstreamType(tasks)
	c.hasActiveWork = active
	if len(tasks) > 0 {
		c.completionPct = float64(completed) / float64(len(tasks))
	}
}
