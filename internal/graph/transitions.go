package graph

// transitionAllowed implements the task state machine in spec.md §4.3.
func transitionAllowed(from, to string) bool {
	if isTerminal(from) {
		return false
	}
	if from == to {
		return true
	}
	switch to {
	case StatusInProgress:
		return from == StatusPending
	case StatusPending:
		return from == StatusInProgress
	case StatusCompleted:
		return from == StatusPending || from == StatusInProgress || from == StatusFailed
	case StatusFailed:
		return from == StatusPending || from == StatusInProgress
	case StatusCancelled:
		return true // any non-terminal -> cancelled
	default:
		return false
	}
}

// wouldCreateCycle reports whether adding edges newFrom -> newTo (on top of
// the existing dependency graph built from tasks) introduces a cycle.
// DFS-based, grounded on spec.md §4.3's "cycles rejected at insert time via
// a DFS over the current dependency graph".
func wouldCreateCycle(tasks map[string]*Task, newFrom string, newTo []string) bool {
	adjacency := make(map[string][]string, len(tasks)+1)
	for id, t := range tasks {
		adjacency[id] = append(adjacency[id], t.DependsOnTasks...)
	}
	adjacency[newFrom] = append(append([]string{}, adjacency[newFrom]...), newTo...)

	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var dfs func(node string) bool
	dfs = func(node string) bool {
		if visiting[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visiting[node] = true
		for _, next := range adjacency[node] {
			if dfs(next) {
				return true
			}
		}
		visiting[node] = false
		visited[node] = true
		return false
	}

	return dfs(newFrom)
}
