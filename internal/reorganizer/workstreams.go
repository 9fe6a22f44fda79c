package reorganizer

import "sort"

// workstreamGroup accumulates the clusters consolidated into one eventual
// root_<phase>_<key> workstream.
type workstreamGroup struct {
	phaseID    string
	key        string
	clusterIDs []string
	totalTasks int
}

// assignClustersToPhases implements step 4 of the pipeline: group clusters
// by phase and workstream key. When preserveHierarchies is set (the
// startup-migration default, grounded on startup_migration.py's
// enforce_linear_progression), every cluster is assigned to Phase 1 so the
// resulting hierarchy still satisfies the linear-progression invariant;
// otherwise clusters land in the phase their completion/activity profile
// suggests, following relationship_aware_migration.py's
// _assign_clusters_to_phases.
func assignClustersToPhases(clusters []*cluster, preserveHierarchies bool) map[string]map[string]*workstreamGroup {
	byPhase := make(map[string]map[string]*workstreamGroup)

	for _, c := range clusters {
		phaseID := c.phaseID
		if phaseID == "" {
			phaseID = pickPhaseForCluster(c, preserveHierarchies)
		}
		if byPhase[phaseID] == nil {
			byPhase[phaseID] = make(map[string]*workstreamGroup)
		}
		g := byPhase[phaseID][c.workstreamKey]
		if g == nil {
			g = &workstreamGroup{phaseID: phaseID, key: c.workstreamKey}
			byPhase[phaseID][c.workstreamKey] = g
		}
		g.clusterIDs = append(g.clusterIDs, c.id)
		g.totalTasks += len(c.taskIDs)
	}

	return byPhase
}

func pickPhaseForCluster(c *cluster, preserveHierarchies bool) string {
	if preserveHierarchies {
		return "phase_1_foundation"
	}
	switch {
	case c.completionPct == 1.0:
		return "phase_1_foundation"
	case c.hasActiveWork:
		return "phase_2_intelligence"
	case c.completionPct > 0:
		return "phase_2_intelligence"
	default:
		return "phase_3_coordination"
	}
}

// consolidateGroups caps the number of workstreams a phase gets, folding
// anything under minTasksPerWorkstream and any overflow beyond
// maxWorkstreamsPerPhase into a catch-all "general" workstream, per
// relationship_aware_migration.py's _consolidate_clusters.
func consolidateGroups(groups map[string]*workstreamGroup, minTasksPerWorkstream, maxWorkstreamsPerPhase int) map[string]*workstreamGroup {
	if minTasksPerWorkstream <= 0 {
		minTasksPerWorkstream = 5
	}
	if maxWorkstreamsPerPhase <= 0 {
		maxWorkstreamsPerPhase = 7
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	consolidated := make(map[string]*workstreamGroup)
	var small []*workstreamGroup
	for _, k := range keys {
		g := groups[k]
		if g.totalTasks >= minTasksPerWorkstream {
			consolidated[g.key] = g
		} else {
			small = append(small, g)
		}
	}

	if len(small) > 0 {
		general := consolidated["general"]
		if general == nil {
			general = &workstreamGroup{key: "general"}
		}
		for _, g := range small {
			general.clusterIDs = append(general.clusterIDs, g.clusterIDs...)
			general.totalTasks += g.totalTasks
		}
		consolidated["general"] = general
	}

	if len(consolidated) > maxWorkstreamsPerPhase {
		consolidated = mergeSmallestIntoGeneral(consolidated, maxWorkstreamsPerPhase)
	}

	return consolidated
}

func mergeSmallestIntoGeneral(groups map[string]*workstreamGroup, maxWorkstreamsPerPhase int) map[string]*workstreamGroup {
	ordered := make([]*workstreamGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].totalTasks != ordered[j].totalTasks {
			return ordered[i].totalTasks > ordered[j].totalTasks
		}
		return ordered[i].key < ordered[j].key
	})

	keepCount := maxWorkstreamsPerPhase - 1
	if keepCount < 0 {
		keepCount = 0
	}
	kept := make(map[string]*workstreamGroup)
	var merge []*workstreamGroup
	for i, g := range ordered {
		if i < keepCount {
			kept[g.key] = g
		} else {
			merge = append(merge, g)
		}
	}

	general := kept["general"]
	if general == nil {
		general = &workstreamGroup{key: "general"}
	}
	for _, g := range merge {
		if g.key == "general" {
			continue
		}
		general.clusterIDs = append(general.clusterIDs, g.clusterIDs...)
		general.totalTasks += g.totalTasks
	}
	kept["general"] = general
	return kept
}
