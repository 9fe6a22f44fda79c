package rag

import "context"

// DuplicateChecker implements graph.DuplicateChecker without importing
// internal/graph (the seam pattern spec.md §9 asks every cross-package
// dependency to use), by exposing the same method signature graph.Engine's
// hook expects.
type DuplicateChecker struct {
	pipeline *Pipeline
}

// NewDuplicateChecker wraps a Pipeline as the task-placement RAG hook.
func NewDuplicateChecker(p *Pipeline) *DuplicateChecker {
	return &DuplicateChecker{pipeline: p}
}

// CheckDuplicate searches previously-indexed task content (see
// Pipeline.IndexTasks) for the closest match to title+description and
// reports its similarity, matching spec.md §4.7's task-placement hook.
func (d *DuplicateChecker) CheckDuplicate(ctx context.Context, title, description string) (float64, string, bool) {
	text := title + "\n\n" + description
	result, err := d.pipeline.Query(ctx, text, 1, "context")
	if err != nil || result.Timeout || len(result.Hits) == 0 {
		return 0, "", false
	}
	top := result.Hits[0]
	return top.Similarity, top.SourceRef, true
}
