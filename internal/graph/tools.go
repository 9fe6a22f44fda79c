package graph

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agent-mcp/internal/dispatch"
)

// RegisterTools wires the C3 tool surface into reg, per spec.md §6's
// non-exhaustive tool list for create_task through advance_phase.
func RegisterTools(reg *dispatch.Registry, e *Engine) error {
	tools := []*dispatch.Tool{
		createTaskTool(e),
		assignTaskTool(e),
		updateTaskStatusTool(e),
		addTaskNoteTool(e),
		viewTasksTool(e),
		createPhaseTool(e),
		viewPhaseStatusTool(e),
		advancePhaseTool(e),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func actorID(p dispatch.Principal) string {
	if p.IsAdmin {
		return "admin"
	}
	return p.AgentID
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func createTaskTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        "create_task",
		Description: "Create a new task, optionally under a parent and with dependencies.",
		Schema: dispatch.Schema{
			Required: []string{"title"},
			Properties: map[string]dispatch.Property{
				"title":           {Type: "string"},
				"description":     {Type: "string"},
				"parent_task_id":  {Type: "string"},
				"priority":        {Type: "string", Enum: []string{"low", "medium", "high", "critical"}},
				"depends_on":      {Type: "array"},
				"override":        {Type: "boolean", Description: "bypass the RAG duplicate-placement warning"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			in := CreateTaskInput{
				Title:        stringArg(args, "title"),
				Description:  stringArg(args, "description"),
				ParentTaskID: stringArg(args, "parent_task_id"),
				Priority:     stringArg(args, "priority"),
				DependsOn:    stringSliceArg(args, "depends_on"),
				CreatedBy:    actorID(p),
				Override:     boolArg(args, "override"),
			}
			taskID, err := e.CreateTask(ctx, in)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": taskID, "task_id": taskID}, nil
		},
	}
}

func assignTaskTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:          "assign_task",
		Description:   "Assign a task to an agent.",
		RequiresAdmin: true,
		Schema: dispatch.Schema{
			Required: []string{"agent_id", "task_id"},
			Properties: map[string]dispatch.Property{
				"agent_id": {Type: "string"},
				"task_id":  {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			err := e.AssignTask(ctx, stringArg(args, "agent_id"), stringArg(args, "task_id"))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": stringArg(args, "task_id"), "ok": true}, nil
		},
	}
}

func updateTaskStatusTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        "update_task_status",
		Description: "Transition a task's status.",
		Schema: dispatch.Schema{
			Required: []string{"task_id", "new_status"},
			Properties: map[string]dispatch.Property{
				"task_id":    {Type: "string"},
				"new_status": {Type: "string", Enum: []string{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled}},
				"note":       {Type: "string"},
				"force":      {Type: "boolean"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			if boolArg(args, "force") && !p.IsAdmin {
				return nil, fmt.Errorf("%w: force requires admin principal", dispatch.ErrUnauthorized)
			}
			in := UpdateTaskStatusInput{
				TaskID:    stringArg(args, "task_id"),
				NewStatus: stringArg(args, "new_status"),
				Note:      stringArg(args, "note"),
				Actor:     actorID(p),
				Force:     boolArg(args, "force") && p.IsAdmin,
			}
			if err := e.UpdateTaskStatus(ctx, in); err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": in.TaskID, "ok": true}, nil
		},
	}
}

func addTaskNoteTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        "add_task_note",
		Description: "Append an append-only note to a task.",
		Schema: dispatch.Schema{
			Required: []string{"task_id", "content"},
			Properties: map[string]dispatch.Property{
				"task_id": {Type: "string"},
				"content": {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			taskID := stringArg(args, "task_id")
			if err := e.AddTaskNote(ctx, taskID, actorID(p), stringArg(args, "content")); err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": taskID, "ok": true}, nil
		},
	}
}

func viewTasksTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        "view_tasks",
		Description: "List tasks matching an optional filter.",
		ReadOnly:    true,
		Schema: dispatch.Schema{
			Properties: map[string]dispatch.Property{
				"status":         {Type: "string"},
				"assigned_to":    {Type: "string"},
				"ancestor_phase": {Type: "string"},
				"parent_task":    {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			filter := ViewFilter{
				Status:        stringArg(args, "status"),
				AssignedTo:    stringArg(args, "assigned_to"),
				AncestorPhase: stringArg(args, "ancestor_phase"),
				ParentTask:    stringArg(args, "parent_task"),
			}
			tasks := e.ViewTasks(filter)
			items := make([]interface{}, 0, len(tasks))
			for _, t := range tasks {
				items = append(items, taskToMap(t))
			}
			return map[string]interface{}{"tasks": items, "count": len(items)}, nil
		},
	}
}

func createPhaseTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:          "create_phase",
		Description:   "Create one of the four canonical phases, gated by linear progression.",
		RequiresAdmin: true,
		Schema: dispatch.Schema{
			Required: []string{"phase_type"},
			Properties: map[string]dispatch.Property{
				"phase_type":  {Type: "string"},
				"name":        {Type: "string"},
				"description": {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			phaseID, err := e.CreatePhase(ctx, stringArg(args, "phase_type"), stringArg(args, "name"), stringArg(args, "description"), actorID(p))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": phaseID, "phase_id": phaseID}, nil
		},
	}
}

func viewPhaseStatusTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        "view_phase_status",
		Description: "Summarize a phase's rollup completion, blocking workstreams, and active agents.",
		ReadOnly:    true,
		Schema: dispatch.Schema{
			Properties: map[string]dispatch.Property{
				"phase_id": {Type: "string"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			status, err := e.ViewPhaseStatus(stringArg(args, "phase_id"))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"id":                   status.PhaseID,
				"phase_id":             status.PhaseID,
				"status":               status.Status,
				"completion":           status.Completion,
				"can_advance":          status.CanAdvance,
				"blocking_workstreams": status.BlockingWorkstreams,
				"active_agents":        status.ActiveAgents,
			}, nil
		},
	}
}

func advancePhaseTool(e *Engine) *dispatch.Tool {
	return &dispatch.Tool{
		Name:          "advance_phase",
		Description:   "Mark a phase completed once its rollup allows, or force it.",
		RequiresAdmin: true,
		Schema: dispatch.Schema{
			Required: []string{"current_phase_id"},
			Properties: map[string]dispatch.Property{
				"current_phase_id": {Type: "string"},
				"force":            {Type: "boolean"},
				"terminate_agents": {Type: "boolean"},
			},
		},
		Execute: func(ctx context.Context, p dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			phaseID := stringArg(args, "current_phase_id")
			agents, err := e.AdvancePhase(ctx, phaseID, boolArg(args, "force"), actorID(p))
			if err != nil {
				return nil, err
			}
			out := map[string]interface{}{"id": phaseID, "ok": true, "active_agents": agents}
			if boolArg(args, "terminate_agents") {
				// This tool surfaces the list; termination is the caller's job
				// out of band (spec.md §4.3).
				out["terminate_agents_requested"] = true
			}
			return out, nil
		},
	}
}

func taskToMap(t *Task) map[string]interface{} {
	return map[string]interface{}{
		"task_id":          t.TaskID,
		"title":            t.Title,
		"description":      t.Description,
		"status":           t.Status,
		"priority":         t.Priority,
		"assigned_to":      t.AssignedTo,
		"created_by":       t.CreatedBy,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
		"parent_task":      t.ParentTask,
		"child_tasks":      t.ChildTasks,
		"depends_on_tasks": t.DependsOnTasks,
		"notes":            t.Notes,
	}
}
