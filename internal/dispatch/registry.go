package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// MigrationGate reports whether a schema migration is currently running.
// While true, the dispatcher rejects every non-ReadOnly tool call with
// ErrMigrationInProgress and keeps serving ReadOnly tools (spec.md §4.6).
// Satisfied by internal/coordination.
type MigrationGate interface {
	MigrationInProgress() bool
}

// AuditSink records one call's outcome. Satisfied by internal/auth.
type AuditSink interface {
	RecordAction(ctx context.Context, principal Principal, action, targetID string, success bool, callErr error, details map[string]interface{})
}

// Registry holds the fixed tool surface and dispatches calls against it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	gate  MigrationGate
	audit AuditSink
}

// NewRegistry creates an empty registry wired to a migration gate and audit sink.
func NewRegistry(gate MigrationGate, audit AuditSink) *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
		gate:  gate,
		audit: audit,
	}
}

// Register adds a tool. Returns ErrToolAlreadyRegistered on duplicate name.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	logging.DispatcherDebug("registered tool: %s", tool.Name)
	return nil
}

// MustRegister registers a tool, panicking on error. For startup wiring only.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns the named tool, or ErrToolNotFound.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute validates the migration gate and the caller's principal, runs the
// tool, and emits an audit record — mirroring the teacher's
// ExecuteTool/validateArgs split in internal/tools/registry.go.
func (r *Registry) Execute(ctx context.Context, name string, principal Principal, args map[string]interface{}) (*Result, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if r.gate != nil && r.gate.MigrationInProgress() && !tool.ReadOnly {
		gateErr := fmt.Errorf("%w: %s rejected during migration", ErrMigrationInProgress, name)
		r.recordAudit(ctx, principal, name, "", false, gateErr, nil)
		return nil, gateErr
	}

	if err := r.authorize(tool, principal); err != nil {
		r.recordAudit(ctx, principal, name, "", false, err, nil)
		return nil, err
	}

	if err := validateArgs(tool.Schema, args); err != nil {
		r.recordAudit(ctx, principal, name, "", false, err, nil)
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryDispatcher, name)
	out, execErr := tool.Execute(ctx, principal, args)
	durationMs := timer.Stop().Milliseconds()

	targetID, _ := out["id"].(string)
	r.recordAudit(ctx, principal, name, targetID, execErr == nil, execErr, args)

	result := &Result{ToolName: name, Output: out, Err: execErr, DurationMs: durationMs}
	if execErr != nil {
		logging.DispatcherWarn("tool %s failed: %v", name, execErr)
		return result, execErr
	}
	return result, nil
}

func (r *Registry) authorize(tool *Tool, p Principal) error {
	if tool.RequiresAdmin && !p.IsAdmin {
		return fmt.Errorf("%w: %s requires admin principal", ErrUnauthorized, tool.Name)
	}
	if p.Status == "terminated" && !tool.ReadOnly {
		return fmt.Errorf("%w: terminated agent cannot call write tool %s", ErrUnauthorized, tool.Name)
	}
	return nil
}

func (r *Registry) recordAudit(ctx context.Context, p Principal, action, targetID string, success bool, err error, details map[string]interface{}) {
	if r.audit == nil {
		return
	}
	r.audit.RecordAction(ctx, p, action, targetID, success, err, details)
}

// validateArgs checks required arguments are present, adapted from the
// teacher's internal/tools/registry.go validateArgs.
func validateArgs(schema Schema, args map[string]interface{}) error {
	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, req)
		}
	}
	return nil
}
