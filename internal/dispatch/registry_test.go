package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct{ inProgress bool }

func (f *fakeGate) MigrationInProgress() bool { return f.inProgress }

type fakeAudit struct {
	calls []string
}

func (f *fakeAudit) RecordAction(ctx context.Context, p Principal, action, targetID string, success bool, err error, details map[string]interface{}) {
	f.calls = append(f.calls, action)
}

func echoTool() *Tool {
	return &Tool{
		Name:   "create_task",
		Schema: Schema{Required: []string{"title"}},
		Execute: func(ctx context.Context, p Principal, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "task-1", "title": args["title"]}, nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	audit := &fakeAudit{}
	r := NewRegistry(&fakeGate{}, audit)
	require.NoError(t, r.Register(echoTool()))

	res, err := r.Execute(context.Background(), "create_task", Principal{AgentID: "a1"}, map[string]interface{}{"title": "write tests"})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, "task-1", res.Output["id"])
	assert.Equal(t, []string{"create_task"}, audit.calls)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(&fakeGate{}, &fakeAudit{})
	require.NoError(t, r.Register(echoTool()))
	err := r.Register(echoTool())
	assert.ErrorIs(t, err, ErrToolAlreadyRegistered)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(&fakeGate{}, &fakeAudit{})
	_, err := r.Execute(context.Background(), "nope", Principal{}, nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteMissingRequiredArg(t *testing.T) {
	r := NewRegistry(&fakeGate{}, &fakeAudit{})
	require.NoError(t, r.Register(echoTool()))
	_, err := r.Execute(context.Background(), "create_task", Principal{}, map[string]interface{}{})
	assert.ErrorIs(t, err, ErrMissingRequiredArg)
}

func TestExecuteRejectedDuringMigration(t *testing.T) {
	r := NewRegistry(&fakeGate{inProgress: true}, &fakeAudit{})
	require.NoError(t, r.Register(echoTool()))
	_, err := r.Execute(context.Background(), "create_task", Principal{}, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, ErrMigrationInProgress)
}

func TestExecuteReadOnlyToolAllowedDuringMigration(t *testing.T) {
	r := NewRegistry(&fakeGate{inProgress: true}, &fakeAudit{})
	tool := &Tool{
		Name:     "view_tasks",
		ReadOnly: true,
		Execute: func(ctx context.Context, p Principal, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}
	require.NoError(t, r.Register(tool))
	_, err := r.Execute(context.Background(), "view_tasks", Principal{AgentID: "a1"}, map[string]interface{}{})
	assert.NoError(t, err)
}

func TestExecuteTerminatedAgentBlockedFromWriteTool(t *testing.T) {
	r := NewRegistry(&fakeGate{}, &fakeAudit{})
	require.NoError(t, r.Register(echoTool()))
	_, err := r.Execute(context.Background(), "create_task", Principal{AgentID: "a1", Status: "terminated"}, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExecuteTerminatedAgentAllowedReadOnlyTool(t *testing.T) {
	r := NewRegistry(&fakeGate{}, &fakeAudit{})
	tool := &Tool{
		Name:     "view_tasks",
		ReadOnly: true,
		Execute: func(ctx context.Context, p Principal, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}
	require.NoError(t, r.Register(tool))
	_, err := r.Execute(context.Background(), "view_tasks", Principal{AgentID: "a1", Status: "terminated"}, map[string]interface{}{})
	assert.NoError(t, err)
}

func TestExecuteToolFailureStillAudited(t *testing.T) {
	audit := &fakeAudit{}
	r := NewRegistry(&fakeGate{}, audit)
	failTool := &Tool{
		Name: "create_task",
		Execute: func(ctx context.Context, p Principal, args map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("boom")
		},
	}
	require.NoError(t, r.Register(failTool))
	_, err := r.Execute(context.Background(), "create_task", Principal{}, map[string]interface{}{})
	assert.Error(t, err)
	assert.Equal(t, []string{"create_task"}, audit.calls)
}
