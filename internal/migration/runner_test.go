package migration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	states []bool
}

func (g *fakeGate) SetMigrationInProgress(v bool) {
	g.states = append(g.states, v)
}

type fakePrompter struct {
	answer bool
	asked  int
}

func (p *fakePrompter) Confirm(banner string) bool {
	p.asked++
	return p.answer
}

func newRunnerTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "state.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckAndMigrateSkipsWhenAutoMigrateDisabled(t *testing.T) {
	s := newRunnerTestStore(t)
	r := &Runner{ProjectDir: t.TempDir()}

	result, err := r.CheckAndMigrate(context.Background(), s.DB(), Options{AutoMigrate: false})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.True(t, result.Success)
}

func TestCheckAndMigrateAppliesAllPendingSteps(t *testing.T) {
	s := newRunnerTestStore(t)
	reorg := &fakeReorganizer{}
	gate := &fakeGate{}
	r := &Runner{ProjectDir: t.TempDir(), Reorg: reorg, Gate: gate}

	opts := Options{
		AutoMigrate: true,
		AutoBackup:  false,
		Interactive: false,
		LockTimeout: 5 * time.Second,
		LockStale:   time.Minute,
	}

	result, err := r.CheckAndMigrate(context.Background(), s.DB(), opts)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.AppliedCount)
	assert.Equal(t, V1_0_0, result.FromVersion)
	assert.Equal(t, V2_0_0, result.ToVersion)
	assert.True(t, reorg.called)
	assert.Equal(t, []bool{true, false}, gate.states)

	assert.Equal(t, V2_0_0, DetectVersion(s.DB()))
}

func TestCheckAndMigrateDeclinedInteractively(t *testing.T) {
	s := newRunnerTestStore(t)
	reorg := &fakeReorganizer{}
	prompter := &fakePrompter{answer: false}
	r := &Runner{ProjectDir: t.TempDir(), Reorg: reorg, Prompter: prompter}

	opts := Options{
		AutoMigrate: true,
		Interactive: true,
		LockTimeout: 5 * time.Second,
		LockStale:   time.Minute,
	}

	result, err := r.CheckAndMigrate(context.Background(), s.DB(), opts)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, prompter.asked)
	assert.False(t, reorg.called)
}

func TestCheckAndMigrateFailsWithoutReorganizer(t *testing.T) {
	s := newRunnerTestStore(t)
	r := &Runner{ProjectDir: t.TempDir()}

	opts := Options{
		AutoMigrate: true,
		LockTimeout: 5 * time.Second,
		LockStale:   time.Minute,
	}

	result, err := r.CheckAndMigrate(context.Background(), s.DB(), opts)
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.AppliedCount)
}
