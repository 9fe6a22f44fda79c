package migration

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lock := NewAdvisoryLock(dir)

	require.NoError(t, lock.Acquire(time.Second, time.Minute))

	data, err := os.ReadFile(lock.path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	pid, err := strconv.Atoi(lines[0])
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = strconv.ParseInt(lines[1], 10, 64)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	_, err = os.Stat(lock.path)
	assert.True(t, os.IsNotExist(err))
}

func TestAdvisoryLockSecondAcquireTimesOut(t *testing.T) {
	dir := t.TempDir()
	holder := NewAdvisoryLock(dir)
	require.NoError(t, holder.Acquire(time.Second, time.Minute))
	defer holder.Release()

	contender := NewAdvisoryLock(dir)
	err := contender.Acquire(50*time.Millisecond, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrLockTimeout)
}

func TestAdvisoryLockDetectsStaleLockFromDeadPid(t *testing.T) {
	dir := t.TempDir()
	lock := NewAdvisoryLock(dir)

	// A pid unlikely to be alive, paired with an old timestamp, written
	// directly to simulate a lock left behind by a crashed process.
	stale := "999999\n1\n"
	require.NoError(t, os.WriteFile(lock.path, []byte(stale), 0o644))

	require.NoError(t, lock.Acquire(2*time.Second, time.Minute))
	require.NoError(t, lock.Release())
}
