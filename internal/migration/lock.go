package migration

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// AdvisoryLock is the cross-process migration lock at .migration.lock
// (spec.md §4.2, §6, §9). Contents are pid\ntimestamp\n, a contract that
// must round-trip across processes and platforms. Where a POSIX advisory
// range lock is available it's taken via syscall.Flock; exclusive-create
// plus a staleness check back it up everywhere, mirroring
// original_source/agent_mcp/db/migrations/migration_lock.py's dual strategy.
type AdvisoryLock struct {
	path string
	file *os.File
}

// NewAdvisoryLock targets the well-known path under the project directory.
func NewAdvisoryLock(projectDir string) *AdvisoryLock {
	return &AdvisoryLock{path: projectDir + string(os.PathSeparator) + ".migration.lock"}
}

// Acquire blocks, retrying every second, until the lock is held or timeout
// elapses (default in spec.md §4.2: 120s, apperrors.ErrLockTimeout on expiry).
func (l *AdvisoryLock) Acquire(timeout, staleAfter time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("opening lock file: %w", err)
		}

		flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if flockErr == nil {
			if err := writeLockContents(f); err != nil {
				f.Close()
				return err
			}
			l.file = f
			logging.Migration("acquired migration lock (pid=%d)", os.Getpid())
			return nil
		}
		f.Close()

		if l.isStale(staleAfter) {
			logging.MigrationWarn("detected stale migration lock, removing")
			os.Remove(l.path)
			continue
		}

		if time.Now().After(deadline) {
			logging.MigrationError("failed to acquire migration lock after %s", timeout)
			return apperrors.ErrLockTimeout
		}
		time.Sleep(time.Second)
	}
}

// Release drops the flock and removes the lock file.
func (l *AdvisoryLock) Release() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		logging.MigrationWarn("error removing lock file: %v", err)
		return err
	}
	logging.Migration("released migration lock")
	return nil
}

// isStale reports whether the existing lock file's recorded pid is gone or
// its timestamp predates staleAfter.
func (l *AdvisoryLock) isStale(staleAfter time.Duration) bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return false
	}

	ts, err := strconv.ParseInt(lines[1], 10, 64)
	if err != nil {
		return false
	}
	if time.Since(time.Unix(ts, 0)) > staleAfter {
		return true
	}

	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return true
	}
	return false
}

func writeLockContents(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "%d\n%d\n", os.Getpid(), time.Now().Unix())
	if err != nil {
		return err
	}
	return f.Sync()
}
