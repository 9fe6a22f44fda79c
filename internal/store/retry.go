package store

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// Exec retries a write against "database is locked" with exponential backoff
// plus jitter, per spec.md §4.1: base 0.1s, multiplier 2, cap 2s, 5 retries.
// The first retry also runs a best-effort lock diagnostics probe, grounded on
// agent_mcp/db/lock_diagnostics.py.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	opts := DefaultOptions()
	var lastErr error
	for attempt := 0; attempt <= opts.MaxLockRetries; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !isLockedErr(err) {
			return nil, err
		}
		lastErr = err

		if attempt == 0 {
			s.probeLockDiagnostics()
		}
		if attempt == opts.MaxLockRetries {
			break
		}

		delay := backoffDelay(attempt, opts.LockRetryBaseMs, opts.LockRetryCapMs)
		logging.StoreDebug("write locked, retrying in %s (attempt %d/%d)", delay, attempt+1, opts.MaxLockRetries)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	logging.Get(logging.CategoryStore).Error("exhausted lock retries: %v", lastErr)
	return nil, apperrors.ErrLockExhausted
}

// Query runs a read. Reads may proceed concurrently per spec.md §4.1, so no
// retry loop is needed beyond SQLite's own busy_timeout.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Tx runs fn inside a transaction, rolling back on any error returned by fn
// or by commit. The DSN's _txlock=immediate (see New) makes every BeginTx a
// BEGIN IMMEDIATE, giving the single-writer discipline of spec.md §4.1; this
// loop supplies the same lock-retry backoff as Exec around the BEGIN itself.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	opts := DefaultOptions()
	var tx *sql.Tx
	var err error

	for attempt := 0; attempt <= opts.MaxLockRetries; attempt++ {
		tx, err = s.db.BeginTx(ctx, nil)
		if err == nil {
			break
		}
		if !isLockedErr(err) {
			return err
		}
		if attempt == 0 {
			s.probeLockDiagnostics()
		}
		if attempt == opts.MaxLockRetries {
			return apperrors.ErrLockExhausted
		}
		delay := backoffDelay(attempt, opts.LockRetryBaseMs, opts.LockRetryCapMs)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// backoffDelay computes base * 2^attempt capped, with up to 50% jitter.
func backoffDelay(attempt, baseMs, capMs int) time.Duration {
	raw := float64(baseMs) * math.Pow(2, float64(attempt))
	if raw > float64(capMs) {
		raw = float64(capMs)
	}
	jitter := raw * (0.5 + rand.Float64()*0.5)
	return time.Duration(jitter) * time.Millisecond
}

func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// probeLockDiagnostics is a best-effort diagnostic (spec.md's Supplemented
// Feature, grounded on agent_mcp/db/lock_diagnostics.py): enumerate
// processes holding the db file open where the platform supports it, and
// check for WAL/SHM/journal sidecars. Never fatal if the probe itself fails.
func (s *Store) probeLockDiagnostics() {
	log := logging.Get(logging.CategoryStore)

	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		path := s.path + suffix
		if info, err := os.Stat(path); err == nil {
			log.Warn("lock diagnostics: %s present (%d bytes)", path, info.Size())
		}
	}

	out, err := exec.Command("lsof", s.path).CombinedOutput()
	if err != nil {
		log.Debug("lock diagnostics: lsof probe unavailable: %v", err)
		return
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > 1 {
		log.Warn("lock diagnostics: %d process(es) holding %s open", len(lines)-1, s.path)
		for _, line := range lines[1:] {
			log.Warn("lock diagnostics:   %s", line)
		}
	}
}
