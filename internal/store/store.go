// Package store is a thin facade over an embedded relational store (SQLite)
// with a co-resident vector index, per spec.md §4.1. It owns connection
// policy, lock-aware retry, and health probes; schema and migration version
// bookkeeping live in internal/migration, task semantics in internal/graph.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agent-mcp/agent-mcp/internal/logging"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a single SQLite connection, matching the teacher's one-writer
// LocalStore shape (internal/store/local_core.go) generalized to this domain.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	vecExt bool
}

// Options configures connection policy (spec.md §4.1's "on open" list).
type Options struct {
	BusyTimeoutMs int // minimum 30000
	MaxLockRetries int
	LockRetryBaseMs int
	LockRetryCapMs  int
}

// DefaultOptions matches spec.md §4.1's connection policy.
func DefaultOptions() Options {
	return Options{
		BusyTimeoutMs:   30000,
		MaxLockRetries:  5,
		LockRetryBaseMs: 100,
		LockRetryCapMs:  2000,
	}
}

// New opens (creating if needed) the SQLite database at path and applies the
// connection policy from spec.md §4.1: WAL journaling, synchronous=normal,
// a busy timeout, enlarged page cache, foreign keys on.
func New(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// _txlock=immediate makes every sql.Tx a BEGIN IMMEDIATE, giving the
	// single-writer discipline spec.md §4.1 asks for without hand-managing
	// transaction SQL ourselves.
	dsn := fmt.Sprintf("%s?_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer discipline: the store serializes writes itself via
	// BEGIN IMMEDIATE, so one physical connection is simplest and correct.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if opts.BusyTimeoutMs < 30000 {
		opts.BusyTimeoutMs = 30000
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeoutMs),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -20000", // ~20MB page cache
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			logging.StoreDebug("pragma failed (%s): %v", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	s.detectVecExtension()
	if s.vecExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; embedding_chunks falls back to row scan for similarity search")
	}

	logging.Store("store opened at %s", path)
	return s, nil
}

// DB exposes the underlying connection for packages (migration, graph, rag)
// that need direct SQL access under the Store's single-writer discipline.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HasVectorIndex reports whether the sqlite-vec companion index is available.
func (s *Store) HasVectorIndex() bool {
	return s.vecExt
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	logging.Store("closing store")
	return s.db.Close()
}

// Health reports the facade's health probe, per spec.md §4.1's
// health() → {can_query, journal_mode, busy_timeout, wal_pages, status, locked?}.
type Health struct {
	CanQuery     bool
	JournalMode  string
	BusyTimeout  int
	WALPages     int
	Status       string
	Locked       bool
}

// Probe runs the health check described in spec.md §4.1.
func (s *Store) Probe(ctx context.Context) Health {
	h := Health{Status: "ok"}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		h.CanQuery = false
		h.Status = "unreachable"
		if isLockedErr(err) {
			h.Locked = true
			h.Status = "locked"
		}
		return h
	}
	h.CanQuery = true

	_ = s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&h.JournalMode)
	_ = s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&h.BusyTimeout)

	var walPages sql.NullInt64
	_ = s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(new(int), &walPages, new(int))
	h.WALPages = int(walPages.Int64)

	return h
}

func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vecExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vecExt = false
}
