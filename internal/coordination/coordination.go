// Package coordination implements C8 Coordination Runtime: it owns the
// process-wide Store, Engine, Auth, and migration-gate flag, and drives the
// startup/shutdown sequence in spec.md §4.8.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/auth"
	"github.com/agent-mcp/agent-mcp/internal/config"
	"github.com/agent-mcp/agent-mcp/internal/dispatch"
	"github.com/agent-mcp/agent-mcp/internal/embedding"
	"github.com/agent-mcp/agent-mcp/internal/graph"
	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/agent-mcp/agent-mcp/internal/migration"
	"github.com/agent-mcp/agent-mcp/internal/rag"
	"github.com/agent-mcp/agent-mcp/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrMigrationDeclined is returned by Start when an operator declines a
// pending migration at the interactive prompt (spec.md §6's exit code 2),
// distinct from the apperrors taxonomy since it's a startup-only outcome,
// never a tool-call error kind.
var ErrMigrationDeclined = errors.New("migration declined")

// Runtime is the process-wide handle passed explicitly to every
// subsystem that needs it (spec.md §9: "pass them explicitly through a
// runtime handle rather than ambient globals").
type Runtime struct {
	ProjectDir string
	Store      *store.Store
	Engine     *graph.Engine
	Auth       *auth.Auth
	Registry   *dispatch.Registry
	RAG        *rag.Pipeline

	migrationInProgress atomic.Bool

	workersCtx    context.Context
	workersCancel context.CancelFunc
	workers       *errgroup.Group

	migrationConfWatcher *migration.ConfigWatcher

	shutdownOnce sync.Once
}

// MigrationInProgress implements dispatch.MigrationGate.
func (r *Runtime) MigrationInProgress() bool {
	return r.migrationInProgress.Load()
}

// SetMigrationInProgress implements migration.Gate.
func (r *Runtime) SetMigrationInProgress(v bool) {
	r.migrationInProgress.Store(v)
}

// Start runs spec.md §4.8's startup sequence: resolve the project
// directory, open the Store, run check-and-migrate, rebuild the mirror,
// start background workers, and return the ready Runtime.
func Start(ctx context.Context, projectDir string, cfg *config.Config, adminToken string, reorg migration.Reorganizer) (*Runtime, error) {
	agentDir := filepath.Join(projectDir, ".agent")
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating .agent directory: %v", apperrors.ErrInternal, err)
	}

	dbPath := filepath.Join(agentDir, "state.db")
	st, err := store.New(dbPath, store.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: opening store: %v", apperrors.ErrInternal, err)
	}

	health := st.Probe(ctx)
	if !health.CanQuery {
		st.Close()
		return nil, fmt.Errorf("%w: store health probe failed: status=%s", apperrors.ErrInternal, health.Status)
	}

	rt := &Runtime{ProjectDir: projectDir, Store: st}

	migConfPath := filepath.Join(agentDir, "migration.conf")
	reloadMigConf := func(path string) error {
		if err := cfg.ApplyMigrationConfFile(path); err != nil {
			return err
		}
		cfg.ApplyEnvOverrides()
		return nil
	}
	if err := reloadMigConf(migConfPath); err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: loading migration.conf: %v", apperrors.ErrInternal, err)
	}
	if watcher, err := migration.NewConfigWatcher(migConfPath, reloadMigConf); err != nil {
		logging.CoordinationWarn("migration.conf watcher unavailable: %v", err)
	} else {
		rt.migrationConfWatcher = watcher
	}

	runner := &migration.Runner{ProjectDir: projectDir, Reorg: reorg, Gate: rt}
	if cfg.Migration.Interactive {
		runner.Prompter = migration.TerminalPrompter{}
	}
	migOpts := migration.Options{
		AutoMigrate:         cfg.Migration.AutoMigrate,
		AutoBackup:          cfg.Migration.AutoBackup,
		Interactive:         cfg.Migration.Interactive,
		BackupDir:           cfg.Migration.BackupDir,
		BackupRetentionDays: cfg.Migration.BackupRetentionDays,
		LockTimeout:         time.Duration(cfg.Migration.LockTimeoutSec) * time.Second,
		LockStale:           time.Duration(cfg.Migration.LockStaleSec) * time.Second,
		Reorganize: migration.ReorganizeOptions{
			PreserveHierarchies:    cfg.Migration.PreserveHierarchies,
			ConsolidateWorkstreams: cfg.Migration.ConsolidateWorkstreams,
			MinTasksPerWorkstream:  cfg.Migration.MinTasksPerWorkstream,
			MaxWorkstreamsPerPhase: cfg.Migration.MaxWorkstreamsPerPhase,
		},
	}

	migResult, err := runner.CheckAndMigrate(ctx, st.DB(), migOpts)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMigrationFailed, err)
	}
	if !migResult.Success {
		st.Close()
		return nil, ErrMigrationDeclined
	}

	a, err := auth.New(ctx, st, adminToken)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: initializing auth: %v", apperrors.ErrInternal, err)
	}
	rt.Auth = a

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: initializing embedding engine: %v", apperrors.ErrInternal, err)
	}

	pipeline := rag.New(st, embedder, rag.Config{
		ChunkSizeChars:        cfg.RAG.ChunkSizeChars,
		ChunkOverlapChars:     cfg.RAG.ChunkOverlapChars,
		MaxEmbeddingBatchSize: cfg.RAG.MaxEmbeddingBatchSize,
		QueryTimeout:          cfg.GetRAGQueryTimeout(),
	}, projectDir)
	rt.RAG = pipeline

	engine, err := graph.New(ctx, st, graph.Options{
		Agents:                 a,
		Duplicates:             rag.NewDuplicateChecker(pipeline),
		EnableTaskPlacementRAG: cfg.RAG.EnableTaskPlacementRAG,
		AllowRAGOverride:       cfg.RAG.AllowRAGOverride,
		DuplicationThreshold:   cfg.RAG.TaskDuplicationThresh,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: rebuilding task mirror: %v", apperrors.ErrInternal, err)
	}
	rt.Engine = engine

	rt.Registry = dispatch.NewRegistry(rt, a)
	if err := graph.RegisterTools(rt.Registry, engine); err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: registering graph tools: %v", apperrors.ErrInternal, err)
	}
	if err := rag.RegisterTools(rt.Registry, pipeline); err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: registering rag tools: %v", apperrors.ErrInternal, err)
	}

	rt.workersCtx, rt.workersCancel = context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(rt.workersCtx)
	rt.workers = eg
	rt.startBackgroundWorkers(egCtx)
	rt.startIndexMaintenanceWorker(egCtx)
	if rt.migrationConfWatcher != nil {
		if err := rt.migrationConfWatcher.Start(egCtx); err != nil {
			logging.CoordinationWarn("migration.conf watcher failed to start: %v", err)
		}
	}

	logging.Coordination("startup complete: schema %s -> %s (%d migrator(s) applied)",
		migResult.FromVersion, migResult.ToVersion, migResult.AppliedCount)
	return rt, nil
}

// startBackgroundWorkers launches the scheduled-rollup worker named in
// spec.md §4.8 step 5 (the index-maintenance worker is started separately
// by startIndexMaintenanceWorker). It is a lightweight ticker gated by ctx
// cancellation, the same errgroup.WithContext shape the teacher's
// intelligence_gatherer.go uses for parallel gathering.
func (r *Runtime) startBackgroundWorkers(ctx context.Context) {
	r.workers.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				updated, err := r.Engine.RecomputeAllRollups(ctx)
				if err != nil {
					logging.CoordinationWarn("scheduled rollup reconciliation failed: %v", err)
					continue
				}
				if updated > 0 {
					logging.Coordination("scheduled rollup reconciliation corrected %d node(s)", updated)
				} else {
					logging.CoordinationDebug("scheduled rollup reconciliation: no drift")
				}
			}
		}
	})
}

// startIndexMaintenanceWorker periodically re-runs the RAG indexing job
// against ProjectDir so new or changed files get embedded without an
// explicit index_project call, the other half of spec.md §4.8 step 5's
// "index maintenance" worker.
func (r *Runtime) startIndexMaintenanceWorker(ctx context.Context) {
	r.workers.Go(func() error {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				result, err := r.RAG.IndexProject(ctx, r.ProjectDir, false)
				if err != nil {
					logging.CoordinationWarn("background index maintenance failed: %v", err)
					continue
				}
				logging.CoordinationDebug("background index maintenance: %d file(s), %d chunk(s)",
					result.FilesProcessed, result.ChunksCreated)
			}
		}
	})
}

// Shutdown implements spec.md §4.8's shutdown sequence: stop accepting new
// calls is the caller's responsibility (close the transport first); this
// cancels background workers and closes the Store within deadline.
func (r *Runtime) Shutdown(deadline time.Duration) error {
	var shutdownErr error
	r.shutdownOnce.Do(func() {
		if r.migrationConfWatcher != nil {
			r.migrationConfWatcher.Stop()
		}
		if r.workersCancel != nil {
			r.workersCancel()
		}

		done := make(chan error, 1)
		go func() { done <- r.workers.Wait() }()

		select {
		case err := <-done:
			if err != nil {
				logging.CoordinationWarn("background worker exited with error: %v", err)
			}
		case <-time.After(deadline):
			logging.CoordinationWarn("background workers did not stop within %s", deadline)
		}

		if err := r.Store.Close(); err != nil {
			shutdownErr = fmt.Errorf("%w: closing store: %v", apperrors.ErrInternal, err)
		}
		logging.Coordination("shutdown complete")
	})
	return shutdownErr
}
