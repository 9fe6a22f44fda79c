package store

import "fmt"

// ensureSchema creates the base (1.0.0-era) tables, idempotently. Hierarchy
// columns and the code-support columns added by later schema versions are
// the migration runtime's job (internal/migration); this only guarantees the
// tables spec.md §6 names actually exist so a fresh project can boot cold.
func (s *Store) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			assigned_to TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			parent_task TEXT,
			child_tasks TEXT NOT NULL DEFAULT '[]',
			depends_on_tasks TEXT NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to)`,

		`CREATE TABLE IF NOT EXISTS project_context (
			context_key TEXT PRIMARY KEY,
			value TEXT,
			description TEXT,
			last_updated TEXT NOT NULL,
			updated_by TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS agent_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target_id TEXT,
			details TEXT,
			success INTEGER NOT NULL DEFAULT 1,
			error TEXT,
			at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_actions_agent ON agent_actions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_actions_at ON agent_actions(at)`,

		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			description TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS embedding_chunks (
			chunk_id TEXT PRIMARY KEY,
			source_kind TEXT NOT NULL,
			source_ref TEXT NOT NULL,
			offset_bytes INTEGER NOT NULL,
			length_bytes INTEGER NOT NULL,
			text TEXT NOT NULL,
			content_hash TEXT,
			indexed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON embedding_chunks(source_kind, source_ref)`,

		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			color TEXT,
			created_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	return s.ensureVectorIndex()
}

// ensureVectorIndex creates the companion vec0 virtual table keyed by
// chunk_id (spec.md §3's Embedding Chunk: "vector stored in a companion
// vector index keyed by chunk_id"). Dimensions fixed at 1024 per spec.md §4.7.
// Best-effort: environments without the sqlite-vec extension built in fall
// back to brute-force cosine search over embedding_chunks_vec_fallback.
func (s *Store) ensureVectorIndex() error {
	const dims = 1024

	if _, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(chunk_id TEXT PRIMARY KEY, embedding float[%d])", dims,
	)); err == nil {
		return nil
	}

	// No sqlite-vec: fall back to a plain table holding the raw vector as
	// a packed blob, scanned linearly by internal/rag.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_chunks_vec_fallback (
			chunk_id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)
	`)
	return err
}
