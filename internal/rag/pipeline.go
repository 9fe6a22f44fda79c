package rag

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/embedding"
	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/agent-mcp/agent-mcp/internal/store"
)

// Config holds the chunking/batching/query tunables spec.md §4.7 names.
type Config struct {
	ChunkSizeChars        int
	ChunkOverlapChars     int
	MaxEmbeddingBatchSize int
	QueryTimeout          time.Duration
	IgnoreDirs            []string // beyond .agent, which is always excluded
}

// DefaultConfig matches spec.md §4.7's stated defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSizeChars:        2000,
		ChunkOverlapChars:     200,
		MaxEmbeddingBatchSize: 100,
		QueryTimeout:          5 * time.Second,
	}
}

// Pipeline is C7: it owns the Store and embedding engine handles and drives
// indexing and querying over them.
type Pipeline struct {
	st       *store.Store
	embedder embedding.EmbeddingEngine
	cfg      Config
	rootDir  string
}

// New constructs a Pipeline against an already-open Store and embedding
// engine (both owned by the caller, per spec.md §9's explicit-handle rule).
// rootDir is the default project directory index_project walks when the
// caller doesn't name one explicitly.
func New(st *store.Store, embedder embedding.EmbeddingEngine, cfg Config, rootDir string) *Pipeline {
	if cfg.ChunkSizeChars <= 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{st: st, embedder: embedder, cfg: cfg, rootDir: rootDir}
}

// IndexResult reports the outcome of one IndexProject run.
type IndexResult struct {
	FilesProcessed int
	ChunksCreated  int
	Errors         []string
}

// IndexProject implements the indexing job of spec.md §4.7: traverse
// rootDir (excluding .agent and configured ignores), skip files whose
// content hash matches the last-indexed hash unless force, chunk and embed
// the rest, and upsert each chunk row together with its vector, one
// transaction per embedding batch.
func (p *Pipeline) IndexProject(ctx context.Context, rootDir string, force bool) (IndexResult, error) {
	var result IndexResult

	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if d.IsDir() {
			if p.isIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		processed, err := p.indexFile(ctx, rootDir, path, force)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if processed > 0 {
			result.FilesProcessed++
			result.ChunksCreated += processed
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	taskChunks, err := p.IndexTasks(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("indexing tasks: %v", err))
	} else {
		result.ChunksCreated += taskChunks
	}

	logging.RAG("index_project: %d file(s), %d chunk(s), %d error(s)",
		result.FilesProcessed, result.ChunksCreated, len(result.Errors))
	return result, nil
}

func (p *Pipeline) isIgnoredDir(name string) bool {
	if name == ".agent" || name == ".git" {
		return true
	}
	for _, ignored := range p.cfg.IgnoreDirs {
		if ignored == name {
			return true
		}
	}
	return false
}

func (p *Pipeline) indexFile(ctx context.Context, rootDir, path string, force bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if !isLikelyText(data) {
		return 0, nil
	}

	sourceRef, err := filepath.Rel(rootDir, path)
	if err != nil {
		sourceRef = path
	}
	hash := contentHash(data)

	unchanged, err := p.isUnchanged(ctx, "file", sourceRef, hash)
	if err != nil {
		return 0, err
	}
	if unchanged && !force {
		return 0, nil
	}

	chunks := splitChunks(string(data), p.cfg.ChunkSizeChars, p.cfg.ChunkOverlapChars)
	return p.indexChunks(ctx, "file", sourceRef, hash, chunks)
}

// IndexTasks indexes every non-phase/workstream task's title+description as
// a "context" chunk keyed by task_id, so the task-placement duplicate hook
// (spec.md §4.7's "Task-placement hook") has something to search against.
// The spec names "Project Context Entries" as the non-file indexing input;
// tasks are the richest such entries this repo persists, so they are folded
// into the same source_kind rather than left unindexed.
func (p *Pipeline) IndexTasks(ctx context.Context) (int, error) {
	rows, err := p.st.Query(ctx, "SELECT task_id, title, description FROM tasks WHERE task_id NOT LIKE 'phase_%' AND task_id NOT LIKE 'root_%'")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var taskID, title, description string
		if err := rows.Scan(&taskID, &title, &description); err != nil {
			return total, err
		}
		text := strings.TrimSpace(title + "\n\n" + description)
		if text == "" {
			continue
		}
		hash := contentHash([]byte(text))
		unchanged, err := p.isUnchanged(ctx, "context", taskID, hash)
		if err != nil {
			return total, err
		}
		if unchanged {
			continue
		}
		n, err := p.indexChunks(ctx, "context", taskID, hash, []Chunk{{Text: text, Offset: 0, Length: len(text)}})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, rows.Err()
}

func (p *Pipeline) isUnchanged(ctx context.Context, sourceKind, sourceRef, hash string) (bool, error) {
	var existing string
	err := p.st.DB().QueryRowContext(ctx,
		"SELECT content_hash FROM embedding_chunks WHERE source_kind = ? AND source_ref = ? LIMIT 1",
		sourceKind, sourceRef).Scan(&existing)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing == hash, nil
}

// indexChunks embeds chunks in batches of up to MaxEmbeddingBatchSize and
// upserts each one, alongside its vector, inside one transaction.
func (p *Pipeline) indexChunks(ctx context.Context, sourceKind, sourceRef, hash string, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	batchSize := p.cfg.MaxEmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	total := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embedding batch: %w", err)
		}

		err = p.st.Tx(ctx, func(tx *sql.Tx) error {
			for i, c := range batch {
				chunkID := fmt.Sprintf("%s:%s:%d", sourceKind, sourceRef, c.Offset)
				if err := p.upsertChunkLocked(ctx, tx, chunkID, sourceKind, sourceRef, c, hash, vectors[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

func (p *Pipeline) upsertChunkLocked(ctx context.Context, tx *sql.Tx, chunkID, sourceKind, sourceRef string, c Chunk, hash string, vec []float32) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO embedding_chunks
		(chunk_id, source_kind, source_ref, offset_bytes, length_bytes, text, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET text=excluded.text, content_hash=excluded.content_hash, indexed_at=excluded.indexed_at`,
		chunkID, sourceKind, sourceRef, c.Offset, c.Length, c.Text, hash, now)
	if err != nil {
		return fmt.Errorf("upserting chunk row: %w", err)
	}

	if p.st.HasVectorIndex() {
		_, err = tx.ExecContext(ctx, `INSERT INTO vec_chunks(chunk_id, embedding) VALUES (?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET embedding=excluded.embedding`, chunkID, serializeFloat32(vec))
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO embedding_chunks_vec_fallback (chunk_id, embedding) VALUES (?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET embedding=excluded.embedding`, chunkID, serializeFloat32(vec))
	}
	if err != nil {
		return fmt.Errorf("upserting vector: %w", err)
	}
	return nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isLikelyText rejects files containing NUL bytes in their first 512 bytes,
// the same crude binary sniff most line-oriented indexers use to skip
// images and compiled artifacts without a MIME lookup.
func isLikelyText(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return false
		}
	}
	return true
}
