package rag

import (
	"context"
	"sort"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/embedding"
	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// Hit is one ranked result from a similarity query.
type Hit struct {
	ChunkID    string
	SourceKind string
	SourceRef  string
	Text       string
	Similarity float64
}

// QueryResult is the outcome of Query: possibly partial, possibly timed
// out, but never an error for a slow or unreachable embedding capability
// (spec.md §4.7: "on timeout return a partial or empty result with
// timeout=true rather than failing hard").
type QueryResult struct {
	Hits    []Hit
	Timeout bool
}

// Query embeds text, runs a k-nearest-neighbor search (vec0 MATCH when the
// vector extension is available, a brute-force cosine scan over the
// fallback table otherwise), and fetches chunk text/metadata from the
// Store, all within the pipeline's configured wall-clock budget.
func (p *Pipeline) Query(ctx context.Context, text string, k int, sourceKind string) (QueryResult, error) {
	if k <= 0 {
		k = 5
	}
	budget := p.cfg.QueryTimeout
	if budget <= 0 {
		budget = 5 * time.Second
	}
	qctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	vec, err := p.embedder.Embed(qctx, text)
	if err != nil {
		if qctx.Err() != nil {
			logging.RAGWarn("query embedding timed out or was cancelled: %v", err)
			return QueryResult{Timeout: true}, nil
		}
		return QueryResult{}, err
	}

	var hits []Hit
	if p.st.HasVectorIndex() {
		hits, err = p.knnVec0(qctx, vec, k, sourceKind)
	} else {
		hits, err = p.knnBruteForce(qctx, vec, k, sourceKind)
	}
	if err != nil {
		if qctx.Err() != nil {
			logging.RAGWarn("query search timed out or was cancelled: %v", err)
			return QueryResult{Timeout: true}, nil
		}
		return QueryResult{}, err
	}

	return QueryResult{Hits: hits}, nil
}

func (p *Pipeline) knnVec0(ctx context.Context, vec []float32, k int, sourceKind string) ([]Hit, error) {
	rows, err := p.st.DB().QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, c.source_kind, c.source_ref, c.text
		FROM vec_chunks v
		JOIN embedding_chunks c ON c.chunk_id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		serializeFloat32(vec), k*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		if err := rows.Scan(&h.ChunkID, &distance, &h.SourceKind, &h.SourceRef, &h.Text); err != nil {
			return nil, err
		}
		if sourceKind != "" && h.SourceKind != sourceKind {
			continue
		}
		h.Similarity = 1 - distance/2 // vec0's default metric is L2 on normalized vectors
		hits = append(hits, h)
		if len(hits) >= k {
			break
		}
	}
	return hits, rows.Err()
}

func (p *Pipeline) knnBruteForce(ctx context.Context, vec []float32, k int, sourceKind string) ([]Hit, error) {
	query := `SELECT c.chunk_id, c.source_kind, c.source_ref, c.text, f.embedding
		FROM embedding_chunks_vec_fallback f
		JOIN embedding_chunks c ON c.chunk_id = f.chunk_id`
	args := []interface{}{}
	if sourceKind != "" {
		query += " WHERE c.source_kind = ?"
		args = append(args, sourceKind)
	}

	rows, err := p.st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []Hit
	for rows.Next() {
		var h Hit
		var blob []byte
		if err := rows.Scan(&h.ChunkID, &h.SourceKind, &h.SourceRef, &h.Text, &blob); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		candidate := deserializeFloat32(blob)
		sim, err := embedding.CosineSimilarity(vec, candidate)
		if err != nil {
			continue
		}
		h.Similarity = sim
		scored = append(scored, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

