// Package embedding provides vector embedding generation for semantic
// search, with Ollama (local) and Google GenAI (cloud) backends.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/agent-mcp/agent-mcp/internal/logging"
)

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// backend availability before a batch operation runs.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds embedding engine configuration. Provider selects which
// concrete engine NewEngine builds; the other fields are backend-specific.
type Config struct {
	Provider string `json:"provider"` // "ollama" or "genai"

	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`

	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"`

	// TaskType for GenAI: SEMANTIC_SIMILARITY, RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT.
	TaskType string `json:"task_type"`
}

func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}

// NewEngine builds the embedding engine named by cfg.Provider.
func NewEngine(cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	var engine EmbeddingEngine
	var err error
	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s embedding engine: %w", cfg.Provider, err)
	}

	logging.Embedding("embedding engine ready: name=%s dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// CosineSimilarity returns the cosine similarity of a and b, in [-1, 1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}
	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}
	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// SimilarityResult is one FindTopK match.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the k corpus entries most similar to query, sorted
// descending by cosine similarity. Entries with a dimension mismatch are
// skipped rather than failing the whole search.
func FindTopK(query []float32, corpus [][]float32, k int) ([]SimilarityResult, error) {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		similarity, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: similarity})
	}

	for i := 0; i < len(results) && i < k; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
