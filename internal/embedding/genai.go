package embedding

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agent-mcp/internal/logging"

	"google.golang.org/genai"
)

// maxBatchSize is the GenAI API's per-request limit (HTTP 400 above it).
const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}
	logging.Embedding("creating genai embedding engine: model=%s task_type=%s", model, taskType)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	return &GenAIEngine{client: client, model: model, taskType: taskType}, nil
}

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.embedBatchChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// EmbedBatch chunks texts into GenAI-sized batches and concatenates results.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenAI.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedBatchChunk(ctx, texts)
	}

	numBatches := (len(texts) + maxBatchSize - 1) / maxBatchSize
	allEmbeddings := make([][]float32, 0, len(texts))
	for batchIdx := 0; batchIdx < numBatches; batchIdx++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		start := batchIdx * maxBatchSize
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		chunkEmbeddings, err := e.embedBatchChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d failed: %w", batchIdx+1, numBatches, err)
		}
		allEmbeddings = append(allEmbeddings, chunkEmbeddings...)
	}
	return allEmbeddings, nil
}

func (e *GenAIEngine) embedBatchChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{OutputDimensionality: int32Ptr(1024)})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns 1024, the reduced output size requested from the model,
// matching the width of internal/store's vec_chunks index.
func (e *GenAIEngine) Dimensions() int { return 1024 }

func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// Close is a no-op; the GenAI client needs no explicit cleanup.
func (e *GenAIEngine) Close() error { return nil }
