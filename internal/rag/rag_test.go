package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder deterministically maps text to a tiny unit vector so
// similarity tests don't depend on a real model: any text containing the
// letter 'c' becomes [1,0] and all other text [0,1] (see embedWord).
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedWord(text), nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedWord(t)
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 2 }
func (fakeEmbedder) Name() string    { return "fake" }

// embedWord maps "cat"-flavored text to [1,0] and "dog"-flavored text to
// [0,1], giving predictable cosine similarity without a real model.
func embedWord(text string) []float32 {
	for _, r := range text {
		if r == 'c' {
			return []float32{1, 0}
		}
	}
	return []float32{0, 1}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "state.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, fakeEmbedder{}, Config{
		ChunkSizeChars:        2000,
		ChunkOverlapChars:     200,
		MaxEmbeddingBatchSize: 10,
		QueryTimeout:          2 * time.Second,
	}, dir)
}

func TestSplitChunksRespectsTargetSizeAndOverlap(t *testing.T) {
	text := "paragraph one.\n\nparagraph two.\n\nparagraph three."
	chunks := splitChunks(text, 20, 5)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.NotEmpty(t, c.Text)
		assert.LessOrEqual(t, c.Length, 20+5, "chunk %d exceeds target plus overlap", i)
		if i > 0 {
			prev := chunks[i-1].Text
			assert.True(t, strings.HasPrefix(c.Text, prev[len(prev)-5:]), "chunk %d should start with the previous chunk's last 5 chars", i)
		}
	}
}

func TestSplitChunksKeepsFencedCodeBlockIntact(t *testing.T) {
	text := "intro\n\n```\nline one\nline two\n```\n\noutro"
	units := splitOnNaturalBoundaries(text)
	found := false
	for _, u := range units {
		if u == "```\nline one\nline two\n```\n" {
			found = true
		}
	}
	assert.True(t, found, "fenced code block should stay one unit, got %#v", units)
}

func TestSerializeDeserializeFloat32RoundTrips(t *testing.T) {
	vec := []float32{1.5, -2.25, 0, 3.125}
	out := deserializeFloat32(serializeFloat32(vec))
	if diff := cmp.Diff(vec, out); diff != "" {
		t.Errorf("float32 vector round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexFileSkipsUnchangedContentUnlessForced(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat content about cats"), 0o644))

	n, err := p.indexFile(ctx, dir, path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.indexFile(ctx, dir, path, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged file should be skipped")

	n, err = p.indexFile(ctx, dir, path, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "force should re-index")
}

func TestQueryFindsClosestIndexedChunk(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.indexChunks(ctx, "file", "cats.txt", "hashcat", []Chunk{{Text: "all about cats", Offset: 0, Length: 15}})
	require.NoError(t, err)
	_, err = p.indexChunks(ctx, "file", "dogs.txt", "hashdog", []Chunk{{Text: "all about dogs", Offset: 0, Length: 15}})
	require.NoError(t, err)

	result, err := p.Query(ctx, "cat lover", 1, "")
	require.NoError(t, err)
	require.False(t, result.Timeout)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "cats.txt", result.Hits[0].SourceRef)
}

func TestIndexTasksIndexesTaskTitleAndDescription(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.st.DB().ExecContext(ctx, `INSERT INTO tasks
		(task_id, title, description, status, priority, created_by, created_at, updated_at)
		VALUES ('task_1', 'cat feature', 'about cats', 'pending', 'medium', 'admin', '', '')`)
	require.NoError(t, err)

	n, err := p.IndexTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	result, err := p.Query(ctx, "cats", 1, "context")
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "task_1", result.Hits[0].SourceRef)
}

func TestDuplicateCheckerReturnsClosestTaskMatch(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	_, err := p.indexChunks(ctx, "context", "task_1", "hash1", []Chunk{{Text: "cat feature\n\nabout cats", Offset: 0, Length: 20}})
	require.NoError(t, err)

	dc := NewDuplicateChecker(p)
	sim, matchID, ok := dc.CheckDuplicate(ctx, "cat thing", "more cats")
	require.True(t, ok)
	assert.Equal(t, "task_1", matchID)
	assert.Greater(t, sim, 0.0)
}
