package rag

import (
	"context"

	"github.com/agent-mcp/agent-mcp/internal/dispatch"
)

// RegisterTools wires C7's tool surface (index_project, search_context) into
// reg, per spec.md §6.
func RegisterTools(reg *dispatch.Registry, p *Pipeline) error {
	tools := []*dispatch.Tool{
		indexProjectTool(p),
		searchContextTool(p),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func indexProjectTool(p *Pipeline) *dispatch.Tool {
	return &dispatch.Tool{
		Name:          "index_project",
		Description:   "Chunk and embed the project's files and task context into the vector index.",
		RequiresAdmin: true,
		Schema: dispatch.Schema{
			Properties: map[string]dispatch.Property{
				"force":    {Type: "boolean", Description: "re-index files even if their content hash is unchanged"},
				"root_dir": {Type: "string", Description: "defaults to the project directory the runtime was started with"},
			},
		},
		Execute: func(ctx context.Context, principal dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			rootDir := stringArg(args, "root_dir")
			if rootDir == "" {
				rootDir = p.rootDir
			}
			result, err := p.IndexProject(ctx, rootDir, boolArg(args, "force"))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"files_processed": result.FilesProcessed,
				"chunks_created":  result.ChunksCreated,
				"errors":          result.Errors,
				"ok":              true,
			}, nil
		},
	}
}

func searchContextTool(p *Pipeline) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        "search_context",
		Description: "Run a similarity search over indexed file and task context.",
		ReadOnly:    true,
		Schema: dispatch.Schema{
			Required: []string{"query"},
			Properties: map[string]dispatch.Property{
				"query":       {Type: "string"},
				"k":           {Type: "number", Description: "number of results to return, default 5"},
				"source_kind": {Type: "string", Enum: []string{"file", "context"}},
			},
		},
		Execute: func(ctx context.Context, principal dispatch.Principal, args map[string]interface{}) (map[string]interface{}, error) {
			result, err := p.Query(ctx, stringArg(args, "query"), intArg(args, "k", 5), stringArg(args, "source_kind"))
			if err != nil {
				return nil, err
			}
			hits := make([]interface{}, 0, len(result.Hits))
			for _, h := range result.Hits {
				hits = append(hits, map[string]interface{}{
					"chunk_id":    h.ChunkID,
					"source_kind": h.SourceKind,
					"source_ref":  h.SourceRef,
					"text":        h.Text,
					"similarity":  h.Similarity,
				})
			}
			return map[string]interface{}{
				"hits":    hits,
				"count":   len(hits),
				"timeout": result.Timeout,
			}, nil
		},
	}
}
