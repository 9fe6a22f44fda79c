package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/config"
	"github.com/agent-mcp/agent-mcp/internal/coordination"
	"github.com/agent-mcp/agent-mcp/internal/reorganizer"
	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run the RAG indexing job over the project directory",
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-index files even if their content hash is unchanged")
}

func runIndex(cmd *cobra.Command, args []string) error {
	initLogging()
	defer closeLogging()

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	rt, err := coordination.Start(ctx, projectDir, cfg, adminToken(cfg), reorganizer.New())
	if err != nil {
		return err
	}
	defer rt.Shutdown(10 * time.Second)

	result, err := rt.RAG.IndexProject(ctx, projectDir, indexForce)
	if err != nil {
		return fmt.Errorf("indexing project: %w", err)
	}

	fmt.Printf("files_processed=%d chunks_created=%d errors=%d\n",
		result.FilesProcessed, result.ChunksCreated, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Println("  error:", e)
	}
	return nil
}
