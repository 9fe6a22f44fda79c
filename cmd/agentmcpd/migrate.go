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

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run schema migration and reorganization, then exit",
	Long: `migrate runs C2's check-and-migrate sequence against the project's
store and exits. It performs the same startup-time migration Start runs,
useful for pre-warming a store before the first "serve" invocation or for
running migration in a CI step.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
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
	return rt.Shutdown(10 * time.Second)
}
