package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/config"
	"github.com/agent-mcp/agent-mcp/internal/coordination"
	"github.com/agent-mcp/agent-mcp/internal/dispatch"
	"github.com/agent-mcp/agent-mcp/internal/reorganizer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coordination runtime and serve tool calls over stdio",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	initLogging()
	defer closeLogging()

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := coordination.Start(ctx, projectDir, cfg, adminToken(cfg), reorganizer.New())
	if err != nil {
		return fmt.Errorf("starting coordination runtime: %w", err)
	}
	if cliLogger != nil {
		cliLogger.Info("coordination runtime started", zap.String("project_dir", projectDir))
	}

	srv := dispatch.NewServer(rt.Registry, rt.Auth)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, os.Stdin, os.Stdout) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && cliLogger != nil {
			cliLogger.Error("serve loop exited", zap.Error(err))
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "serve loop exited: %v\n", err)
		}
	}

	drain := time.Duration(cfg.Coordination.ShutdownDrainSec) * time.Second
	if drain <= 0 {
		drain = 10 * time.Second
	}
	return rt.Shutdown(drain)
}
