package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/agent-mcp/agent-mcp/internal/config"
	"github.com/agent-mcp/agent-mcp/internal/coordination"
	"github.com/agent-mcp/agent-mcp/internal/logging"
	"go.uber.org/zap"
)

// cliLogger is the console-facing structured logger, separate from
// internal/logging's category file logger, the same split the teacher's
// cmd/nerd/main.go draws between a zap.Logger for CLI output and
// logging.Initialize for .agent/logs/ telemetry.
var cliLogger *zap.Logger

// exitCodeFor implements spec.md §6's exit code contract: 0 success
// (handled by cobra's nil-error return), 1 fatal startup error, 2 user-
// declined migration in interactive mode.
func exitCodeFor(err error) int {
	if errors.Is(err, coordination.ErrMigrationDeclined) {
		return 2
	}
	return 1
}

// initLogging starts both the file-based category logger and the
// console zap logger, the latter at debug level when --verbose is set.
func initLogging() {
	if err := logging.Initialize(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize logging: %v\n", err)
	} else if err := logging.InitAudit(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to open audit log: %v\n", err)
	}

	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize console logger: %v\n", err)
		return
	}
	cliLogger = l
}

// closeLogging flushes the console logger and closes the category logger's
// open files, mirroring the teacher's PersistentPostRun (logger.Sync then
// logging.CloseAll).
func closeLogging() {
	if cliLogger != nil {
		_ = cliLogger.Sync()
	}
	logging.CloseAll()
}

func adminToken(cfg *config.Config) string {
	envVar := cfg.Auth.AdminTokenEnvVar
	if envVar == "" {
		envVar = "AGENT_MCP_ADMIN_TOKEN"
	}
	return os.Getenv(envVar)
}
