// Package main is the agentmcpd entry point: command registration and
// global flags. Subcommand bodies live in serve.go, migrate.go, index.go.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	projectDir string
	configPath string
	verbose    bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "agentmcpd",
	Short: "agent-mcp coordination runtime",
	Long: `agentmcpd owns the embedded Store, task graph, migration gate, and
tool dispatcher for a single agent-mcp project directory.

Run "agentmcpd serve" to start the runtime and serve tool calls over stdio.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project-dir", "p", ".", "project directory (contains .agent/)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML (default: <project-dir>/.agent/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, migrateCmd, indexCmd)
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(projectDir, ".agent", "config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
