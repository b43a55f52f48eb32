// Command nexuscore runs the local coding-agent runtime: the event bus,
// turn loop, workflow engine, IPC server, and scheduler described by
// this repository, plus the operator subcommands used to inspect and
// validate a workspace's configuration and workflows without starting
// the full process.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nexuscore",
		Short:        "Local-first coding agent runtime",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage: true,
	}
	cmd.AddCommand(
		buildServeCmd(),
		buildWorkflowCmd(),
		buildDoctorCmd(),
		buildReplayCmd(),
	)
	return cmd
}
