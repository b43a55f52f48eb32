package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/internal/config"
	"github.com/nexuscore/nexuscore/internal/daemon"
	"github.com/nexuscore/nexuscore/internal/workflow"
	"github.com/nexuscore/nexuscore/internal/workspace"
)

func buildWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and run workflows without starting the full daemon",
	}
	cmd.AddCommand(buildWorkflowLintCmd(), buildWorkflowDryRunCmd(), buildWorkflowRunCmd())
	return cmd
}

func loadEngine(configPath string) (*workflow.Engine, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	registry := workflow.NewRegistry()
	if err := registry.LoadDir(cfg.Workflows.Dir); err != nil {
		return nil, nil, fmt.Errorf("load workflows: %w", err)
	}
	store, err := workflow.NewRunStore(cfg.Workflows.RunsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}
	ws, err := workspace.New(cfg.Workspace.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("open workspace: %w", err)
	}
	b := bus.New()
	engine := workflow.NewEngine(registry, store, ws, b, cfg.Workflows.DefaultStepTimeout, nil)
	return engine, cfg, nil
}

func buildWorkflowLintCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "lint <workflow-id>",
		Short: "Validate a workflow and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine(configPath)
			if err != nil {
				return err
			}
			result, err := engine.Lint(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nexuscore.yaml", "Path to YAML configuration file")
	return cmd
}

func buildWorkflowDryRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "dry-run <workflow-id>",
		Short: "Print the plan a workflow run would follow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine(configPath)
			if err != nil {
				return err
			}
			result, err := engine.DryRun(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nexuscore.yaml", "Path to YAML configuration file")
	return cmd
}

// buildWorkflowRunCmd starts a run through a fully wired daemon rather
// than a standalone Engine: a step's type defaults to "agent", and only
// a running turn loop subscribed to workflow:step:start ever answers
// those steps with workflow:step:complete. A standalone Engine with its
// own bus.New() has nothing on the other end and the run would hang
// until --timeout expired.
func buildWorkflowRunCmd() *cobra.Command {
	var configPath string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Start a workflow run and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := cmd.Context()

			d, err := daemon.Build(ctx, cfg, slog.Default())
			if err != nil {
				return fmt.Errorf("build daemon: %w", err)
			}

			d.Engine.Start(ctx)
			defer d.Engine.Stop()
			if err := d.Engine.Restore(ctx); err != nil {
				return fmt.Errorf("restore runs: %w", err)
			}
			d.Loop.Start(ctx)
			defer d.Loop.Stop()

			run, err := d.Engine.StartRun(ctx, args[0], nil)
			if err != nil {
				return fmt.Errorf("start run: %w", err)
			}
			return waitForRun(ctx, cmd, run.ID, d.RunStore, timeout)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nexuscore.yaml", "Path to YAML configuration file")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait for the run to finish")
	return cmd
}

func waitForRun(ctx context.Context, cmd *cobra.Command, runID int64, store *workflow.RunStore, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		run, err := store.Load(ctx, runID)
		if err == nil && run.State.IsTerminal() {
			return printJSON(cmd, run)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("workflow run %d did not finish within %s", runID, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
