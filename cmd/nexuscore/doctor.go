package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexuscore/internal/config"
	"github.com/nexuscore/nexuscore/internal/workflow"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nexuscore.yaml", "Path to YAML configuration file")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "config: FAIL (%v)\n", err)
		return err
	}
	fmt.Fprintf(out, "config: OK (%s)\n", configPath)

	registry := workflow.NewRegistry()
	if err := registry.LoadDir(cfg.Workflows.Dir); err != nil {
		fmt.Fprintf(out, "workflows: FAIL (%v)\n", err)
		return err
	}
	workflows := registry.List()
	fmt.Fprintf(out, "workflows: OK (%d registered)\n", len(workflows))
	for _, wf := range workflows {
		fmt.Fprintf(out, "  - %s\n", wf.ID)
	}
	return nil
}
