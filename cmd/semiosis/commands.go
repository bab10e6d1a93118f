// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/semiosis/cmd/semiosis/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configFile string
	overrides  config.Overrides

	sweepLevels      []string
	sweepConcurrency int
	sweepSeed        uint64

	indexDBTProject string

	rootCmd = &cobra.Command{
		Use:   "semiosis",
		Short: "Evaluate LLM agents with semantic information theory",
		Long: `semiosis runs an agent against a task environment, optionally degrading
the context it sees, and tracks how trust, budget and viability evolve.
The semantic threshold reports how much trust the agent earned before its
viability halved.`,
		SilenceUsage: true,
	}

	// --- Evaluation ---
	evaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation and write the results JSON",
		Args:  cobra.NoArgs,
		RunE:  runEvaluate, // Defined in cmd_evaluate.go
	}
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate the agent at several context intervention levels",
		Example: `  semiosis sweep --context dbt --context-args project_path=./analytics \
    --levels none,remove_25,remove_50,remove_75`,
		Args: cobra.NoArgs,
		RunE: runSweep, // Defined in cmd_evaluate.go
	}

	reportCmd = &cobra.Command{
		Use:   "report [results.json]",
		Short: "Print the summary of a saved evaluation",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport, // Defined in cmd_models.go
	}

	// --- Utilities ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Load a dbt project's models into the Weaviate context store",
		Example: `  semiosis index --context weaviate --context-args url=http://localhost:8080 \
    --dbt-project ./analytics`,
		Args: cobra.NoArgs,
		RunE: runIndex, // Defined in cmd_models.go
	}
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List local Ollama models and hosted model pricing",
		Args:  cobra.NoArgs,
		RunE:  runModels, // Defined in cmd_models.go
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to path (default semiosis.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit, // Defined in cmd_models.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after flags are applied",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_models.go
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the semiosis version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "semiosis %s\n", version)
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config-file", "c", "", "YAML configuration file")
	pf.StringVar(&overrides.Agent, "agent", "", "Agent type (mock, ollama, together, openai, anthropic)")
	pf.StringVar(&overrides.AgentArgs, "agent-args", "", "Agent settings as key=value,key=value")
	pf.StringVar(&overrides.Environment, "environment", "", "Environment type (mock, text-to-sql)")
	pf.StringVar(&overrides.EnvironmentArgs, "environment-args", "", "Environment settings as key=value,key=value")
	pf.StringVar(&overrides.Context, "context", "", "Context provider (mock, dbt, weaviate, schema, none)")
	pf.StringVar(&overrides.ContextArgs, "context-args", "", "Context settings as key=value,key=value")
	pf.StringVarP(&overrides.Output, "output", "o", "", "Results file (default ./results.json)")
	pf.StringVar(&overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&overrides.MonitorAddr, "monitor-addr", "", "Serve progress and metrics on host:port")
	pf.IntVar(&overrides.MaxTasks, "max-tasks", 0, "Evaluate at most this many tasks")

	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringSliceVar(&overrides.Interventions, "interventions", nil,
		"Context interventions applied in order (remove_30, shuffle, truncate_2000, drop_chunks_50)")

	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringSliceVar(&sweepLevels, "levels", []string{"none", "remove_25", "remove_50", "remove_75"},
		"Intervention levels; 'none' is the undegraded baseline")
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 2, "Levels evaluated at once (0 for all)")
	sweepCmd.Flags().Uint64Var(&sweepSeed, "seed", 0, "Seed for random interventions (0 picks one)")

	rootCmd.AddCommand(reportCmd)

	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexDBTProject, "dbt-project", "", "dbt project whose target/manifest.json is indexed")

	rootCmd.AddCommand(modelsCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config-file and applies the flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Apply(overrides); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
