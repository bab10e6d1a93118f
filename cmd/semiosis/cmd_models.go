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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/semiosis/cmd/semiosis/config"
	"github.com/AleutianAI/semiosis/pkg/params"
	"github.com/AleutianAI/semiosis/pkg/ux"
	"github.com/AleutianAI/semiosis/services/agents"
	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/export"
)

const (
	defaultConfigPath = "semiosis.yaml"
	modelsTimeout     = 5 * time.Second
)

// runModels lists local Ollama models and the priced hosted models.
// An unreachable Ollama server is a warning, not an error.
func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	args := params.Args{}
	if strings.EqualFold(cfg.Agent.Type, "ollama") {
		args = cfg.Agent.Args
	}
	ollama, err := agents.NewOllama(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), modelsTimeout)
	defer cancel()
	local, err := ollama.ListModels(ctx)
	if err != nil {
		ux.Warn(out, fmt.Sprintf("Ollama unavailable: %v", err))
	} else {
		rows := make([][]string, 0, len(local))
		for _, m := range local {
			rows = append(rows, []string{m})
		}
		fmt.Fprintln(out, ux.Styles.Title.Render("Ollama"))
		fmt.Fprintln(out, ux.Table([]string{"model"}, rows))
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, ux.Styles.Title.Render("Together AI"))
	fmt.Fprintln(out, ux.Table(priceHeader, priceRows(agents.TogetherModels(), func(m string) agents.Price {
		p, _ := agents.TogetherPrice(m)
		return p
	})))
	fmt.Fprintln(out)
	fmt.Fprintln(out, ux.Styles.Title.Render("Anthropic"))
	fmt.Fprintln(out, ux.Table(priceHeader, priceRows(agents.AnthropicModels(), agents.AnthropicPrice)))
	return nil
}

var priceHeader = []string{"model", "input $/1M", "output $/1M"}

func priceRows(models []string, price func(string) agents.Price) [][]string {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		p := price(m)
		rows = append(rows, []string{m, fmt.Sprintf("%.2f", p.Input), fmt.Sprintf("%.2f", p.Output)})
	}
	return rows
}

// runConfigInit writes the default configuration.
func runConfigInit(cmd *cobra.Command, args []string) error {
	path := defaultConfigPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	ux.Success(cmd.OutOrStdout(), "Wrote "+path)
	return nil
}

// runConfigShow prints the effective configuration as YAML.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// runReport re-renders the summary of a saved results file.
func runReport(cmd *cobra.Command, args []string) error {
	res, err := export.ReadResults(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderResults(res))
	return nil
}

// runIndex loads a dbt project's models into Weaviate so the weaviate
// context provider can retrieve them.
func runIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Context == nil || !strings.EqualFold(cfg.Context.Type, "weaviate") {
		return fmt.Errorf("index needs --context weaviate")
	}
	if indexDBTProject == "" {
		return fmt.Errorf("index needs --dbt-project")
	}

	p, err := contexts.New(cfg.Context.Type, cfg.Context.Args)
	if err != nil {
		return err
	}
	w := p.(*contexts.Weaviate)

	ctx := cmd.Context()
	docs, err := contexts.DocumentsFromDBT(ctx, contexts.NewDBT(indexDBTProject))
	if err != nil {
		return err
	}
	if err := w.EnsureClass(ctx); err != nil {
		return err
	}
	n, err := w.Index(ctx, docs)
	if err != nil {
		return err
	}
	ux.Success(cmd.OutOrStdout(), fmt.Sprintf("Indexed %d dbt models", n))
	return nil
}
