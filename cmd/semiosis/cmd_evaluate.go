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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/semiosis/pkg/ux"
	"github.com/AleutianAI/semiosis/pkg/validation"
	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/evaluation"
	"github.com/AleutianAI/semiosis/services/export"
)

const (
	evaluateLabel = "evaluate"
	plainBarWidth = 20
	closeTimeout  = 10 * time.Second
)

func plainBar(current, total int) string {
	return evaluation.ProgressBar(current, total, plainBarWidth)
}

// runEvaluate runs one evaluation and writes its report.
//
// An interrupted run still writes the partial report before returning
// the cancellation error.
func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeApp(a)

	agent, err := a.buildAgent(ctx)
	if err != nil {
		return err
	}

	provider, err := a.buildProvider(ctx)
	if err != nil {
		return err
	}
	if provider != nil && len(cfg.Interventions) > 0 {
		decorate, err := contexts.ParseInterventions(cfg.Interventions, nil)
		if err != nil {
			return err
		}
		provider = decorate(provider)
	} else if len(cfg.Interventions) > 0 {
		a.logger.Warn("Interventions ignored: no context provider configured", "interventions", cfg.Interventions)
	}

	var results *evaluation.Results
	title := fmt.Sprintf("Evaluating %s on %s", agent.Name(), cfg.Environment.Type)
	runErr := ux.TrackProgress(cmd.ErrOrStderr(), title, plainBar, func(report ux.ReportFunc) error {
		runner, err := a.newRunner(agent, evaluateLabel, provider, cfg.Interventions, report)
		if err != nil {
			return err
		}
		results, err = runner.Run(ctx)
		return err
	})
	if results == nil {
		return runErr
	}
	a.tracker.Finish(evaluateLabel, results)

	// The report is still exported after an interrupt.
	exportErr := a.exportResults(context.WithoutCancel(ctx), results.RunID, results, func(ctx context.Context, s *export.InfluxSink) error {
		return s.WriteResults(ctx, results)
	})

	fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
	return errors.Join(runErr, exportErr)
}

// runSweep evaluates the agent at every --levels intervention and writes
// the combined report.
func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Context == nil {
		return fmt.Errorf("sweep needs a context provider to degrade: set --context or context.type")
	}
	if err := validation.ValidateLabels(sweepLevels); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeApp(a)

	agent, err := a.buildAgent(ctx)
	if err != nil {
		return err
	}

	provider, err := a.buildProvider(ctx)
	if err != nil {
		return err
	}

	var results *evaluation.SweepResults
	title := fmt.Sprintf("Sweeping %s over %s", agent.Name(), strings.Join(sweepLevels, ", "))
	err = ux.TrackProgress(cmd.ErrOrStderr(), title, plainBar, func(report ux.ReportFunc) error {
		sweep := &evaluation.Sweep{
			Levels:      sweepLevels,
			Provider:    provider,
			Concurrency: sweepConcurrency,
			Seed:        sweepSeed,
			NewRunner: func(_ context.Context, level string, p contexts.Provider) (*evaluation.Runner, error) {
				var interventions []string
				if level != evaluation.BaselineLevel {
					interventions = []string{level}
				}
				return a.newRunner(agent, level, p, interventions, report)
			},
		}
		var err error
		results, err = sweep.Run(ctx)
		return err
	})
	if err != nil {
		return err
	}
	for _, lr := range results.Levels {
		a.tracker.Finish(lr.Level, lr.Results)
	}

	exportErr := a.exportResults(ctx, results.SweepID, results, func(ctx context.Context, s *export.InfluxSink) error {
		return s.WriteSweep(ctx, results)
	})

	fmt.Fprintln(cmd.OutOrStdout(), renderSweep(results))
	return exportErr
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}
