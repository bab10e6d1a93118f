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
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/semiosis/cmd/semiosis/config"
	"github.com/AleutianAI/semiosis/pkg/logging"
	"github.com/AleutianAI/semiosis/services/agents"
	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/environments"
	"github.com/AleutianAI/semiosis/services/evaluation"
	"github.com/AleutianAI/semiosis/services/export"
	"github.com/AleutianAI/semiosis/services/monitor"
	"github.com/AleutianAI/semiosis/services/sit"
	"github.com/AleutianAI/semiosis/services/telemetry"
)

// schemaContext selects the text-to-sql environment's own schema as context.
const schemaContext = "schema"

// app holds the process-wide collaborators shared by every run of a
// command: logging, telemetry, the response cache and the monitor.
type app struct {
	cfg     config.Config
	logger  *logging.Logger
	metrics *telemetry.Metrics
	tracker *monitor.Tracker
	server  *monitor.Server
	cache   *agents.Cache

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// newApp initializes logging, telemetry, the optional cache and the
// optional monitor server. Call Close when done, even on error paths after
// it returns successfully.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "semiosis",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
		Writer:  logOut,
	})
	slog.SetDefault(logger.Slog())

	a := &app{cfg: cfg, logger: logger, tracker: monitor.NewTracker()}
	a.closers = append(a.closers, func(context.Context) error { return logger.Close() })

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.metrics, err = telemetry.NewMetrics(otel.Meter("semiosis")); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	if cfg.Cache.Enabled {
		cache, err := agents.OpenCache(agents.CacheConfig{
			Dir:      cfg.Cache.Dir,
			InMemory: cfg.Cache.InMemory,
			TTL:      cfg.Cache.TTL,
			Logger:   logger.Slog(),
		})
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.cache = cache
		a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
	}

	if cfg.Monitor.Addr != "" {
		a.server = monitor.NewServer(a.tracker, cfg.Monitor.Addr)
		addr, err := a.server.Start()
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("start monitor: %w", err)
		}
		logger.Info("Monitor listening", "addr", addr)
		a.closers = append(a.closers, a.server.Shutdown)
	}
	return a, nil
}

// Close releases everything newApp and the build helpers opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Builders
// -----------------------------------------------------------------------------

// buildAgent constructs the configured agent and wraps it with the rate
// limiter and cache when enabled. The cache sits outside the limiter so
// cache hits are not throttled. A local model that has not been pulled is
// reported here rather than by every task.
func (a *app) buildAgent(ctx context.Context) (agents.Agent, error) {
	agent, err := agents.New(a.cfg.Agent.Type, a.cfg.Agent.Args)
	if err != nil {
		return nil, err
	}
	if mc, ok := agent.(interface{ CheckModel(context.Context) error }); ok {
		if err := mc.CheckModel(ctx); err != nil {
			a.logger.Warn("Agent model check failed", "agent", agent.Name(), "error", err)
		}
	}
	if rl := a.cfg.RateLimit; rl.RPS > 0 {
		agent = agents.WithRateLimit(agent, rl.RPS, rl.Burst)
	}
	if a.cache != nil {
		agent = agents.WithCache(agent, a.cache)
	}
	return agent, nil
}

// buildEnvironment returns a fresh, uninitialized environment. Every
// runner needs its own because the runner closes it.
func (a *app) buildEnvironment() (environments.Environment, error) {
	return environments.New(a.cfg.Environment.Type, a.cfg.Environment.Args)
}

// buildProvider returns the configured context provider without
// interventions, or nil when no context is configured.
//
// Description:
//
//	"schema" opens a dedicated copy of the environment and serves its
//	table definitions. A dbt provider with args watch=true reloads its
//	manifest in the background until ctx is cancelled.
func (a *app) buildProvider(ctx context.Context) (contexts.Provider, error) {
	c := a.cfg.Context
	if c == nil {
		return nil, nil
	}

	if strings.EqualFold(c.Type, schemaContext) {
		env, err := a.buildEnvironment()
		if err != nil {
			return nil, err
		}
		p, ok := env.(contexts.Provider)
		if !ok {
			return nil, fmt.Errorf("environment %q cannot provide schema context", env.Name())
		}
		if err := env.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize schema context: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return env.Close() })
		return p, nil
	}

	p, err := contexts.New(c.Type, c.Args)
	if err != nil {
		return nil, err
	}
	if dbt, ok := p.(*contexts.DBT); ok && c.Args.Bool("watch", false) {
		go func() {
			if err := dbt.Watch(ctx, nil); err != nil {
				a.logger.Warn("dbt manifest watch stopped", "error", err)
			}
		}()
	}
	return p, nil
}

// contextType names the configured provider for result metadata.
func (a *app) contextType() string {
	if a.cfg.Context == nil {
		return ""
	}
	return a.cfg.Context.Type
}

// newRunner builds a runner with a fresh environment and evaluator.
//
// Inputs:
//   - agent: Shared across runners so rate limits and the cache apply
//     to the whole process.
//   - label: Names the run in progress reports and results.
//   - provider: Context for the run, already decorated. May be nil.
//   - interventions: Recorded in the results metadata.
//   - report: Progress sink for the terminal display. May be nil.
func (a *app) newRunner(agent agents.Agent, label string, provider contexts.Provider,
	interventions []string, report func(label string, current, total int)) (*evaluation.Runner, error) {

	env, err := a.buildEnvironment()
	if err != nil {
		return nil, err
	}
	evaluator, err := sit.NewSemioticEvaluator(
		sit.WithTrustConfig(a.cfg.Evaluation.TrustConfig()),
		sit.WithBudgetConfig(a.cfg.Evaluation.BudgetConfig()),
	)
	if err != nil {
		return nil, err
	}

	rc := a.cfg.Evaluation.RunnerConfig()
	rc.Label = label
	rc.Interventions = interventions
	rc.ContextType = a.contextType()

	opts := []evaluation.Option{
		evaluation.WithConfig(rc),
		evaluation.WithMetrics(a.metrics),
		evaluation.WithLogger(a.logger.Slog().With("run", label)),
		evaluation.WithProgress(func(current, total int) {
			a.tracker.Update(label, current, total)
			if report != nil {
				report(label, current, total)
			}
		}),
	}
	if provider != nil {
		opts = append(opts, evaluation.WithProvider(provider))
	}
	return evaluation.NewRunner(agent, env, evaluator, opts...)
}

// -----------------------------------------------------------------------------
// Export
// -----------------------------------------------------------------------------

// exportResults writes v to the configured output file and forwards it to
// InfluxDB and GCS when enabled.
//
// Description:
//
//	The JSON file is the primary artifact: failing to write it is an
//	error. Sink failures are logged and joined into the returned error
//	after every sink has been attempted, so one unreachable service does
//	not hide the others. runID names the uploaded object.
func (a *app) exportResults(ctx context.Context, runID string, v any,
	toInflux func(context.Context, *export.InfluxSink) error) error {

	if err := export.WriteJSON(a.cfg.Output, v); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	a.logger.Info("Results written", "path", a.cfg.Output)

	var errs []error
	if ic := a.cfg.Export.Influx; ic != nil && ic.Enabled {
		if err := a.writeInflux(ctx, ic.Resolve(), toInflux); err != nil {
			a.logger.Warn("InfluxDB export failed", "error", err)
			errs = append(errs, err)
		}
	}
	if gc := a.cfg.Export.GCS; gc != nil && gc.Bucket != "" {
		uri, err := a.uploadGCS(ctx, *gc, path.Join(runID, filepath.Base(a.cfg.Output)))
		if err != nil {
			a.logger.Warn("GCS upload failed", "error", err)
			errs = append(errs, err)
		} else {
			a.logger.Info("Results uploaded", "uri", uri)
		}
	}
	return errors.Join(errs...)
}

func (a *app) writeInflux(ctx context.Context, cfg export.InfluxConfig,
	write func(context.Context, *export.InfluxSink) error) error {

	sink, err := export.NewInfluxSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer sink.Close()
	return write(ctx, sink)
}

func (a *app) uploadGCS(ctx context.Context, cfg export.GCSConfig, name string) (string, error) {
	up, err := export.NewGCSUploader(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer up.Close()
	return up.Upload(ctx, a.cfg.Output, name)
}
