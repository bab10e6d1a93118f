// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluation drives agents through an environment's tasks and
// feeds each outcome into the semiotic evaluator.
//
// A Runner evaluates one agent against one environment, optionally with a
// context provider. A Sweep runs several Runners concurrently, one per
// intervention level, to measure how performance degrades as context is
// removed.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/semiosis/pkg/params"
	"github.com/AleutianAI/semiosis/services/agents"
	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/environments"
	"github.com/AleutianAI/semiosis/services/sit"
	"github.com/AleutianAI/semiosis/services/telemetry"
)

const tracerName = "semiosis.evaluation"

var (
	// ErrNilAgent is returned by NewRunner without an agent.
	ErrNilAgent = errors.New("agent is required")

	// ErrNilEnvironment is returned by NewRunner without an environment.
	ErrNilEnvironment = errors.New("environment is required")
)

// DefaultTrustThresholds are the η values at which viability is reported.
var DefaultTrustThresholds = []float64{0.0, 0.25, 0.5, 0.75, 1.0}

// ProgressFunc is called after each task with the number completed.
type ProgressFunc func(current, total int)

// Config controls a run.
type Config struct {
	// InitialTrust is the trust before the first task.
	InitialTrust float64 `yaml:"initial_trust" json:"initial_trust"`

	// TrustThresholds are the η values of the reported viability curve.
	TrustThresholds []float64 `yaml:"trust_thresholds" json:"trust_thresholds"`

	// MaxTasks caps the tasks taken from the environment. Zero means all.
	MaxTasks int `yaml:"max_tasks" json:"max_tasks" validate:"gte=0"`

	// UseCostFunction prices responses with the evaluator's cost function
	// when the agent reports zero cost (local models).
	UseCostFunction bool `yaml:"use_cost_function" json:"use_cost_function"`

	// Label names the run, e.g. the intervention level of a sweep.
	Label string `yaml:"-" json:"label,omitempty"`

	// Interventions are recorded in the results metadata.
	Interventions []string `yaml:"-" json:"interventions,omitempty"`

	// ContextType is recorded in the results metadata.
	ContextType string `yaml:"-" json:"context_type,omitempty"`
}

// Runner evaluates one agent against one environment.
//
// Description:
//
//	For each task the runner fetches context, asks the agent, scores the
//	response, then updates trust (UpdateTrust) and budget (UpdateBudget)
//	and appends the resulting AgentState to the evaluator. An agent or
//	context failure becomes a failed task with score 0; it does not stop
//	the run. Only cancellation of ctx or an environment failure does.
//
// Thread Safety: A Runner runs once at a time. Use separate Runners (and
// evaluators) for concurrent runs.
type Runner struct {
	agent     agents.Agent
	env       environments.Environment
	provider  contexts.Provider
	evaluator *sit.SemioticEvaluator
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	progress  ProgressFunc
	cfg       Config
}

// Option configures a Runner.
type Option func(*Runner)

// WithProvider supplies context for every query.
func WithProvider(p contexts.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithMetrics records per-task instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithConfig replaces the default Config.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// NewRunner creates a runner.
//
// Inputs:
//   - agent: The agent under evaluation.
//   - env: The task environment. The runner initializes and closes it.
//   - evaluator: Receives one AgentState per task. Nil creates a default
//     evaluator.
//   - opts: Optional settings.
//
// Outputs:
//   - *Runner: The runner.
//   - error: ErrNilAgent, ErrNilEnvironment, or an evaluator error.
func NewRunner(agent agents.Agent, env environments.Environment, evaluator *sit.SemioticEvaluator, opts ...Option) (*Runner, error) {
	if agent == nil {
		return nil, ErrNilAgent
	}
	if env == nil {
		return nil, ErrNilEnvironment
	}
	if evaluator == nil {
		var err error
		if evaluator, err = sit.NewSemioticEvaluator(); err != nil {
			return nil, err
		}
	}
	r := &Runner{
		agent:     agent,
		env:       env,
		evaluator: evaluator,
		logger:    slog.Default(),
		cfg:       Config{TrustThresholds: DefaultTrustThresholds},
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.cfg.TrustThresholds) == 0 {
		r.cfg.TrustThresholds = DefaultTrustThresholds
	}
	return r, nil
}

// Evaluator returns the runner's evaluator.
func (r *Runner) Evaluator() *sit.SemioticEvaluator { return r.evaluator }

// Run evaluates every task and compiles the results.
//
// Outputs:
//   - *Results: Complete results. On cancellation the tasks finished so
//     far are returned alongside ctx's error.
//   - error: Environment failures or ctx.Err().
func (r *Runner) Run(ctx context.Context) (*Results, error) {
	runID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Runner.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("agent", r.agent.Name()),
			attribute.String("environment", r.env.Name()),
			attribute.String("label", r.cfg.Label),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, r.logger).With("run_id", runID)

	if err := r.env.Initialize(ctx); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("initialize %s: %w", r.env.Name(), err)
	}
	defer func() {
		if err := r.env.Close(); err != nil {
			logger.Warn("environment close failed", "error", err)
		}
	}()

	tasks, err := r.env.Tasks(ctx, r.cfg.MaxTasks)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	logger.Info("Starting evaluation", "agent", r.agent.Name(), "environment", r.env.Name(), "tasks", len(tasks))

	started := time.Now()
	trust := r.cfg.InitialTrust
	budget := r.evaluator.BudgetConfig().InitialBudget
	records := make([]TaskRecord, 0, len(tasks))

	var runErr error
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		rec := r.runTask(ctx, task, &trust, &budget)
		records = append(records, rec)

		logger.Debug("Task evaluated",
			"task", task.ID, "success", rec.Evaluation.Success, "score", rec.Evaluation.Score,
			"trust", rec.Trust, "budget", rec.Budget)
		if r.progress != nil {
			r.progress(i+1, len(tasks))
		}
	}

	res := r.compile(runID, started, records)
	span.SetAttributes(
		attribute.Int("tasks", res.Summary.TotalTasks),
		attribute.Float64("success_rate", res.Summary.SuccessRate),
	)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		return res, runErr
	}
	logger.Info("Evaluation complete",
		"tasks", res.Summary.TotalTasks, "success_rate", res.Summary.SuccessRate,
		"semantic_threshold", res.Analysis.SemanticThreshold)
	return res, nil
}

// runTask evaluates one task and advances trust and budget.
func (r *Runner) runTask(ctx context.Context, task environments.Task, trust, budget *float64) TaskRecord {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Runner.Task",
		trace.WithAttributes(attribute.String("task_id", task.ID)))
	defer span.End()

	rec := TaskRecord{
		TaskID:      task.ID,
		Query:       task.Query,
		GroundTruth: task.GroundTruth,
	}

	var contextText string
	if r.provider != nil {
		text, meta, err := r.provider.GetContext(ctx, task.Query)
		if err != nil {
			telemetry.RecordError(span, err, attribute.String("stage", "context"))
			rec.Evaluation = stageFailure("context", err)
		} else {
			contextText = text
			rec.ContextSize = utf8.RuneCountInString(text)
			rec.ContextMetadata = meta
		}
	}

	var resp *agents.Response
	if rec.Evaluation.Error == "" {
		start := time.Now()
		var err error
		resp, err = r.agent.GenerateResponse(ctx, task.Query, contextText)
		rec.LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			telemetry.RecordError(span, err, attribute.String("stage", "agent"))
			rec.Evaluation = stageFailure("agent", err)
			resp = nil
		}
	}

	if resp != nil {
		rec.Response = resp.Output
		rec.Cost = resp.Cost
		rec.AgentMetadata = resp.Metadata
		rec.Evaluation = r.env.Evaluate(ctx, task, resp.Output)

		tokens := sit.ExtractTokenProbabilities(resp.Output, resp.Logprobs, r.evaluator.TrustConfig().DefaultLogprob)
		rec.LogLikelihood = r.evaluator.CalculateLogLikelihood(resp.Logprobs, resp.Output)
		rec.CrossEntropy = sit.CalculateCrossEntropy(tokens)
		rec.Perplexity = sit.CalculatePerplexity(tokens)
	}
	if rec.Cost == 0 && r.cfg.UseCostFunction && resp != nil {
		rec.Cost = r.evaluator.CalculateCost(task.Query, rec.Response)
	}

	*trust = r.evaluator.UpdateTrust(*trust, rec.Evaluation)
	*budget = r.evaluator.UpdateBudget(*budget, rec.Cost, *trust)
	rec.Trust, rec.Budget = *trust, *budget

	r.evaluator.AddAgentState(sit.AgentState{
		Query:      task.Query,
		Output:     rec.Response,
		Trust:      *trust,
		Cost:       rec.Cost,
		Budget:     *budget,
		Parameters: params.Args(r.agent.Config()).Redacted(),
	})

	span.SetAttributes(
		attribute.Bool("success", rec.Evaluation.Success),
		attribute.Float64("score", rec.Evaluation.Score),
		attribute.Float64("trust", *trust),
	)
	r.metrics.RecordTask(ctx, telemetry.TaskObservation{
		Environment: r.env.Name(),
		Agent:       r.agent.Name(),
		Success:     rec.Evaluation.Success,
		Score:       rec.Evaluation.Score,
		Cost:        rec.Cost,
		Trust:       *trust,
		Budget:      *budget,
		Latency:     float64(rec.LatencyMs) / 1000,
	})
	return rec
}

func stageFailure(stage string, err error) sit.EvaluationResult {
	return sit.EvaluationResult{
		Success: false,
		Score:   0.0,
		Error:   err.Error(),
		Details: map[string]any{"stage": stage},
	}
}
