// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluation

import (
	"time"

	"github.com/AleutianAI/semiosis/pkg/params"
	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/sit"
)

// scoreWindow is the moving-average window applied to task scores.
const scoreWindow = 3

// TaskRecord is the outcome of one task.
type TaskRecord struct {
	TaskID          string               `json:"task_id"`
	Query           string               `json:"query"`
	Response        string               `json:"response"`
	GroundTruth     string               `json:"ground_truth,omitempty"`
	Evaluation      sit.EvaluationResult `json:"evaluation"`
	ContextSize     int                  `json:"context_size"`
	ContextMetadata contexts.Metadata    `json:"context_metadata,omitempty"`
	AgentMetadata   map[string]any       `json:"agent_metadata,omitempty"`
	Cost            float64              `json:"cost"`
	Trust           float64              `json:"trust"`
	Budget          float64              `json:"budget"`
	LatencyMs       int64                `json:"latency_ms"`
	LogLikelihood   float64              `json:"log_likelihood"`
	CrossEntropy    float64              `json:"cross_entropy"`
	Perplexity      float64              `json:"perplexity"`
}

// Summary aggregates a run.
type Summary struct {
	TotalTasks      int        `json:"total_tasks"`
	SuccessfulTasks int        `json:"successful_tasks"`
	SuccessRate     float64    `json:"success_rate"`
	TotalCost       float64    `json:"total_cost"`
	AverageScore    float64    `json:"average_score"`
	ScoreCI         [2]float64 `json:"score_ci_95"`
	FinalTrust      float64    `json:"final_trust"`
	FinalBudget     float64    `json:"final_budget"`
}

// Analysis extends the evaluator's trace analysis with run-level signals.
type Analysis struct {
	sit.Analysis

	MutualInformation     float64   `json:"mutual_information"`
	ScoreTrustCorrelation float64   `json:"score_trust_correlation"`
	ScoreMovingAverage    []float64 `json:"score_moving_average"`
	MeanCrossEntropy      float64   `json:"mean_cross_entropy"`
	MeanPerplexity        float64   `json:"mean_perplexity"`
}

// Metadata identifies what was evaluated.
type Metadata struct {
	Label         string           `json:"label,omitempty"`
	Agent         string           `json:"agent"`
	AgentConfig   map[string]any   `json:"agent_config"`
	Environment   string           `json:"environment"`
	ContextType   string           `json:"context_type,omitempty"`
	Interventions []string         `json:"interventions,omitempty"`
	InitialTrust  float64          `json:"initial_trust"`
	TrustConfig   sit.TrustConfig  `json:"trust_config"`
	BudgetConfig  sit.BudgetConfig `json:"budget_config"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// Results is everything a run produced. It is serialised as the run's
// JSON report.
type Results struct {
	RunID       string           `json:"run_id"`
	Summary     Summary          `json:"summary"`
	Results     []TaskRecord     `json:"results"`
	AgentStates []sit.AgentState `json:"agent_states"`
	Analysis    Analysis         `json:"analysis"`
	Metadata    Metadata         `json:"metadata"`
}

func (r *Runner) compile(runID string, started time.Time, records []TaskRecord) *Results {
	res := &Results{
		RunID:       runID,
		Results:     records,
		AgentStates: r.evaluator.States(),
		Summary:     Summarize(records),
		Metadata: Metadata{
			Label:         r.cfg.Label,
			Agent:         r.agent.Name(),
			AgentConfig:   params.Args(r.agent.Config()).Redacted(),
			Environment:   r.env.Name(),
			ContextType:   r.cfg.ContextType,
			Interventions: r.cfg.Interventions,
			InitialTrust:  r.cfg.InitialTrust,
			TrustConfig:   r.evaluator.TrustConfig(),
			BudgetConfig:  r.evaluator.BudgetConfig(),
			StartedAt:     started.UTC(),
			FinishedAt:    time.Now().UTC(),
		},
	}
	if n := len(records); n > 0 {
		res.Summary.FinalTrust = records[n-1].Trust
		res.Summary.FinalBudget = records[n-1].Budget
	}

	scores := make([]float64, len(records))
	trusts := make([]float64, len(records))
	envStates := make([]any, len(records))
	crossEntropy, perplexity := 0.0, 0.0
	for i, rec := range records {
		scores[i] = rec.Evaluation.Score
		trusts[i] = rec.Trust
		envStates[i] = rec.TaskID
		crossEntropy += rec.CrossEntropy
		perplexity += rec.Perplexity
	}

	res.Analysis = Analysis{
		Analysis:              r.evaluator.Analyze(r.cfg.TrustThresholds),
		MutualInformation:     r.evaluator.CalculateMutualInformation(res.AgentStates, envStates),
		ScoreTrustCorrelation: sit.CalculateCorrelation(scores, trusts),
		ScoreMovingAverage:    sit.MovingAverage(scores, scoreWindow),
	}
	if n := float64(len(records)); n > 0 {
		res.Analysis.MeanCrossEntropy = crossEntropy / n
		res.Analysis.MeanPerplexity = perplexity / n
	}
	return res
}

// Summarize aggregates task records.
func Summarize(records []TaskRecord) Summary {
	s := Summary{TotalTasks: len(records)}
	if len(records) == 0 {
		return s
	}
	scores := make([]float64, len(records))
	total := 0.0
	for i, rec := range records {
		if rec.Evaluation.Success {
			s.SuccessfulTasks++
		}
		s.TotalCost += rec.Cost
		scores[i] = rec.Evaluation.Score
		total += rec.Evaluation.Score
	}
	n := float64(len(records))
	s.SuccessRate = float64(s.SuccessfulTasks) / n
	s.AverageScore = total / n
	lo, hi := sit.CalculateConfidenceInterval(scores, 0.95)
	s.ScoreCI = [2]float64{lo, hi}
	return s
}
