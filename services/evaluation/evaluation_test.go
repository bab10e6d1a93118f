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
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/semiosis/services/agents"
	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/environments"
	"github.com/AleutianAI/semiosis/services/sit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedAgent answers from a fixed table keyed by query.
type scriptedAgent struct {
	answers map[string]string
	errs    map[string]error
	cost    float64
	calls   atomic.Int32
}

func (a *scriptedAgent) GenerateResponse(_ context.Context, query, _ string) (*agents.Response, error) {
	a.calls.Add(1)
	if err := a.errs[query]; err != nil {
		return nil, err
	}
	return &agents.Response{
		Output:   a.answers[query],
		Logprobs: map[string]float64{a.answers[query]: -0.5},
		Cost:     a.cost,
	}, nil
}

func (a *scriptedAgent) Name() string { return "scripted" }

func (a *scriptedAgent) Config() map[string]any {
	return map[string]any{"model": "scripted", "api_key": "sk-secret"}
}

func newScripted() *scriptedAgent {
	return &scriptedAgent{
		answers: map[string]string{
			"What is the capital of France?":    "Paris",
			"How do you reverse a linked list?": "nothing",
		},
		errs: map[string]error{
			"Explain the theory of relativity in simple terms.": errors.New("backend down"),
		},
		cost: 1.0,
	}
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, environments.NewMock(0.7), nil)
	assert.ErrorIs(t, err, ErrNilAgent)

	_, err = NewRunner(newScripted(), nil, nil)
	assert.ErrorIs(t, err, ErrNilEnvironment)

	r, err := NewRunner(newScripted(), environments.NewMock(0.7), nil)
	require.NoError(t, err)
	assert.NotNil(t, r.Evaluator())
}

func TestRunner_TrustAndBudgetDynamics(t *testing.T) {
	var progress [][2]int
	r, err := NewRunner(newScripted(), environments.NewMock(0.7), nil,
		WithProgress(func(c, n int) { progress = append(progress, [2]int{c, n}) }),
	)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	// success +2, failure -1, failure clamped at 0
	assert.InDelta(t, 2.0, res.Results[0].Trust, 1e-9)
	assert.InDelta(t, 1.0, res.Results[1].Trust, 1e-9)
	assert.InDelta(t, 0.0, res.Results[2].Trust, 1e-9)

	// b - c + 0.1*trust
	assert.InDelta(t, 99.2, res.Results[0].Budget, 1e-9)
	assert.InDelta(t, 99.3, res.Results[1].Budget, 1e-9)
	assert.InDelta(t, 98.3, res.Results[2].Budget, 1e-9)

	failed := res.Results[1].Evaluation
	assert.False(t, failed.Success)
	assert.Equal(t, "backend down", failed.Error)
	assert.Equal(t, "agent", failed.Details["stage"])
	assert.Zero(t, res.Results[1].Cost)

	assert.Equal(t, 3, res.Summary.TotalTasks)
	assert.Equal(t, 1, res.Summary.SuccessfulTasks)
	assert.InDelta(t, 1.0/3.0, res.Summary.SuccessRate, 1e-9)
	assert.InDelta(t, 2.0, res.Summary.TotalCost, 1e-9)
	assert.InDelta(t, 0.0, res.Summary.FinalTrust, 1e-9)
	assert.InDelta(t, 98.3, res.Summary.FinalBudget, 1e-9)

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
	assert.Equal(t, 3, r.Evaluator().Len())
	assert.Len(t, res.AgentStates, 3)
	assert.NotContains(t, res.AgentStates[0].Parameters, "api_key")
	assert.NotContains(t, res.Metadata.AgentConfig, "api_key")
	assert.Equal(t, "scripted", res.Metadata.AgentConfig["model"])
	assert.NotEmpty(t, res.RunID)
}

func TestRunner_Analysis(t *testing.T) {
	r, err := NewRunner(newScripted(), environments.NewMock(0.7), nil,
		WithConfig(Config{TrustThresholds: []float64{0, 1.5}}))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	// Trusts are 2, 1, 0: two of three exceed 0, one exceeds 1.5.
	require.Len(t, res.Analysis.ViabilityCurve, 2)
	assert.InDelta(t, 2.0/3.0, res.Analysis.ViabilityCurve[0].Viability, 1e-9)
	assert.InDelta(t, 1.0/3.0, res.Analysis.ViabilityCurve[1].Viability, 1e-9)
	assert.InDelta(t, 2.0/3.0, res.Analysis.BaselineViability, 1e-9)
	assert.Equal(t, []float64{2, 1, 0}, res.Analysis.Trajectory.Trust)
	assert.Greater(t, res.Analysis.MutualInformation, 0.0)
	assert.Len(t, res.Analysis.ScoreMovingAverage, 1)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"semantic_threshold"`)
	assert.Contains(t, string(data), `"viability_curve"`)
}

func TestRunner_MaxTasksAndCostFunction(t *testing.T) {
	agent := newScripted()
	agent.cost = 0
	r, err := NewRunner(agent, environments.NewMock(0.7), nil,
		WithConfig(Config{MaxTasks: 1, UseCostFunction: true}))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	// Default cost: runes of query plus response.
	want := float64(len("What is the capital of France?") + len("Paris"))
	assert.Equal(t, want, res.Results[0].Cost)
}

func TestRunner_ContextFailureSkipsAgent(t *testing.T) {
	agent := newScripted()
	broken := contexts.ProviderFunc(func(context.Context, string) (string, contexts.Metadata, error) {
		return "", nil, errors.New("no manifest")
	})
	r, err := NewRunner(agent, environments.NewMock(0.7), nil, WithProvider(broken))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, agent.calls.Load())
	for _, rec := range res.Results {
		assert.Equal(t, "context", rec.Evaluation.Details["stage"])
		assert.False(t, rec.Evaluation.Success)
	}
}

func TestRunner_RecordsContext(t *testing.T) {
	provider := contexts.TruncateContext(contexts.NewMock(), 20)
	r, err := NewRunner(agents.NewMock(nil), environments.NewMock(0.7), nil, WithProvider(provider))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	rec := res.Results[0]
	assert.Equal(t, 20, rec.ContextSize)
	assert.Contains(t, rec.Response, "with context:")
	require.Len(t, contexts.Interventions(rec.ContextMetadata), 1)
	assert.Greater(t, rec.Perplexity, 0.0)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(newScripted(), environments.NewMock(0.7), nil)
	require.NoError(t, err)

	res, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, res.Summary.TotalTasks)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, Summary{}, s)
}

func TestSummarize_ScoreInterval(t *testing.T) {
	records := []TaskRecord{
		{Evaluation: sit.EvaluationResult{Success: true, Score: 1}},
		{Evaluation: sit.EvaluationResult{Score: 0}},
	}
	s := Summarize(records)
	assert.Equal(t, 0.5, s.AverageScore)
	assert.Less(t, s.ScoreCI[0], 0.5)
	assert.Greater(t, s.ScoreCI[1], 0.5)
}

// -----------------------------------------------------------------------------
// Progress
// -----------------------------------------------------------------------------

func TestProgressBar(t *testing.T) {
	tests := []struct {
		current, total, width int
		want                  string
	}{
		{5, 10, 10, "[=====-----] 5/10 (50.0%)"},
		{0, 0, 4, "[----] 0/0 (0.0%)"},
		{3, 3, 0, "[] 3/3 (100.0%)"},
		{1, 3, 3, "[=--] 1/3 (33.3%)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressBar(tt.current, tt.total, tt.width))
	}
}

// -----------------------------------------------------------------------------
// Sweep
// -----------------------------------------------------------------------------

func mockFactory(_ context.Context, level string, p contexts.Provider) (*Runner, error) {
	return NewRunner(agents.NewMock(nil), environments.NewMock(0.7), nil,
		WithProvider(p), WithConfig(Config{Label: level}))
}

func TestSweep_Run(t *testing.T) {
	s := &Sweep{
		Levels:      []string{"none", "remove_30", "truncate_10"},
		Provider:    contexts.NewMock(),
		NewRunner:   mockFactory,
		Concurrency: 2,
		Seed:        7,
	}
	out, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Levels, 3)
	require.Len(t, out.Curve, 3)

	for i, level := range s.Levels {
		assert.Equal(t, level, out.Levels[i].Level)
		assert.Equal(t, level, out.Curve[i].Level)
		assert.Equal(t, level, out.Levels[i].Results.Metadata.Label)
	}

	baseline := out.Levels[0].Results.Results[0]
	assert.Empty(t, contexts.Interventions(baseline.ContextMetadata))

	truncated := out.Levels[2].Results.Results[0]
	assert.Equal(t, 10, truncated.ContextSize)
	assert.Equal(t, "truncate_10", contexts.Interventions(truncated.ContextMetadata)[0].Name)
}

func TestSweep_BadLevelFailsFast(t *testing.T) {
	var calls atomic.Int32
	s := &Sweep{
		Levels:   []string{"none", "blur_9"},
		Provider: contexts.NewMock(),
		NewRunner: func(ctx context.Context, level string, p contexts.Provider) (*Runner, error) {
			calls.Add(1)
			return mockFactory(ctx, level, p)
		},
	}
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, contexts.ErrUnknownIntervention)
	assert.Zero(t, calls.Load())
}

func TestSweep_FactoryError(t *testing.T) {
	boom := errors.New("no agent")
	s := &Sweep{
		Levels:   []string{"none", "shuffle"},
		Provider: contexts.NewMock(),
		NewRunner: func(context.Context, string, contexts.Provider) (*Runner, error) {
			return nil, boom
		},
	}
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSweep_RequiresFactoryAndProvider(t *testing.T) {
	_, err := (&Sweep{Provider: contexts.NewMock()}).Run(context.Background())
	assert.Error(t, err)

	_, err = (&Sweep{NewRunner: mockFactory}).Run(context.Background())
	assert.Error(t, err)
}
