// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sit

import (
	"errors"
	"math"
	"testing"
)

func newTestEvaluator(t *testing.T, opts ...Option) *SemioticEvaluator {
	t.Helper()
	e, err := NewSemioticEvaluator(opts...)
	if err != nil {
		t.Fatalf("NewSemioticEvaluator() error = %v", err)
	}
	return e
}

func addStates(e *SemioticEvaluator, pairs ...[2]float64) {
	for _, p := range pairs {
		e.AddAgentState(AgentState{Query: "q", Output: "o", Trust: p[0], Budget: p[1]})
	}
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNewSemioticEvaluator_Defaults(t *testing.T) {
	e := newTestEvaluator(t)

	tc := e.TrustConfig()
	if tc.MinTrust != 0 || tc.MaxTrust != 100 || tc.DefaultLogprob != -10 {
		t.Errorf("TrustConfig = %+v, want bounds [0,100] and default logprob -10", tc)
	}
	if got := tc.UpdateFunction(-0.5); got != -5 {
		t.Errorf("default trust update(-0.5) = %v, want -5", got)
	}

	bc := e.BudgetConfig()
	if bc.InitialBudget != 100 || bc.MinBudget != 0 {
		t.Errorf("BudgetConfig = %+v, want initial 100 min 0", bc)
	}
	if got := bc.CostFunction("abc", "de"); got != 5 {
		t.Errorf("default cost(abc, de) = %v, want 5", got)
	}
}

func TestNewSemioticEvaluator_FillsNilFunctions(t *testing.T) {
	e := newTestEvaluator(t,
		WithTrustConfig(TrustConfig{MinTrust: -5, MaxTrust: 5, DefaultLogprob: -1}),
		WithBudgetConfig(BudgetConfig{InitialBudget: 10, MinBudget: 1}),
	)

	if e.TrustConfig().UpdateFunction == nil {
		t.Fatal("trust UpdateFunction is nil")
	}
	if e.BudgetConfig().UpdateFunction == nil || e.BudgetConfig().CostFunction == nil {
		t.Fatal("budget functions are nil")
	}
}

func TestNewSemioticEvaluator_InvalidBounds(t *testing.T) {
	_, err := NewSemioticEvaluator(WithTrustConfig(TrustConfig{MinTrust: 10, MaxTrust: 1}))
	if !errors.Is(err, ErrInvalidTrustBounds) {
		t.Errorf("error = %v, want ErrInvalidTrustBounds", err)
	}
}

// -----------------------------------------------------------------------------
// Per-Step Updates
// -----------------------------------------------------------------------------

func TestCalculateLogLikelihood(t *testing.T) {
	e := newTestEvaluator(t)

	got := e.CalculateLogLikelihood(map[string]float64{"a": -1, "b": -2}, "a b  c")
	if got != -13 {
		t.Errorf("CalculateLogLikelihood() = %v, want -13", got)
	}
	if got := e.CalculateLogLikelihood(nil, ""); got != 0 {
		t.Errorf("CalculateLogLikelihood(empty) = %v, want 0", got)
	}
}

func TestUpdateTrust(t *testing.T) {
	e := newTestEvaluator(t)

	tests := []struct {
		name    string
		current float64
		result  EvaluationResult
		want    float64
	}{
		{"success rewards twice the score", 10, EvaluationResult{Success: true, Score: 0.75}, 11.5},
		{"failure costs one", 10, EvaluationResult{Success: false, Score: 0.9}, 9},
		{"clamped at max", 99.5, EvaluationResult{Success: true, Score: 1}, 100},
		{"clamped at min", 0.5, EvaluationResult{Success: false}, 0},
		{"out of range input is clamped", 1e9, EvaluationResult{Success: true, Score: 1}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.UpdateTrust(tt.current, tt.result)
			if got != tt.want {
				t.Errorf("UpdateTrust(%v) = %v, want %v", tt.current, got, tt.want)
			}
			// Re-clamping an in-range value is a no-op.
			if again := e.clampTrust(got); again != got {
				t.Errorf("clampTrust(%v) = %v, want idempotent", got, again)
			}
		})
	}
}

func TestUpdateTrustFromLogLikelihood(t *testing.T) {
	e := newTestEvaluator(t)

	if got := e.UpdateTrustFromLogLikelihood(50, -0.5); got != 45 {
		t.Errorf("UpdateTrustFromLogLikelihood(50, -0.5) = %v, want 45", got)
	}
	if got := e.UpdateTrustFromLogLikelihood(5, -13); got != 0 {
		t.Errorf("UpdateTrustFromLogLikelihood(5, -13) = %v, want 0", got)
	}
}

func TestUpdateBudget(t *testing.T) {
	e := newTestEvaluator(t)

	if got := e.UpdateBudget(10, 1, 5); math.Abs(got-9.5) > 1e-12 {
		t.Errorf("UpdateBudget(10, 1, 5) = %v, want 9.5", got)
	}
	if got := e.UpdateBudget(1, 50, 0); got != 0 {
		t.Errorf("UpdateBudget(1, 50, 0) = %v, want floor 0", got)
	}
	// No upper clamp.
	if got := e.UpdateBudget(1000, 0, 100); got != 1010 {
		t.Errorf("UpdateBudget(1000, 0, 100) = %v, want 1010", got)
	}
}

func TestUpdateBudget_CustomFunction(t *testing.T) {
	e := newTestEvaluator(t, WithBudgetConfig(BudgetConfig{
		UpdateFunction: func(b, c, _ float64) float64 { return b - 2*c },
		MinBudget:      -3,
	}))

	if got := e.UpdateBudget(0, 1, 0); got != -2 {
		t.Errorf("UpdateBudget = %v, want -2", got)
	}
	if got := e.UpdateBudget(0, 10, 0); got != -3 {
		t.Errorf("UpdateBudget = %v, want floor -3", got)
	}
}

// -----------------------------------------------------------------------------
// Viability
// -----------------------------------------------------------------------------

func TestCalculateViability_Basic(t *testing.T) {
	e := newTestEvaluator(t)
	addStates(e,
		[2]float64{0.9, 0.05},
		[2]float64{0.7, 0.03},
		[2]float64{0.5, 0.01},
		[2]float64{0.3, 0.0},
		[2]float64{0.1, -0.01},
	)

	if got := e.CalculateViability(0.6); got != 0.4 {
		t.Errorf("CalculateViability(0.6) = %v, want 0.4", got)
	}
}

func TestCalculateViability_EdgeCases(t *testing.T) {
	empty := newTestEvaluator(t)
	if got := empty.CalculateViability(0.5); got != 0 {
		t.Errorf("empty CalculateViability = %v, want 0", got)
	}

	all := newTestEvaluator(t)
	addStates(all, [2]float64{0.9, 1}, [2]float64{0.8, 2})
	if got := all.CalculateViability(0.5); got != 1 {
		t.Errorf("all-viable CalculateViability = %v, want 1", got)
	}

	broke := newTestEvaluator(t)
	addStates(broke, [2]float64{0.9, 0}, [2]float64{0.8, -1})
	if got := broke.CalculateViability(0.5); got != 0 {
		t.Errorf("zero-budget CalculateViability = %v, want 0", got)
	}
}

func TestCalculateViabilityWithBudget(t *testing.T) {
	e := newTestEvaluator(t)
	addStates(e, [2]float64{1, 5}, [2]float64{1, 15}, [2]float64{1, 25}, [2]float64{0, 50})

	if got := e.CalculateViabilityWithBudget(0.5, 10); got != 0.5 {
		t.Errorf("CalculateViabilityWithBudget(0.5, 10) = %v, want 0.5", got)
	}
}

// -----------------------------------------------------------------------------
// Semantic Threshold
// -----------------------------------------------------------------------------

func TestCalculateSemanticThreshold_Empty(t *testing.T) {
	e := newTestEvaluator(t)
	if got := e.CalculateSemanticThreshold(); got != 0 {
		t.Errorf("CalculateSemanticThreshold() = %v, want 0", got)
	}
}

func TestCalculateSemanticThreshold_DecliningTrust(t *testing.T) {
	e := newTestEvaluator(t)
	for _, trust := range []float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0} {
		e.AddAgentState(AgentState{Trust: trust, Budget: 0.1})
	}

	got := e.CalculateSemanticThreshold()
	if got < 0 || got > 1 {
		t.Fatalf("CalculateSemanticThreshold() = %v, want within [0, 1]", got)
	}
	// V(0) = 5/6, so the target is 5/12. V drops from 3/6 to 2/6 at 0.6.
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("CalculateSemanticThreshold() = %v, want ~0.6", got)
	}
}

func TestCalculateSemanticThreshold_NoViableStates(t *testing.T) {
	e := newTestEvaluator(t)
	addStates(e, [2]float64{0, 10}, [2]float64{0, 10})

	if got := e.CalculateSemanticThreshold(); got != 0 {
		t.Errorf("CalculateSemanticThreshold() = %v, want 0", got)
	}
}

// -----------------------------------------------------------------------------
// Mutual Information and Trajectory
// -----------------------------------------------------------------------------

func TestCalculateMutualInformation_Degenerate(t *testing.T) {
	e := newTestEvaluator(t)

	if got := e.CalculateMutualInformation(nil, nil); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
	states := []AgentState{{Trust: 1}}
	if got := e.CalculateMutualInformation(states, []any{"a", "b"}); got != 0 {
		t.Errorf("mismatched = %v, want 0", got)
	}
}

func TestCalculateMutualInformation_Proxy(t *testing.T) {
	e := newTestEvaluator(t)
	states := []AgentState{{Trust: 1}, {Trust: 1}}

	// Trust entropy is exactly 1 bit. Identical environment states hash to
	// the same bucket, giving 1 bit (or 0 for bucket zero).
	got := e.CalculateMutualInformation(states, []any{"env", "env"})
	if got != 1 && got != 0.5 {
		t.Errorf("CalculateMutualInformation() = %v, want 1 or 0.5", got)
	}
}

func TestGetPerformanceTrajectory(t *testing.T) {
	e := newTestEvaluator(t)
	traj := e.GetPerformanceTrajectory()
	if traj.Trust == nil || len(traj.Trust) != 0 || len(traj.Budget) != 0 || len(traj.Cost) != 0 {
		t.Fatalf("empty trajectory = %+v, want empty non-nil slices", traj)
	}

	for i := 0; i < 3; i++ {
		e.AddAgentState(AgentState{Trust: float64(i), Budget: float64(10 - i), Cost: float64(i) * 0.5})
	}
	traj = e.GetPerformanceTrajectory()

	want := []float64{0, 1, 2}
	for i := range want {
		if traj.Trust[i] != want[i] {
			t.Errorf("Trust[%d] = %v, want %v", i, traj.Trust[i], want[i])
		}
	}
	if traj.Budget[2] != 8 || traj.Cost[2] != 1 {
		t.Errorf("Budget/Cost[2] = %v/%v, want 8/1", traj.Budget[2], traj.Cost[2])
	}
}

func TestStates_ReturnsCopy(t *testing.T) {
	e := newTestEvaluator(t)
	e.AddAgentState(AgentState{Trust: 1})

	states := e.States()
	states[0].Trust = 99

	if e.States()[0].Trust != 1 {
		t.Error("States() exposed the internal trace")
	}
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1", e.Len())
	}
}

func TestAnalyze(t *testing.T) {
	e := newTestEvaluator(t)
	for _, trust := range []float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0} {
		e.AddAgentState(AgentState{Trust: trust, Budget: 0.1})
	}

	a := e.Analyze([]float64{0, 0.5, 1})

	if a.States != 6 {
		t.Errorf("States = %d, want 6", a.States)
	}
	if len(a.ViabilityCurve) != 3 {
		t.Fatalf("ViabilityCurve len = %d, want 3", len(a.ViabilityCurve))
	}
	if a.ViabilityCurve[1].Viability != 0.5 {
		t.Errorf("V(0.5) = %v, want 0.5", a.ViabilityCurve[1].Viability)
	}
	if a.ViabilityCurve[2].Viability != 0 {
		t.Errorf("V(1) = %v, want 0", a.ViabilityCurve[2].Viability)
	}
	if a.BaselineViability != 5.0/6.0 {
		t.Errorf("BaselineViability = %v, want 5/6", a.BaselineViability)
	}
	if a.TrustInterval[0] >= a.TrustInterval[1] {
		t.Errorf("TrustInterval = %v, want low < high", a.TrustInterval)
	}
}
