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
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// thresholdSearchIterations bounds the semantic-threshold bisection.
const thresholdSearchIterations = 50

// envHashBuckets is the modulus used to discretise environment states.
const envHashBuckets = 1000

// -----------------------------------------------------------------------------
// Evaluator
// -----------------------------------------------------------------------------

// SemioticEvaluator accumulates a trace of agent states and computes trust,
// budget, viability and threshold quantities over it.
//
// Description:
//
//	The configs are fixed at construction. The trace is append-only and
//	in chronological order: index i is the i-th evaluated task. Every
//	query method rescans the trace, which is expected to stay small.
//
// Thread Safety: Not safe for concurrent use. Use one evaluator per run.
type SemioticEvaluator struct {
	trust  TrustConfig
	budget BudgetConfig
	states []AgentState
}

// Option configures a SemioticEvaluator.
type Option func(*SemioticEvaluator)

// WithTrustConfig replaces the default trust configuration. Nil update
// functions are filled with defaults.
func WithTrustConfig(cfg TrustConfig) Option {
	return func(e *SemioticEvaluator) {
		e.trust = cfg.withDefaults()
	}
}

// WithBudgetConfig replaces the default budget configuration. Nil cost and
// update functions are filled with defaults.
func WithBudgetConfig(cfg BudgetConfig) Option {
	return func(e *SemioticEvaluator) {
		e.budget = cfg.withDefaults()
	}
}

// NewSemioticEvaluator creates an evaluator with an empty trace.
//
// Inputs:
//   - opts: Optional configuration. Defaults are DefaultTrustConfig and
//     DefaultBudgetConfig.
//
// Outputs:
//   - *SemioticEvaluator: Never nil.
//   - error: ErrInvalidTrustBounds if the trust bounds are inverted.
func NewSemioticEvaluator(opts ...Option) (*SemioticEvaluator, error) {
	e := &SemioticEvaluator{
		trust:  DefaultTrustConfig(),
		budget: DefaultBudgetConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.trust.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

// TrustConfig returns the evaluator's trust configuration.
func (e *SemioticEvaluator) TrustConfig() TrustConfig { return e.trust }

// BudgetConfig returns the evaluator's budget configuration.
func (e *SemioticEvaluator) BudgetConfig() BudgetConfig { return e.budget }

// AddAgentState appends state to the trace. No validation is performed.
func (e *SemioticEvaluator) AddAgentState(state AgentState) {
	e.states = append(e.states, state)
}

// Len returns the number of recorded states.
func (e *SemioticEvaluator) Len() int { return len(e.states) }

// States returns a copy of the trace.
func (e *SemioticEvaluator) States() []AgentState {
	out := make([]AgentState, len(e.states))
	copy(out, e.states)
	return out
}

// -----------------------------------------------------------------------------
// Per-Step Updates
// -----------------------------------------------------------------------------

// CalculateLogLikelihood sums the log-probabilities of the whitespace
// tokens of target. Tokens missing from tokenProbs contribute the
// configured DefaultLogprob.
func (e *SemioticEvaluator) CalculateLogLikelihood(tokenProbs map[string]float64, target string) float64 {
	total := 0.0
	for _, token := range strings.Fields(target) {
		if lp, ok := tokenProbs[token]; ok {
			total += lp
		} else {
			total += e.trust.DefaultLogprob
		}
	}
	return total
}

// UpdateTrust applies one evaluation outcome to the current trust.
//
// Description:
//
//	A correct response earns 2·score, an incorrect one always costs 1.
//	The result is clamped to [MinTrust, MaxTrust].
//
// Inputs:
//   - current: Trust before this task.
//   - result: The task's evaluation outcome.
//
// Outputs:
//   - float64: Trust after this task.
func (e *SemioticEvaluator) UpdateTrust(current float64, result EvaluationResult) float64 {
	delta := -1.0
	if result.Success {
		delta = result.Score * 2.0
	}
	return e.clampTrust(current + delta)
}

// UpdateTrustFromLogLikelihood applies the configured TrustUpdateFunc to a
// sequence log-likelihood and clamps the result.
func (e *SemioticEvaluator) UpdateTrustFromLogLikelihood(current, logLikelihood float64) float64 {
	return e.clampTrust(current + e.trust.UpdateFunction(logLikelihood))
}

func (e *SemioticEvaluator) clampTrust(v float64) float64 {
	return math.Max(e.trust.MinTrust, math.Min(v, e.trust.MaxTrust))
}

// UpdateBudget applies the configured BudgetUpdateFunc and floors the
// result at MinBudget. There is no upper bound.
func (e *SemioticEvaluator) UpdateBudget(current, cost, trust float64) float64 {
	return math.Max(e.budget.MinBudget, e.budget.UpdateFunction(current, cost, trust))
}

// CalculateCost prices a query/response pair with the configured CostFunc.
func (e *SemioticEvaluator) CalculateCost(query, response string) float64 {
	return e.budget.CostFunction(query, response)
}

// -----------------------------------------------------------------------------
// Trace Queries
// -----------------------------------------------------------------------------

// CalculateViability returns V(η) using MinBudget as the budget threshold.
func (e *SemioticEvaluator) CalculateViability(trustThreshold float64) float64 {
	return e.CalculateViabilityWithBudget(trustThreshold, e.budget.MinBudget)
}

// CalculateViabilityWithBudget returns the fraction of recorded states with
// trust > trustThreshold and budget > budgetThreshold.
//
// Outputs:
//   - float64: In [0, 1]. 0 for an empty trace.
func (e *SemioticEvaluator) CalculateViabilityWithBudget(trustThreshold, budgetThreshold float64) float64 {
	if len(e.states) == 0 {
		return 0.0
	}
	viable := 0
	for _, s := range e.states {
		if s.Trust > trustThreshold && s.Budget > budgetThreshold {
			viable++
		}
	}
	return float64(viable) / float64(len(e.states))
}

// CalculateSemanticThreshold finds η_c = inf{η : V(η) ≤ ½·V(0)}.
//
// Description:
//
//	The baseline is V(0), not V(1). Bisection runs for a fixed 50
//	iterations over [0, max trust in the trace], narrowing the upper bound
//	whenever V(mid) is at or below the target. V is non-increasing in η,
//	which the search relies on without checking.
//
// Outputs:
//   - float64: The final lower bound. 0 for an empty trace.
func (e *SemioticEvaluator) CalculateSemanticThreshold() float64 {
	if len(e.states) == 0 {
		return 0.0
	}

	target := 0.5 * e.CalculateViability(0.0)

	low, high := 0.0, e.states[0].Trust
	for _, s := range e.states[1:] {
		high = math.Max(high, s.Trust)
	}

	for i := 0; i < thresholdSearchIterations; i++ {
		mid := (low + high) / 2
		if e.CalculateViability(mid) <= target {
			high = mid
		} else {
			low = mid
		}
	}
	return low
}

// CalculateMutualInformation returns a rough proxy for I(A;E).
//
// Description:
//
//	This is not a joint-distribution estimate. It averages the entropy of
//	the agents' trust values with the entropy of a hash-bucketed view of
//	the environment states (FNV-1a of the formatted value, mod 1000).
//
// Outputs:
//   - float64: Bits. 0 if the inputs differ in length or are empty.
func (e *SemioticEvaluator) CalculateMutualInformation(agentStates []AgentState, environmentStates []any) float64 {
	if len(agentStates) != len(environmentStates) || len(agentStates) == 0 {
		return 0.0
	}

	trust := make([]float64, len(agentStates))
	for i, s := range agentStates {
		trust[i] = s.Trust
	}

	buckets := make([]float64, len(environmentStates))
	for i, env := range environmentStates {
		h := fnv.New32a()
		_, _ = fmt.Fprint(h, env)
		buckets[i] = float64(h.Sum32() % envHashBuckets)
	}

	return (Entropy(trust) + Entropy(buckets)) / 2.0
}

// GetPerformanceTrajectory returns the trust, budget and cost series in
// trace order. The slices are empty, not nil, for an empty trace.
func (e *SemioticEvaluator) GetPerformanceTrajectory() Trajectory {
	t := Trajectory{
		Trust:  make([]float64, 0, len(e.states)),
		Budget: make([]float64, 0, len(e.states)),
		Cost:   make([]float64, 0, len(e.states)),
	}
	for _, s := range e.states {
		t.Trust = append(t.Trust, s.Trust)
		t.Budget = append(t.Budget, s.Budget)
		t.Cost = append(t.Cost, s.Cost)
	}
	return t
}

// -----------------------------------------------------------------------------
// Analysis
// -----------------------------------------------------------------------------

// ViabilityPoint is one sample of the viability curve.
type ViabilityPoint struct {
	Threshold float64 `json:"threshold"`
	Viability float64 `json:"viability"`
}

// Analysis bundles the trace-level quantities reported at the end of a run.
type Analysis struct {
	States            int              `json:"states"`
	BaselineViability float64          `json:"baseline_viability"`
	ViabilityCurve    []ViabilityPoint `json:"viability_curve"`
	SemanticThreshold float64          `json:"semantic_threshold"`
	Trajectory        Trajectory       `json:"trajectory"`
	TrustInterval     [2]float64       `json:"trust_interval_95"`
	TrustOutliers     []int            `json:"trust_outliers"`
}

// Analyze evaluates the viability curve at each threshold and collects the
// semantic threshold, trajectory and trust summary statistics.
func (e *SemioticEvaluator) Analyze(thresholds []float64) Analysis {
	traj := e.GetPerformanceTrajectory()

	curve := make([]ViabilityPoint, 0, len(thresholds))
	for _, th := range thresholds {
		curve = append(curve, ViabilityPoint{Threshold: th, Viability: e.CalculateViability(th)})
	}

	low, high := CalculateConfidenceInterval(traj.Trust, 0.95)

	return Analysis{
		States:            len(e.states),
		BaselineViability: e.CalculateViability(0.0),
		ViabilityCurve:    curve,
		SemanticThreshold: e.CalculateSemanticThreshold(),
		Trajectory:        traj,
		TrustInterval:     [2]float64{low, high},
		TrustOutliers:     DetectOutliersIQR(traj.Trust, 1.5),
	}
}
