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
	"fmt"
	"unicode/utf8"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidTrustBounds indicates MinTrust > MaxTrust.
	ErrInvalidTrustBounds = errors.New("min trust exceeds max trust")
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// AgentState is the snapshot recorded for one evaluated task.
//
// Description:
//
//	Mirrors the tuple a = (q, y, ℓ, c, b, θ). Built once by the runner after
//	trust and budget have been updated for the task, then appended to the
//	evaluator's trace. Treat as immutable once appended.
type AgentState struct {
	// Query is the task input (q).
	Query string `json:"query"`

	// Output is the agent's response text (y).
	Output string `json:"output"`

	// Trust is the accumulated reliability signal after this task (ℓ).
	Trust float64 `json:"trust"`

	// Cost is the resource spent on this task (c).
	Cost float64 `json:"cost"`

	// Budget is the remaining allowance after this task (b).
	Budget float64 `json:"budget"`

	// Parameters is the agent configuration, kept for provenance (θ).
	Parameters map[string]any `json:"parameters,omitempty"`
}

// EvaluationResult is the outcome of scoring one agent response.
//
// Only Success and Score feed the engine's arithmetic. Details, Error and
// Metadata are carried through to reports untouched.
type EvaluationResult struct {
	Success  bool           `json:"success"`
	Score    float64        `json:"score"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Trajectory holds the per-state scalar series of a trace in trace order.
type Trajectory struct {
	Trust  []float64 `json:"trust"`
	Budget []float64 `json:"budget"`
	Cost   []float64 `json:"cost"`
}

// TokenLogprob pairs a whitespace token with its natural-log probability.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// -----------------------------------------------------------------------------
// Update Rules
// -----------------------------------------------------------------------------

// TrustUpdateFunc maps a sequence log-likelihood to a trust delta.
type TrustUpdateFunc func(logLikelihood float64) float64

// CostFunc maps a query and response to a resource cost.
type CostFunc func(query, response string) float64

// BudgetUpdateFunc computes the next budget from the current budget, the
// cost just spent and the current trust.
type BudgetUpdateFunc func(budget, cost, trust float64) float64

// DefaultTrustUpdate scales the log-likelihood by 10.
func DefaultTrustUpdate(logLikelihood float64) float64 {
	return logLikelihood * 10.0
}

// DefaultCost counts characters in the query and the response.
func DefaultCost(query, response string) float64 {
	return float64(utf8.RuneCountInString(query) + utf8.RuneCountInString(response))
}

// DefaultBudgetUpdate subtracts the cost and replenishes 10% of trust.
func DefaultBudgetUpdate(budget, cost, trust float64) float64 {
	return budget - cost + trust*0.1
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// DefaultLogprob is substituted for tokens missing from a logprob map.
	DefaultLogprob = -10.0

	DefaultMinTrust      = 0.0
	DefaultMaxTrust      = 100.0
	DefaultInitialBudget = 100.0
	DefaultMinBudget     = 0.0
)

// TrustConfig configures trust dynamics.
type TrustConfig struct {
	// UpdateFunction maps log-likelihood to a trust delta. Nil means
	// DefaultTrustUpdate.
	UpdateFunction TrustUpdateFunc `yaml:"-" json:"-"`

	MinTrust float64 `yaml:"min_trust" json:"min_trust"`
	MaxTrust float64 `yaml:"max_trust" json:"max_trust"`

	// DefaultLogprob is the penalty for unseen tokens.
	DefaultLogprob float64 `yaml:"default_logprob" json:"default_logprob"`
}

// DefaultTrustConfig returns bounds [0, 100] and a −10 unseen-token penalty.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		UpdateFunction: DefaultTrustUpdate,
		MinTrust:       DefaultMinTrust,
		MaxTrust:       DefaultMaxTrust,
		DefaultLogprob: DefaultLogprob,
	}
}

// Validate reports ErrInvalidTrustBounds when MinTrust > MaxTrust.
func (c TrustConfig) Validate() error {
	if c.MinTrust > c.MaxTrust {
		return fmt.Errorf("%w: min=%v max=%v", ErrInvalidTrustBounds, c.MinTrust, c.MaxTrust)
	}
	return nil
}

func (c TrustConfig) withDefaults() TrustConfig {
	if c.UpdateFunction == nil {
		c.UpdateFunction = DefaultTrustUpdate
	}
	return c
}

// BudgetConfig configures budget dynamics.
//
// MinBudget is a floor applied after every update. It is not a stopping
// condition: a run keeps evaluating tasks with the budget pinned at the floor.
type BudgetConfig struct {
	// CostFunction prices a query/response pair. Nil means DefaultCost.
	CostFunction CostFunc `yaml:"-" json:"-"`

	// UpdateFunction computes the next budget. Nil means DefaultBudgetUpdate.
	UpdateFunction BudgetUpdateFunc `yaml:"-" json:"-"`

	InitialBudget float64 `yaml:"initial_budget" json:"initial_budget"`
	MinBudget     float64 `yaml:"min_budget" json:"min_budget"`
}

// DefaultBudgetConfig returns an initial budget of 100 floored at 0.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		CostFunction:   DefaultCost,
		UpdateFunction: DefaultBudgetUpdate,
		InitialBudget:  DefaultInitialBudget,
		MinBudget:      DefaultMinBudget,
	}
}

func (c BudgetConfig) withDefaults() BudgetConfig {
	if c.CostFunction == nil {
		c.CostFunction = DefaultCost
	}
	if c.UpdateFunction == nil {
		c.UpdateFunction = DefaultBudgetUpdate
	}
	return c
}
