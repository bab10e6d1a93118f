// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sit implements the semantic information theory evaluation engine.
//
// An evaluation run produces one AgentState per task. The SemioticEvaluator
// accumulates those states into a trace and answers questions about it:
//
//	trust update     ℓ' = clamp(ℓ + Δ, min_trust, max_trust)
//	                 Δ = 2·score on success, −1 on failure
//	budget update    b' = max(min_budget, f(b, c, ℓ))      f default: b − c + 0.1·ℓ
//	viability        V(η) = |{s : s.trust > η ∧ s.budget > b_min}| / |trace|
//	threshold        η_c = inf{η : V(η) ≤ ½·V(0)}          (50-step bisection)
//
// The numeric helpers in mathutil.go turn token log-probabilities into
// cross-entropy, perplexity and KL-divergence, and provide the summary
// statistics (confidence interval, correlation, moving average, IQR
// outliers) used when reporting a run.
//
// # Degenerate Input
//
// Nothing in this package returns an error for empty or mismatched data.
// Empty traces and short series degrade to 0, an empty slice, or the single
// available value so that one odd task never fails a batch. A returned 0
// from Entropy, CalculateCorrelation or CalculateMutualInformation is
// therefore ambiguous; inspect input sizes when the distinction matters.
// The only error is ErrInvalidTrustBounds from a malformed configuration.
//
// # Thread Safety
//
// SemioticEvaluator is not safe for concurrent use. It owns its trace
// exclusively; concurrent runs use separate evaluators. The free functions
// are pure and safe to call from any goroutine.
package sit
