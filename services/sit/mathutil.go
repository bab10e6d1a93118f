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
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Token Log-Probabilities
// -----------------------------------------------------------------------------

// ExtractTokenProbabilities pairs each whitespace token of response with its
// logprob, substituting defaultLogprob for tokens absent from logprobs.
// Order follows the response.
func ExtractTokenProbabilities(response string, logprobs map[string]float64, defaultLogprob float64) []TokenLogprob {
	tokens := strings.Fields(response)
	out := make([]TokenLogprob, 0, len(tokens))
	for _, tok := range tokens {
		lp, ok := logprobs[tok]
		if !ok {
			lp = defaultLogprob
		}
		out = append(out, TokenLogprob{Token: tok, Logprob: lp})
	}
	return out
}

// Logprobs projects the logprob column out of a token sequence.
func Logprobs(tokens []TokenLogprob) []float64 {
	out := make([]float64, len(tokens))
	for i, t := range tokens {
		out[i] = t.Logprob
	}
	return out
}

// CalculateCrossEntropy returns −Σ p_i·lp_i where p_i = exp(lp_i)/Σexp(lp).
//
// Description:
//
//	The weights are normalised but the log term is the raw logprob, not
//	log(p_i). Downstream reports depend on this exact value, so it is kept
//	rather than replaced by textbook cross-entropy.
//
// Outputs:
//   - float64: 0 for empty input or when every probability underflows.
func CalculateCrossEntropy(tokens []TokenLogprob) float64 {
	if len(tokens) == 0 {
		return 0.0
	}
	lps := Logprobs(tokens)
	probs := exponentiate(lps)
	total := floats.Sum(probs)
	if total == 0 {
		return 0.0
	}
	h := 0.0
	for i, p := range probs {
		p /= total
		if p > 0 {
			h -= p * lps[i]
		}
	}
	return h
}

// CalculatePerplexity returns exp(−mean(logprob)), or 0 for empty input.
func CalculatePerplexity(tokens []TokenLogprob) float64 {
	if len(tokens) == 0 {
		return 0.0
	}
	return math.Exp(-stat.Mean(Logprobs(tokens), nil))
}

// CalculateKLDivergence returns D(P‖Q) in nats for two logprob vectors.
//
// Description:
//
//	Each side is exponentiated and L1-normalised independently. Terms where
//	either probability is zero are skipped instead of yielding +Inf.
//
// Outputs:
//   - float64: 0 if lengths differ, input is empty, or a side sums to 0.
func CalculateKLDivergence(p, q []float64) float64 {
	if len(p) != len(q) || len(p) == 0 {
		return 0.0
	}
	pp, qq := exponentiate(p), exponentiate(q)
	pTotal, qTotal := floats.Sum(pp), floats.Sum(qq)
	if pTotal == 0 || qTotal == 0 {
		return 0.0
	}
	kl := 0.0
	for i := range pp {
		pi, qi := pp[i]/pTotal, qq[i]/qTotal
		if pi > 0 && qi > 0 {
			kl += pi * math.Log(pi/qi)
		}
	}
	return kl
}

// Entropy returns the Shannon entropy in bits of values treated as
// unnormalised weights. Absolute values are taken first; zero weights are
// dropped. Returns 0 if the weights sum to 0.
func Entropy(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	weights := make([]float64, len(values))
	for i, v := range values {
		weights[i] = math.Abs(v)
	}
	total := floats.Sum(weights)
	if total == 0 {
		return 0.0
	}
	floats.Scale(1/total, weights)
	// stat.Entropy skips zero entries and uses natural log.
	return stat.Entropy(weights) / math.Ln2
}

// -----------------------------------------------------------------------------
// Summary Statistics
// -----------------------------------------------------------------------------

// CalculateConfidenceInterval returns mean ± t·SEM for data.
//
// Description:
//
//	t is the Student's t quantile at (1+confidence)/2 with n−1 degrees of
//	freedom and SEM uses the sample standard deviation. With fewer than two
//	samples the interval collapses to the single value, or (0, 0) when
//	empty. A confidence outside (0, 1) also collapses to the mean.
//
// Inputs:
//   - data: Samples.
//   - confidence: Coverage, typically 0.95.
//
// Outputs:
//   - low, high: Interval bounds.
func CalculateConfidenceInterval(data []float64, confidence float64) (low, high float64) {
	switch len(data) {
	case 0:
		return 0.0, 0.0
	case 1:
		return data[0], data[0]
	}

	mean, std := stat.MeanStdDev(data, nil)
	if confidence <= 0 || confidence >= 1 {
		return mean, mean
	}

	n := float64(len(data))
	sem := std / math.Sqrt(n)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 1}.Quantile((1 + confidence) / 2)
	h := sem * t
	return mean - h, mean + h
}

// CalculateCorrelation returns the Pearson correlation of x and y.
// Returns 0 if the lengths differ, there are fewer than two samples, or
// either series has zero variance.
func CalculateCorrelation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0.0
	}
	if sumSquaredDeviation(x) == 0 || sumSquaredDeviation(y) == 0 {
		return 0.0
	}
	return stat.Correlation(x, y, nil)
}

// MovingAverage returns the mean of every window data[i:i+window].
//
// When data is shorter than window a single overall mean is returned (or
// nothing for empty data). A non-positive window yields nil.
func MovingAverage(data []float64, window int) []float64 {
	if window <= 0 || len(data) == 0 {
		return nil
	}
	if len(data) < window {
		return []float64{stat.Mean(data, nil)}
	}
	out := make([]float64, 0, len(data)-window+1)
	for i := 0; i+window <= len(data); i++ {
		out = append(out, stat.Mean(data[i:i+window], nil))
	}
	return out
}

// DetectOutliersIQR returns the indices of values outside
// [Q1 − factor·IQR, Q3 + factor·IQR]. Fewer than four points yields nil.
func DetectOutliersIQR(data []float64, factor float64) []int {
	if len(data) < 4 {
		return nil
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	lower, upper := q1-factor*iqr, q3+factor*iqr

	var out []int
	for i, v := range data {
		if v < lower || v > upper {
			out = append(out, i)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func exponentiate(lps []float64) []float64 {
	out := make([]float64, len(lps))
	for i, lp := range lps {
		out[i] = math.Exp(lp)
	}
	return out
}

func sumSquaredDeviation(x []float64) float64 {
	m := stat.Mean(x, nil)
	s := 0.0
	for _, v := range x {
		d := v - m
		s += d * d
	}
	return s
}

// percentile interpolates linearly between closest ranks, the (n−1)·p
// convention. sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
