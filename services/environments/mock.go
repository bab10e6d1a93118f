// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package environments

import (
	"context"
	"strings"

	"github.com/AleutianAI/semiosis/services/sit"
)

// DefaultSimilarityThreshold is the Jaccard similarity counted as success.
const DefaultSimilarityThreshold = 0.7

var mockTasks = []Task{
	{ID: "mock_001", Query: "What is the capital of France?", GroundTruth: "Paris"},
	{ID: "mock_002", Query: "Explain the theory of relativity in simple terms.", GroundTruth: "Einstein's theory describing space-time fabric."},
	{ID: "mock_003", Query: "How do you reverse a linked list?", GroundTruth: "Iterate and reverse pointers."},
}

// Mock scores free-text answers by word overlap with the ground truth.
type Mock struct {
	threshold float64
}

// NewMock returns a mock environment succeeding at the given similarity.
func NewMock(threshold float64) *Mock {
	return &Mock{threshold: threshold}
}

// Name implements Environment.
func (m *Mock) Name() string { return "mock" }

// Initialize implements Environment.
func (m *Mock) Initialize(context.Context) error { return nil }

// Close implements Environment.
func (m *Mock) Close() error { return nil }

// Tasks implements Environment. Every task carries domain
// general_knowledge in its metadata.
func (m *Mock) Tasks(_ context.Context, limit int) ([]Task, error) {
	out := limitTasks(mockTasks, limit)
	for i := range out {
		out[i].Metadata = map[string]any{"domain": "general_knowledge"}
	}
	return out, nil
}

// Evaluate implements Environment.
//
// A task without ground truth always succeeds with score 1. Otherwise the
// score is the Jaccard similarity of the lower-cased word sets and success
// means score >= threshold.
func (m *Mock) Evaluate(_ context.Context, task Task, response string) sit.EvaluationResult {
	if task.GroundTruth == "" {
		return sit.EvaluationResult{
			Success: true,
			Score:   1.0,
			Details: map[string]any{"reason": "No ground truth provided, assuming success"},
		}
	}

	sim := JaccardSimilarity(strings.ToLower(task.GroundTruth), strings.ToLower(response))
	return sit.EvaluationResult{
		Success: sim >= m.threshold,
		Score:   min(1.0, sim),
		Details: map[string]any{
			"similarity":   sim,
			"threshold":    m.threshold,
			"ground_truth": task.GroundTruth,
			"response":     response,
		},
	}
}

// JaccardSimilarity is |A∩B| / |A∪B| over the whitespace words of a and
// b. Two empty strings are identical; one empty string shares nothing.
func JaccardSimilarity(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0.0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}
