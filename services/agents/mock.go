// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	mockModel           = "mock-agent"
	mockDefaultTemplate = "Response to: {query}"
	mockContextPreview  = 100
	mockCostPerWord     = 0.000001
)

// Mock is a deterministic agent for tests and dry runs.
//
// The output is the template with {query} substituted, followed by a
// preview of the context when one is supplied. Logprobs decrease linearly
// with token position.
type Mock struct {
	template string
	delay    time.Duration
	args     Args
}

// NewMock builds a mock agent. Recognised args: response_template (string),
// response_delay (seconds, default 0).
func NewMock(args Args) *Mock {
	return &Mock{
		template: args.String("response_template", mockDefaultTemplate),
		delay:    args.Seconds("response_delay", 0),
		args:     args,
	}
}

// Name implements Agent.
func (m *Mock) Name() string { return "mock" }

// Config implements Agent.
func (m *Mock) Config() map[string]any {
	cfg := m.args.Redacted()
	cfg["model"] = mockModel
	cfg["response_template"] = m.template
	return cfg
}

// GenerateResponse implements Agent.
//
// Only a cancelled ctx produces an error.
func (m *Mock) GenerateResponse(ctx context.Context, query, contextText string) (*Response, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	output := strings.ReplaceAll(m.template, "{query}", query)
	if contextText != "" {
		output = fmt.Sprintf("%s with context: %s...", output, runePrefix(contextText, mockContextPreview))
	}

	tokens := strings.Fields(output)
	logprobs := make(map[string]float64, len(tokens))
	for i, tok := range tokens {
		logprobs[tok] = -0.1 * float64(i+1)
	}

	return &Response{
		Output:   output,
		Logprobs: logprobs,
		Metadata: map[string]any{
			"model":     mockModel,
			"provider":  "mock",
			"timestamp": time.Now().Unix(),
		},
		Cost: float64(wordCount(query)+wordCount(output)) * mockCostPerWord,
	}, nil
}

func runePrefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
