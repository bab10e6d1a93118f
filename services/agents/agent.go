// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents adapts language-model backends to a single Agent interface
// that returns text together with per-token log-probabilities and a cost.
//
// Backends: a deterministic mock, a local Ollama server, OpenAI-compatible
// hosted APIs (Together AI, OpenAI) and Anthropic. Rate limiting and a
// BadgerDB response cache are provided as decorators.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/semiosis/pkg/params"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownAgent is returned by New for an unrecognised agent type.
	ErrUnknownAgent = errors.New("unknown agent type")

	// ErrMissingAPIKey is returned when a hosted agent has no credentials.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrUnsupportedModel is returned when a model has no pricing entry.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrEmptyResponse is returned when a backend returns no choices.
	ErrEmptyResponse = errors.New("empty response from backend")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Response is a single agent completion.
type Response struct {
	// Output is the generated text.
	Output string `json:"output"`

	// Logprobs maps each emitted token to its natural-log probability. When
	// a token repeats, the last occurrence wins.
	Logprobs map[string]float64 `json:"logprobs,omitempty"`

	// Metadata carries backend details (model, provider, token usage, timing).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Cost is the monetary cost in USD, or a proxy for local backends.
	Cost float64 `json:"cost"`
}

// Agent produces a response to a query, optionally grounded in context text.
//
// Implementations return an error for transport or API failures and never
// panic. Callers treat an error as a failed task, not a failed run.
type Agent interface {
	// GenerateResponse answers query. contextText may be empty.
	GenerateResponse(ctx context.Context, query, contextText string) (*Response, error)

	// Name returns the agent type, e.g. "ollama".
	Name() string

	// Config returns the effective configuration with secrets removed.
	Config() map[string]any
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// Types lists the agent types accepted by New.
func Types() []string {
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var constructors = map[string]func(Args) (Agent, error){
	"mock":      func(a Args) (Agent, error) { return NewMock(a), nil },
	"ollama":    func(a Args) (Agent, error) { return NewOllama(a) },
	"together":  func(a Args) (Agent, error) { return NewTogether(a) },
	"openai":    func(a Args) (Agent, error) { return NewOpenAI(a) },
	"anthropic": func(a Args) (Agent, error) { return NewAnthropic(a) },
}

// New builds an agent of the given type from args.
//
// Inputs:
//   - kind: One of Types(). Case-insensitive.
//   - args: Backend-specific settings. Nil is treated as empty.
//
// Outputs:
//   - Agent: The constructed agent.
//   - error: ErrUnknownAgent for an unrecognised kind, or the backend's
//     construction error.
func New(kind string, args Args) (Agent, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownAgent, kind, strings.Join(Types(), ", "))
	}
	if args == nil {
		args = Args{}
	}
	return ctor(args)
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Args is the settings map accepted by agent constructors.
type Args = params.Args
