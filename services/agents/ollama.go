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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("semiosis.agents.ollama")

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "qwen2.5-coder:7b"
	ollamaTopLogprobs    = 5
)

// ErrModelNotPulled is returned when the Ollama server does not have the
// configured model.
var ErrModelNotPulled = errors.New("model not available on ollama server")

// Ollama talks to a local Ollama server's /api/generate endpoint.
//
// Local inference is free, so Cost is always 0.
//
// Thread Safety: Safe for concurrent use.
type Ollama struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	topP        float64
	timeout     time.Duration
	args        Args
}

type ollamaGenerateRequest struct {
	Model       string         `json:"model"`
	Prompt      string         `json:"prompt"`
	Options     map[string]any `json:"options"`
	Stream      bool           `json:"stream"`
	Logprobs    bool           `json:"logprobs"`
	TopLogprobs int            `json:"top_logprobs"`
}

type ollamaGenerateResponse struct {
	Model              string          `json:"model"`
	Response           string          `json:"response"`
	Done               bool            `json:"done"`
	EvalCount          int             `json:"eval_count"`
	EvalDuration       int64           `json:"eval_duration"`
	PromptEvalCount    int             `json:"prompt_eval_count"`
	PromptEvalDuration int64           `json:"prompt_eval_duration"`
	TotalDuration      int64           `json:"total_duration"`
	LoadDuration       int64           `json:"load_duration"`
	Logprobs           json.RawMessage `json:"logprobs,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllama builds an Ollama agent.
//
// Recognised args: base_url, model, temperature (0.1), max_tokens (1000),
// top_p (1.0), timeout (seconds, 60).
//
// The server is not contacted here. Call CheckModel to verify the model
// has been pulled.
func NewOllama(args Args) (*Ollama, error) {
	base := strings.TrimSuffix(args.String("base_url", ollamaDefaultBaseURL), "/")
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama base_url %q", base)
	}
	timeout := args.Seconds("timeout", 60*time.Second)
	o := &Ollama{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     base,
		model:       args.String("model", ollamaDefaultModel),
		temperature: args.Float("temperature", 0.1),
		maxTokens:   args.Int("max_tokens", 1000),
		topP:        args.Float("top_p", 1.0),
		timeout:     timeout,
		args:        args,
	}
	slog.Debug("Initializing Ollama agent", "base_url", o.baseURL, "model", o.model)
	return o, nil
}

// Name implements Agent.
func (o *Ollama) Name() string { return "ollama" }

// Config implements Agent.
func (o *Ollama) Config() map[string]any {
	cfg := o.args.Redacted()
	cfg["base_url"] = o.baseURL
	cfg["model"] = o.model
	cfg["temperature"] = o.temperature
	cfg["max_tokens"] = o.maxTokens
	cfg["top_p"] = o.topP
	cfg["timeout"] = o.timeout.Seconds()
	return cfg
}

// GenerateResponse implements Agent.
func (o *Ollama) GenerateResponse(ctx context.Context, query, contextText string) (*Response, error) {
	ctx, span := ollamaTracer.Start(ctx, "Ollama.GenerateResponse")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: buildPrompt(query, contextText),
		Options: map[string]any{
			"temperature": o.temperature,
			"num_predict": o.maxTokens,
			"top_p":       o.topP,
		},
		Stream:      false,
		Logprobs:    true,
		TopLogprobs: ollamaTopLogprobs,
	}

	start := time.Now()
	var result ollamaGenerateResponse
	if err := o.postJSON(ctx, "/api/generate", payload, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	elapsed := time.Since(start)

	logprobs, fromServer := parseOllamaLogprobs(result.Logprobs, result.Response)
	return &Response{
		Output:   result.Response,
		Logprobs: logprobs,
		Metadata: map[string]any{
			"model":                o.model,
			"provider":             "ollama",
			"response_time":        elapsed.Seconds(),
			"eval_count":           result.EvalCount,
			"eval_duration":        result.EvalDuration,
			"prompt_eval_count":    result.PromptEvalCount,
			"prompt_eval_duration": result.PromptEvalDuration,
			"total_duration":       result.TotalDuration,
			"load_duration":        result.LoadDuration,
			"logprobs_available":   fromServer,
		},
		Cost: 0,
	}, nil
}

// ListModels returns the model names the server has pulled.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama server not reachable at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags failed with status %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// CheckModel returns ErrModelNotPulled when the configured model is not in
// ListModels.
func (o *Ollama) CheckModel(ctx context.Context) error {
	models, err := o.ListModels(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(models, o.model) {
		return fmt.Errorf("%w: %q (available: %v). Please run: 'ollama pull %s'", ErrModelNotPulled, o.model, models, o.model)
	}
	return nil
}

func (o *Ollama) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound && bytes.Contains(respBody, []byte("not found")) {
			return fmt.Errorf("%w: %q. Please run: 'ollama pull %s'", ErrModelNotPulled, o.model, o.model)
		}
		return fmt.Errorf("ollama failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse ollama response: %w", err)
	}
	return nil
}

// buildPrompt is the plain-text prompt shared by completion-style backends.
func buildPrompt(query, contextText string) string {
	if contextText != "" {
		return fmt.Sprintf("Context:\n%s\n\nQuery: %s\n\nResponse:", contextText, query)
	}
	return fmt.Sprintf("Query: %s\n\nResponse:", query)
}

// parseOllamaLogprobs accepts either a list of {token, logprob} entries or
// a {tokens, logprobs} pair of arrays. When the server sent neither, it
// falls back to a shape heuristic over the response words and reports
// fromServer=false.
func parseOllamaLogprobs(raw json.RawMessage, response string) (logprobs map[string]float64, fromServer bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		out := map[string]float64{}
		switch trimmed[0] {
		case '[':
			var entries []struct {
				Token   *string  `json:"token"`
				Logprob *float64 `json:"logprob"`
			}
			if err := json.Unmarshal(trimmed, &entries); err == nil {
				for _, e := range entries {
					if e.Token == nil {
						continue
					}
					lp := -10.0
					if e.Logprob != nil {
						lp = *e.Logprob
					}
					out[*e.Token] = lp
				}
			}
		case '{':
			var pair struct {
				Tokens   []string  `json:"tokens"`
				Logprobs []float64 `json:"logprobs"`
			}
			if err := json.Unmarshal(trimmed, &pair); err == nil {
				for i := 0; i < len(pair.Tokens) && i < len(pair.Logprobs); i++ {
					out[pair.Tokens[i]] = pair.Logprobs[i]
				}
			}
		}
		return out, true
	}

	out := map[string]float64{}
	for _, tok := range strings.Fields(response) {
		out[tok] = heuristicLogprob(tok)
	}
	return out, false
}

func heuristicLogprob(tok string) float64 {
	if utf8.RuneCountInString(tok) <= 2 {
		return -0.5
	}
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return -2.0
		}
	}
	return -1.0
}
