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
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var anthropicTracer = otel.Tracer("semiosis.agents.anthropic")

const (
	anthropicAPIVersion    = "2023-06-01"
	anthropicDefaultURL    = "https://api.anthropic.com/v1"
	anthropicDefaultModel  = "claude-3-5-sonnet-20241022"
	anthropicMaxRetries    = 3
	anthropicBaseDelay     = time.Second
	anthropicMaxDelay      = 60 * time.Second
	anthropicJitterMinimum = 0.1
	anthropicJitterRange   = 0.2
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *anthropicUsage    `json:"usage,omitempty"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// statusError is a non-200 reply from the Messages API.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("anthropic API error %d: %s", e.StatusCode, e.Body)
}

func (e *statusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Anthropic calls the Claude Messages API.
//
// Description:
//
//	The Messages API exposes no token log-probabilities, so Logprobs are
//	simulated from token shape and position and metadata reports
//	logprobs_available=false. Rate limits (429), server errors (5xx) and
//	transport failures are retried with exponential backoff and jitter.
//
// Thread Safety: Safe for concurrent use.
type Anthropic struct {
	httpClient  *http.Client
	secret      *Secret
	baseURL     string
	model       string
	temperature float64
	topP        float64
	maxTokens   int
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	price       Price
	args        Args

	// sleep waits between attempts. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAnthropic builds a Claude agent.
//
// Recognised args: api_key (else ANTHROPIC_API_KEY), model, temperature
// (0.1), max_tokens (1000), top_p (1.0), max_retries (3), base_delay
// (seconds, 1), max_delay (seconds, 60), base_url, timeout (seconds, 60).
func NewAnthropic(args Args) (*Anthropic, error) {
	secret, err := resolveAPIKey(args, "ANTHROPIC_API_KEY", "anthropic_api_key")
	if err != nil {
		return nil, err
	}
	model := args.String("model", anthropicDefaultModel)
	slog.Debug("Initializing Anthropic agent", "model", model)
	return &Anthropic{
		httpClient:  &http.Client{Timeout: args.Seconds("timeout", 60*time.Second)},
		secret:      secret,
		baseURL:     strings.TrimSuffix(args.String("base_url", anthropicDefaultURL), "/"),
		model:       model,
		temperature: args.Float("temperature", 0.1),
		topP:        args.Float("top_p", 1.0),
		maxTokens:   args.Int("max_tokens", 1000),
		maxRetries:  args.Int("max_retries", anthropicMaxRetries),
		baseDelay:   args.Seconds("base_delay", anthropicBaseDelay),
		maxDelay:    args.Seconds("max_delay", anthropicMaxDelay),
		price:       AnthropicPrice(model),
		args:        args,
		sleep:       sleepContext,
	}, nil
}

// Name implements Agent.
func (a *Anthropic) Name() string { return "anthropic" }

// Config implements Agent.
func (a *Anthropic) Config() map[string]any {
	cfg := a.args.Redacted()
	cfg["model"] = a.model
	cfg["temperature"] = a.temperature
	cfg["top_p"] = a.topP
	cfg["max_tokens"] = a.maxTokens
	cfg["max_retries"] = a.maxRetries
	return cfg
}

// EstimateCost prices a query/response pair from word counts.
func (a *Anthropic) EstimateCost(query, response string) float64 {
	return a.price.Estimate(query, response)
}

// GenerateResponse implements Agent.
//
// Outputs:
//   - *Response: Metadata includes "attempts".
//   - error: The last failure once retries are exhausted, or the first
//     non-retryable failure.
func (a *Anthropic) GenerateResponse(ctx context.Context, query, contextText string) (*Response, error) {
	ctx, span := anthropicTracer.Start(ctx, "Anthropic.GenerateResponse")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model))

	content := query
	if contextText != "" {
		content = fmt.Sprintf("Context:\n%s\n\nQuery: %s", contextText, query)
	}
	payload := anthropicRequest{
		Model:       a.model,
		Messages:    []anthropicMessage{{Role: "user", Content: content}},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		TopP:        a.topP,
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		start := time.Now()
		resp, err := a.send(ctx, payload)
		if err == nil {
			return a.toResponse(resp, time.Since(start), attempt+1), nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == a.maxRetries {
			break
		}
		delay := a.retryDelay(attempt)
		slog.Warn("Anthropic request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if err := a.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, fmt.Errorf("anthropic request failed: %w", lastErr)
}

func (a *Anthropic) send(ctx context.Context, payload anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	key, err := a.secret.Reveal()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("anthropic API error (%s): %s", out.Error.Type, out.Error.Message)
	}
	return &out, nil
}

func (a *Anthropic) toResponse(resp *anthropicResponse, elapsed time.Duration, attempts int) *Response {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	output := sb.String()

	usage := anthropicUsage{}
	if resp.Usage != nil {
		usage = *resp.Usage
	}

	return &Response{
		Output:   output,
		Logprobs: simulateLogprobs(output),
		Metadata: map[string]any{
			"model":    a.model,
			"provider": "anthropic",
			"usage": map[string]any{
				"input_tokens":  usage.InputTokens,
				"output_tokens": usage.OutputTokens,
			},
			"response_time":      elapsed.Seconds(),
			"stop_reason":        resp.StopReason,
			"attempts":           attempts,
			"logprobs_available": false,
		},
		Cost: a.price.Cost(usage.InputTokens, usage.OutputTokens),
	}
}

// retryDelay is base·2^attempt plus 10–30% jitter, capped at maxDelay.
func (a *Anthropic) retryDelay(attempt int) time.Duration {
	d := float64(a.baseDelay) * math.Pow(2, float64(attempt))
	d += (anthropicJitterMinimum + rand.Float64()*anthropicJitterRange) * d
	return time.Duration(math.Min(d, float64(a.maxDelay)))
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	// Anything else reached here is a transport or decode failure.
	return true
}

var sqlKeywords = map[string]bool{"select": true, "from": true, "where": true, "and": true, "or": true}

// simulateLogprobs assigns shape-based confidence to each word: SQL
// keywords are near-certain, numbers fairly likely, long tokens unlikely,
// and everything else decays slowly with position.
func simulateLogprobs(output string) map[string]float64 {
	tokens := strings.Fields(output)
	out := make(map[string]float64, len(tokens))
	for i, tok := range tokens {
		switch {
		case sqlKeywords[strings.ToLower(tok)]:
			out[tok] = -0.1
		case isDigits(tok):
			out[tok] = -0.5
		case len([]rune(tok)) > 10:
			out[tok] = -1.5
		default:
			out[tok] = -0.8 - float64(i)*0.01
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
