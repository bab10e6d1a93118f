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
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("semiosis.agents.chat")

const (
	togetherBaseURL      = "https://api.together.xyz/v1"
	togetherDefaultModel = "meta-llama/Llama-3.2-3B-Instruct-Turbo"
	openAIDefaultModel   = "gpt-4o-mini"
	defaultTopLogprobs   = 5
)

// ChatAgent calls an OpenAI-compatible chat completions API with logprobs
// enabled. It backs both the "together" and "openai" agent types.
//
// Thread Safety: Safe for concurrent use.
type ChatAgent struct {
	client      *openai.Client
	provider    string
	baseURL     string
	model       string
	temperature float32
	topP        float32
	maxTokens   int
	topLogprobs int
	price       Price
	args        Args
}

// NewTogether builds a Together AI agent.
//
// Description:
//
//	Recognised args: api_key (else TOGETHER_API_KEY), model, temperature
//	(0.1), max_tokens (1000), top_p (1.0), logprobs (5), base_url, timeout
//	(seconds, 60). The model must be one of TogetherModels.
//
// Outputs:
//   - *ChatAgent: Ready to use.
//   - error: ErrMissingAPIKey or ErrUnsupportedModel.
func NewTogether(args Args) (*ChatAgent, error) {
	model := args.String("model", togetherDefaultModel)
	price, ok := TogetherPrice(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a serverless Together AI model (see 'semiosis models --agent together')", ErrUnsupportedModel, model)
	}
	secret, err := resolveAPIKey(args, "TOGETHER_API_KEY", "together_api_key")
	if err != nil {
		return nil, err
	}
	return newChatAgent("together", args.String("base_url", togetherBaseURL), model, price, secret, args), nil
}

// NewOpenAI builds an OpenAI agent.
//
// Recognised args match NewTogether, with OPENAI_API_KEY as the key
// fallback. Models outside the built-in price table may set input_price
// and output_price (USD per 1M tokens); otherwise cost is 0.
func NewOpenAI(args Args) (*ChatAgent, error) {
	model := args.String("model", openAIDefaultModel)
	price := openAIPricing[model]
	price.Input = args.Float("input_price", price.Input)
	price.Output = args.Float("output_price", price.Output)

	secret, err := resolveAPIKey(args, "OPENAI_API_KEY", "openai_api_key")
	if err != nil {
		return nil, err
	}
	return newChatAgent("openai", args.String("base_url", openai.DefaultConfig("").BaseURL), model, price, secret, args), nil
}

func newChatAgent(provider, baseURL, model string, price Price, secret *Secret, args Args) *ChatAgent {
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &bearerDoer{
		secret: secret,
		client: &http.Client{Timeout: args.Seconds("timeout", 60*time.Second)},
	}

	slog.Debug("Initializing chat agent", "provider", provider, "model", model)
	return &ChatAgent{
		client:      openai.NewClientWithConfig(cfg),
		provider:    provider,
		baseURL:     baseURL,
		model:       model,
		temperature: float32(args.Float("temperature", 0.1)),
		topP:        float32(args.Float("top_p", 1.0)),
		maxTokens:   args.Int("max_tokens", 1000),
		topLogprobs: args.Int("logprobs", defaultTopLogprobs),
		price:       price,
		args:        args,
	}
}

// Name implements Agent.
func (c *ChatAgent) Name() string { return c.provider }

// Model returns the configured model identifier.
func (c *ChatAgent) Model() string { return c.model }

// Config implements Agent.
func (c *ChatAgent) Config() map[string]any {
	cfg := c.args.Redacted()
	cfg["model"] = c.model
	cfg["base_url"] = c.baseURL
	cfg["temperature"] = float64(c.temperature)
	cfg["top_p"] = float64(c.topP)
	cfg["max_tokens"] = c.maxTokens
	cfg["logprobs"] = c.topLogprobs
	return cfg
}

// EstimateCost prices a query/response pair from word counts.
func (c *ChatAgent) EstimateCost(query, response string) float64 {
	return c.price.Estimate(query, response)
}

// GenerateResponse implements Agent.
func (c *ChatAgent) GenerateResponse(ctx context.Context, query, contextText string) (*Response, error) {
	ctx, span := chatTracer.Start(ctx, "ChatAgent.GenerateResponse")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", c.model),
	)

	var messages []openai.ChatCompletionMessage
	if contextText != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Use the following context to answer questions:\n\n" + contextText,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		TopP:        c.topP,
		MaxTokens:   c.maxTokens,
		LogProbs:    true,
		TopLogProbs: c.topLogprobs,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s API call failed: %w", c.provider, err)
	}
	elapsed := time.Since(start)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", c.provider, ErrEmptyResponse)
	}
	choice := resp.Choices[0]

	logprobs := map[string]float64{}
	if choice.LogProbs != nil {
		for _, lp := range choice.LogProbs.Content {
			logprobs[lp.Token] = lp.LogProb
		}
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)

	return &Response{
		Output:   choice.Message.Content,
		Logprobs: logprobs,
		Metadata: map[string]any{
			"model":              c.model,
			"provider":           c.provider,
			"response_time":      elapsed.Seconds(),
			"prompt_tokens":      resp.Usage.PromptTokens,
			"completion_tokens":  resp.Usage.CompletionTokens,
			"total_tokens":       resp.Usage.TotalTokens,
			"finish_reason":      string(choice.FinishReason),
			"logprobs_available": len(logprobs) > 0,
			"request_id":         resp.ID,
		},
		Cost: c.price.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}
