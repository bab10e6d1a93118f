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

import "sort"

// tokensPerWord approximates sub-word tokenisation when no usage is reported.
const tokensPerWord = 1.3

// Price is a model's list price in USD per one million tokens.
type Price struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Cost prices a request from its token usage.
func (p Price) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*p.Input + float64(completionTokens)/1e6*p.Output
}

// Estimate prices a request from word counts when usage is unavailable.
func (p Price) Estimate(query, response string) float64 {
	in := float64(wordCount(query)) * tokensPerWord
	out := float64(wordCount(response)) * tokensPerWord
	return in/1e6*p.Input + out/1e6*p.Output
}

// Serverless Together AI models only; dedicated-endpoint models are
// rejected at construction.
var togetherPricing = map[string]Price{
	"meta-llama/Llama-3.1-8B-Instruct-Turbo":       {0.18, 0.18},
	"meta-llama/Llama-3.1-70B-Instruct-Turbo":      {0.88, 0.88},
	"meta-llama/Llama-3-8B-Instruct-Turbo":         {0.10, 0.10},
	"mistralai/Mistral-7B-Instruct-v0.3":           {0.20, 0.20},
	"mistralai/Mixtral-8x7B-Instruct-v0.1":         {0.60, 0.60},
	"Qwen/Qwen2.5-Coder-32B-Instruct":              {0.30, 0.30},
	"Qwen/Qwen2.5-7B-Instruct":                     {0.15, 0.15},
	"NousResearch/Nous-Hermes-2-Mixtral-8x7B-DPO":  {0.60, 0.60},
	"teknium/OpenHermes-2.5-Mistral-7B":            {0.20, 0.20},
	"togethercomputer/RedPajama-INCITE-Chat-3B-v1": {0.10, 0.10},
	"meta-llama/Llama-3.2-3B-Instruct-Turbo":       {0.06, 0.06},
	"meta-llama/Llama-3.2-1B-Instruct-Turbo":       {0.04, 0.04},
}

var openAIPricing = map[string]Price{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
}

var anthropicPricing = map[string]Price{
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {1.00, 5.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
}

// anthropicFallbackPrice applies to Claude models missing from the table.
var anthropicFallbackPrice = Price{3.00, 15.00}

// TogetherModels returns the supported Together AI models, sorted.
func TogetherModels() []string {
	return sortedKeys(togetherPricing)
}

// TogetherPrice returns the price of a Together AI model.
func TogetherPrice(model string) (Price, bool) {
	p, ok := togetherPricing[model]
	return p, ok
}

// AnthropicModels returns the Claude models with known pricing, sorted.
func AnthropicModels() []string {
	return sortedKeys(anthropicPricing)
}

// AnthropicPrice returns the price of a Claude model, falling back to
// Sonnet pricing for unknown models.
func AnthropicPrice(model string) Price {
	if p, ok := anthropicPricing[model]; ok {
		return p
	}
	return anthropicFallbackPrice
}

func sortedKeys(m map[string]Price) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
