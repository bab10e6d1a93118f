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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatCompletionReply = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "meta-llama/Llama-3.2-3B-Instruct-Turbo",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "SELECT 1"},
		"finish_reason": "stop",
		"logprobs": {"content": [
			{"token": "SELECT", "logprob": -0.1, "bytes": null, "top_logprobs": []},
			{"token": " 1", "logprob": -0.2, "bytes": null, "top_logprobs": []}
		]}
	}],
	"usage": {"prompt_tokens": 1000000, "completion_tokens": 500000, "total_tokens": 1500000}
}`

type capturedChat struct {
	auth string
	body map[string]any
}

func newChatServer(t *testing.T, captured *capturedChat) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		captured.auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionReply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func isolateSecrets(t *testing.T) {
	t.Helper()
	old := secretsDir
	secretsDir = t.TempDir()
	t.Cleanup(func() { secretsDir = old })
}

func TestTogether_GenerateResponse(t *testing.T) {
	var captured capturedChat
	srv := newChatServer(t, &captured)

	a, err := NewTogether(Args{"api_key": "test-key", "base_url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "together", a.Name())
	assert.NotContains(t, a.Config(), "api_key")

	resp, err := a.GenerateResponse(context.Background(), "count users", "users(id)")
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", resp.Output)
	assert.Equal(t, map[string]float64{"SELECT": -0.1, " 1": -0.2}, resp.Logprobs)
	// 1M prompt + 0.5M completion at $0.06/1M.
	assert.InDelta(t, 0.09, resp.Cost, 1e-12)
	assert.Equal(t, "stop", resp.Metadata["finish_reason"])
	assert.Equal(t, true, resp.Metadata["logprobs_available"])

	assert.Equal(t, "Bearer test-key", captured.auth)
	assert.Equal(t, true, captured.body["logprobs"])
	assert.InDelta(t, 5, captured.body["top_logprobs"], 0)

	msgs, ok := captured.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "Use the following context to answer questions:\n\nusers(id)", system["content"])
}

func TestTogether_NoContextSendsOnlyUser(t *testing.T) {
	var captured capturedChat
	srv := newChatServer(t, &captured)

	a, err := NewTogether(Args{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	_, err = a.GenerateResponse(context.Background(), "q", "")
	require.NoError(t, err)

	msgs := captured.body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestNewTogether_UnsupportedModel(t *testing.T) {
	_, err := NewTogether(Args{"api_key": "k", "model": "meta-llama/Llama-2-70b-hf"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestNewTogether_MissingKey(t *testing.T) {
	isolateSecrets(t)
	t.Setenv("TOGETHER_API_KEY", "")

	_, err := NewTogether(Args{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewTogether_KeyFromEnv(t *testing.T) {
	t.Setenv("TOGETHER_API_KEY", "env-key")
	var captured capturedChat
	srv := newChatServer(t, &captured)

	a, err := NewTogether(Args{"base_url": srv.URL})
	require.NoError(t, err)
	_, err = a.GenerateResponse(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer env-key", captured.auth)
}

func TestNewOpenAI_CustomPrice(t *testing.T) {
	var captured capturedChat
	srv := newChatServer(t, &captured)

	a, err := NewOpenAI(Args{"api_key": "k", "base_url": srv.URL, "model": "local-model", "input_price": 1.0, "output_price": 2.0})
	require.NoError(t, err)
	assert.Equal(t, "openai", a.Name())

	resp, err := a.GenerateResponse(context.Background(), "q", "")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, resp.Cost, 1e-12)
	assert.Equal(t, "local-model", captured.body["model"])
}

func TestChatAgent_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	a, err := NewTogether(Args{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)

	_, err = a.GenerateResponse(context.Background(), "q", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "together API call failed")
}

func TestSecret_Reveal(t *testing.T) {
	s := NewSecret("hunter2")
	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	var empty *Secret = NewSecret("")
	_, err = empty.Reveal()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
