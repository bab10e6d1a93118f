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

func newOllamaServer(t *testing.T, reply string, captured *ollamaGenerateRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			if captured != nil {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
			}
			_, _ = w.Write([]byte(reply))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b"},{"name":"llama3.1:8b"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_GenerateResponse_ListLogprobs(t *testing.T) {
	var req ollamaGenerateRequest
	srv := newOllamaServer(t, `{
		"response": "SELECT 1",
		"eval_count": 2,
		"logprobs": [{"token": "SELECT", "logprob": -0.25}, {"token": " 1", "logprob": -1.5}]
	}`, &req)

	o, err := NewOllama(Args{"base_url": srv.URL + "/"})
	require.NoError(t, err)

	resp, err := o.GenerateResponse(context.Background(), "count rows", "users(id)")
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", resp.Output)
	assert.Equal(t, map[string]float64{"SELECT": -0.25, " 1": -1.5}, resp.Logprobs)
	assert.Zero(t, resp.Cost)
	assert.Equal(t, true, resp.Metadata["logprobs_available"])
	assert.Equal(t, 2, resp.Metadata["eval_count"])

	assert.Equal(t, "qwen2.5-coder:7b", req.Model)
	assert.Equal(t, "Context:\nusers(id)\n\nQuery: count rows\n\nResponse:", req.Prompt)
	assert.False(t, req.Stream)
	assert.True(t, req.Logprobs)
	assert.Equal(t, 5, req.TopLogprobs)
	assert.InDelta(t, 0.1, req.Options["temperature"], 1e-12)
	assert.InDelta(t, 1000, req.Options["num_predict"], 1e-12)
}

func TestOllama_GenerateResponse_NoContextPrompt(t *testing.T) {
	var req ollamaGenerateRequest
	srv := newOllamaServer(t, `{"response": "ok"}`, &req)
	o, err := NewOllama(Args{"base_url": srv.URL})
	require.NoError(t, err)

	_, err = o.GenerateResponse(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "Query: hi\n\nResponse:", req.Prompt)
}

func TestParseOllamaLogprobs(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		response   string
		want       map[string]float64
		fromServer bool
	}{
		{
			name:       "parallel arrays",
			raw:        `{"tokens": ["a", "b", "c"], "logprobs": [-1, -2]}`,
			want:       map[string]float64{"a": -1, "b": -2},
			fromServer: true,
		},
		{
			name:       "missing logprob defaults",
			raw:        `[{"token": "x"}, {"logprob": -3}]`,
			want:       map[string]float64{"x": -10},
			fromServer: true,
		},
		{
			name:     "heuristic fallback",
			raw:      ``,
			response: "an apple costs $3.50",
			want:     map[string]float64{"an": -0.5, "apple": -1.0, "costs": -1.0, "$3.50": -2.0},
		},
		{
			name:     "null treated as absent",
			raw:      `null`,
			response: "ok",
			want:     map[string]float64{"ok": -0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fromServer := parseOllamaLogprobs(json.RawMessage(tt.raw), tt.response)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fromServer, fromServer)
		})
	}
}

func TestOllama_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'x' not found"}`))
	}))
	defer srv.Close()

	o, err := NewOllama(Args{"base_url": srv.URL, "model": "x"})
	require.NoError(t, err)

	_, err = o.GenerateResponse(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrModelNotPulled)
}

func TestOllama_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o, err := NewOllama(Args{"base_url": srv.URL})
	require.NoError(t, err)

	_, err = o.GenerateResponse(context.Background(), "q", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllama_ListAndCheckModels(t *testing.T) {
	srv := newOllamaServer(t, `{}`, nil)

	o, err := NewOllama(Args{"base_url": srv.URL})
	require.NoError(t, err)

	models, err := o.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5-coder:7b", "llama3.1:8b"}, models)
	assert.NoError(t, o.CheckModel(context.Background()))

	missing, err := NewOllama(Args{"base_url": srv.URL, "model": "mistral:7b"})
	require.NoError(t, err)
	assert.ErrorIs(t, missing.CheckModel(context.Background()), ErrModelNotPulled)
}

func TestNewOllama_InvalidURL(t *testing.T) {
	_, err := NewOllama(Args{"base_url": "localhost"})
	assert.Error(t, err)
}
