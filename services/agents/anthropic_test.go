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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anthropicReply = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"content": [{"type": "text", "text": "SELECT name FROM users"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 1000000, "output_tokens": 1000000}
}`

func newAnthropicForTest(t *testing.T, srv *httptest.Server, args Args) (*Anthropic, *[]time.Duration) {
	t.Helper()
	if args == nil {
		args = Args{}
	}
	args["api_key"] = "test-key"
	args["base_url"] = srv.URL
	a, err := NewAnthropic(args)
	require.NoError(t, err)

	var waits []time.Duration
	a.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return a, &waits
}

func TestAnthropic_GenerateResponse(t *testing.T) {
	var body anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(anthropicReply))
	}))
	defer srv.Close()

	a, _ := newAnthropicForTest(t, srv, nil)
	resp, err := a.GenerateResponse(context.Background(), "list names", "users(name)")
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM users", resp.Output)
	assert.InDelta(t, 18.0, resp.Cost, 1e-9)
	assert.Equal(t, 1, resp.Metadata["attempts"])
	assert.Equal(t, false, resp.Metadata["logprobs_available"])
	assert.Equal(t, "Context:\nusers(name)\n\nQuery: list names", body.Messages[0].Content)
	assert.Equal(t, anthropicDefaultModel, body.Model)
}

func TestAnthropic_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"type":"error"}`, http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(anthropicReply))
	}))
	defer srv.Close()

	a, waits := newAnthropicForTest(t, srv, nil)
	resp, err := a.GenerateResponse(context.Background(), "q", "")
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Metadata["attempts"])
	require.Len(t, *waits, 2)
	assert.GreaterOrEqual(t, (*waits)[1], (*waits)[0])
}

func TestAnthropic_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"type":"invalid_request_error"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	a, waits := newAnthropicForTest(t, srv, nil)
	_, err := a.GenerateResponse(context.Background(), "q", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *waits)
}

func TestAnthropic_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, waits := newAnthropicForTest(t, srv, Args{"max_retries": 2})
	_, err := a.GenerateResponse(context.Background(), "q", "")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *waits, 2)
}

func TestAnthropic_RetryDelay(t *testing.T) {
	a := &Anthropic{baseDelay: time.Second, maxDelay: 5 * time.Second}

	for attempt, base := range []time.Duration{time.Second, 2 * time.Second} {
		d := a.retryDelay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*1.1))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.3))
	}
	assert.Equal(t, 5*time.Second, a.retryDelay(10))
}

func TestSimulateLogprobs(t *testing.T) {
	got := simulateLogprobs("SELECT 42 supercalifragilistic word")

	assert.InDelta(t, -0.1, got["SELECT"], 1e-12)
	assert.InDelta(t, -0.5, got["42"], 1e-12)
	assert.InDelta(t, -1.5, got["supercalifragilistic"], 1e-12)
	assert.InDelta(t, -0.83, got["word"], 1e-12)
}

func TestNewAnthropic_MissingKey(t *testing.T) {
	isolateSecrets(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewAnthropic(Args{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
