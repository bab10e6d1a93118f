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

	"golang.org/x/time/rate"
)

// rateLimited gates an Agent behind a token bucket.
type rateLimited struct {
	Agent
	limiter *rate.Limiter
}

// WithRateLimit wraps agent so that at most rps requests per second start,
// with bursts of up to burst. A non-positive rps returns agent unchanged.
func WithRateLimit(agent Agent, rps float64, burst int) Agent {
	if rps <= 0 {
		return agent
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Agent: agent, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) GenerateResponse(ctx context.Context, query, contextText string) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Agent.GenerateResponse(ctx, query, contextText)
}
