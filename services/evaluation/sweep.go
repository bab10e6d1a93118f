// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/telemetry"
)

// BaselineLevel is the sweep level that applies no intervention.
const BaselineLevel = "none"

// RunnerFactory builds a fresh runner for one sweep level. provider is
// the base provider already wrapped with the level's intervention.
//
// Each call must return a runner with its own environment and evaluator:
// levels run concurrently.
type RunnerFactory func(ctx context.Context, level string, provider contexts.Provider) (*Runner, error)

// Sweep evaluates the same agent under increasing context degradation.
type Sweep struct {
	// Levels are intervention names as accepted by
	// contexts.ParseIntervention, or BaselineLevel.
	Levels []string

	// Provider is the undegraded context.
	Provider contexts.Provider

	// NewRunner builds each level's runner.
	NewRunner RunnerFactory

	// Concurrency bounds simultaneous levels. Zero means all at once.
	Concurrency int

	// Seed makes the interventions reproducible. Zero picks a random seed.
	Seed uint64
}

// LevelResult pairs a sweep level with its run.
type LevelResult struct {
	Level   string   `json:"level"`
	Results *Results `json:"results"`
}

// SweepPoint is one level of the degradation curve.
type SweepPoint struct {
	Level             string  `json:"level"`
	SuccessRate       float64 `json:"success_rate"`
	AverageScore      float64 `json:"average_score"`
	FinalTrust        float64 `json:"final_trust"`
	SemanticThreshold float64 `json:"semantic_threshold"`
	BaselineViability float64 `json:"baseline_viability"`
}

// SweepResults is the report of a sweep. Levels and Curve follow the order
// of Sweep.Levels.
type SweepResults struct {
	SweepID string `json:"sweep_id"`

	// Seed reproduces the interventions when passed back as Sweep.Seed.
	Seed   uint64        `json:"seed"`
	Levels []LevelResult `json:"levels"`
	Curve  []SweepPoint  `json:"curve"`
}

// Run evaluates every level.
//
// Description:
//
//	Each level's decorator is parsed up front so a typo fails before any
//	agent is called. Levels then run under an errgroup; the first runner
//	error cancels the remaining levels.
//
// Outputs:
//   - *SweepResults: One entry per level.
//   - error: A parse, factory or run error.
func (s *Sweep) Run(ctx context.Context) (*SweepResults, error) {
	if s.NewRunner == nil {
		return nil, fmt.Errorf("sweep requires a runner factory")
	}
	if s.Provider == nil {
		return nil, fmt.Errorf("sweep requires a context provider")
	}
	levels := s.Levels
	if len(levels) == 0 {
		levels = []string{BaselineLevel}
	}

	seed := s.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	providers := make([]contexts.Provider, len(levels))
	for i, level := range levels {
		if isBaseline(level) {
			providers[i] = s.Provider
			continue
		}
		d, err := contexts.ParseIntervention(level, rng)
		if err != nil {
			return nil, err
		}
		providers[i] = d(s.Provider)
	}

	sweepID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Sweep.Run",
		trace.WithAttributes(
			attribute.String("sweep_id", sweepID),
			attribute.Int("levels", len(levels)),
		),
	)
	defer span.End()

	out := &SweepResults{
		SweepID: sweepID,
		Seed:    seed,
		Levels:  make([]LevelResult, len(levels)),
		Curve:   make([]SweepPoint, len(levels)),
	}

	g, gCtx := errgroup.WithContext(ctx)
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for i, level := range levels {
		g.Go(func() error {
			runner, err := s.NewRunner(gCtx, level, providers[i])
			if err != nil {
				return fmt.Errorf("level %s: %w", level, err)
			}
			res, err := runner.Run(gCtx)
			if err != nil {
				return fmt.Errorf("level %s: %w", level, err)
			}
			out.Levels[i] = LevelResult{Level: level, Results: res}
			out.Curve[i] = SweepPoint{
				Level:             level,
				SuccessRate:       res.Summary.SuccessRate,
				AverageScore:      res.Summary.AverageScore,
				FinalTrust:        res.Summary.FinalTrust,
				SemanticThreshold: res.Analysis.SemanticThreshold,
				BaselineViability: res.Analysis.BaselineViability,
			}
			slog.Info("Sweep level complete", "sweep_id", sweepID, "level", level,
				"success_rate", res.Summary.SuccessRate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

func isBaseline(level string) bool {
	l := strings.ToLower(strings.TrimSpace(level))
	return l == "" || l == BaselineLevel || l == "baseline"
}
