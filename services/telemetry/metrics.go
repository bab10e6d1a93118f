// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded during an evaluation run.
//
// Description:
//
//	All instruments use the "semiosis_" prefix. Attributes are attached at
//	record time: environment and agent on every instrument, success on the
//	task counter.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// TasksTotal counts evaluated tasks by environment, agent and success.
	TasksTotal metric.Int64Counter

	// TaskScore records the environment score of each task.
	TaskScore metric.Float64Histogram

	// AgentCost records the cost reported for each response.
	AgentCost metric.Float64Histogram

	// Trust records trust after each task.
	Trust metric.Float64Histogram

	// Budget records budget after each task.
	Budget metric.Float64Histogram

	// AgentLatency records agent response time in seconds.
	AgentLatency metric.Float64Histogram
}

// NewMetrics creates the semiosis instruments on meter.
//
// Inputs:
//   - meter: Usually otel.Meter("semiosis"). A no-op meter is valid.
//
// Outputs:
//   - *Metrics: Ready to record.
//   - error: Non-nil if an instrument could not be created.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	m.TasksTotal, err = meter.Int64Counter("semiosis_tasks_total",
		metric.WithDescription("Evaluated tasks by environment, agent and success"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tasks_total: %w", err)
	}

	m.TaskScore, err = meter.Float64Histogram("semiosis_task_score",
		metric.WithDescription("Environment score per task"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.25, 0.5, 0.75, 0.9, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create task_score: %w", err)
	}

	m.AgentCost, err = meter.Float64Histogram("semiosis_agent_cost",
		metric.WithDescription("Cost reported per agent response"),
		metric.WithUnit("{USD}"),
		metric.WithExplicitBucketBoundaries(0, 1e-6, 1e-5, 1e-4, 1e-3, 0.01, 0.1, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create agent_cost: %w", err)
	}

	m.Trust, err = meter.Float64Histogram("semiosis_trust",
		metric.WithDescription("Trust after each task"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20, 50, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("create trust: %w", err)
	}

	m.Budget, err = meter.Float64Histogram("semiosis_budget",
		metric.WithDescription("Budget after each task"),
		metric.WithExplicitBucketBoundaries(0, 10, 25, 50, 75, 100, 200),
	)
	if err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}

	m.AgentLatency, err = meter.Float64Histogram("semiosis_agent_latency_seconds",
		metric.WithDescription("Agent response latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create agent_latency: %w", err)
	}

	return &m, nil
}

// TaskObservation is one task's worth of recorded values.
type TaskObservation struct {
	Environment string
	Agent       string
	Success     bool
	Score       float64
	Cost        float64
	Trust       float64
	Budget      float64
	Latency     float64
}

// RecordTask records every instrument for one task. Safe on a nil receiver.
func (m *Metrics) RecordTask(ctx context.Context, obs TaskObservation) {
	if m == nil {
		return
	}
	base := metric.WithAttributes(
		attribute.String("environment", obs.Environment),
		attribute.String("agent", obs.Agent),
	)
	m.TasksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", obs.Environment),
		attribute.String("agent", obs.Agent),
		attribute.Bool("success", obs.Success),
	))
	m.TaskScore.Record(ctx, obs.Score, base)
	m.AgentCost.Record(ctx, obs.Cost, base)
	m.Trust.Record(ctx, obs.Trust, base)
	m.Budget.Record(ctx, obs.Budget, base)
	m.AgentLatency.Record(ctx, obs.Latency, base)
}
