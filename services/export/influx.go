// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/semiosis/services/evaluation"
)

const (
	// TrajectoryMeasurement holds one point per evaluated task.
	TrajectoryMeasurement = "semiosis_trajectory"

	// SummaryMeasurement holds one point per run.
	SummaryMeasurement = "semiosis_summary"
)

// PointWriter is the part of api.WriteAPIBlocking the sink uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig locates an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"-"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`
}

// DefaultInfluxConfig reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET, falling back to a local server.
func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{
		URL:    envOr("INFLUXDB_URL", "http://localhost:8086"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    envOr("INFLUXDB_ORG", "semiosis"),
		Bucket: envOr("INFLUXDB_BUCKET", "evaluations"),
	}
}

// InfluxSink writes trust/budget trajectories as time series.
//
// Thread Safety: Safe for concurrent use if the PointWriter is.
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
}

// NewInfluxSink connects to InfluxDB and checks its health.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check: %w", err)
	}
	slog.Debug("Connected to InfluxDB", "url", cfg.URL, "status", health.Status, "bucket", cfg.Bucket)

	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// NewInfluxSinkWithWriter wraps an existing writer.
func NewInfluxSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

// WriteResults writes a run's trajectory and summary points.
func (s *InfluxSink) WriteResults(ctx context.Context, res *evaluation.Results) error {
	points := ResultPoints(res)
	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	slog.Info("Exported trajectory to InfluxDB", "run_id", res.RunID, "points", len(points))
	return nil
}

// WriteSweep writes every level of a sweep.
func (s *InfluxSink) WriteSweep(ctx context.Context, sweep *evaluation.SweepResults) error {
	for _, lvl := range sweep.Levels {
		if lvl.Results == nil {
			continue
		}
		if err := s.WriteResults(ctx, lvl.Results); err != nil {
			return fmt.Errorf("level %s: %w", lvl.Level, err)
		}
	}
	return nil
}

// Close releases the client, if the sink owns one.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// ResultPoints converts a run into line-protocol points.
//
// Description:
//
//	One semiosis_trajectory point per task, spaced one millisecond apart
//	from the run's start so that points sharing a tag set never collide,
//	and one semiosis_summary point at the run's finish. Tags are run_id,
//	agent, environment and, when set, label.
func ResultPoints(res *evaluation.Results) []*write.Point {
	if res == nil {
		return nil
	}
	tags := map[string]string{
		"run_id":      res.RunID,
		"agent":       res.Metadata.Agent,
		"environment": res.Metadata.Environment,
	}
	if res.Metadata.Label != "" {
		tags["label"] = res.Metadata.Label
	}

	start := res.Metadata.StartedAt
	if start.IsZero() {
		start = time.Now()
	}

	points := make([]*write.Point, 0, len(res.Results)+1)
	for i, rec := range res.Results {
		points = append(points, influxdb2.NewPoint(
			TrajectoryMeasurement,
			tags,
			map[string]interface{}{
				"step":    i,
				"trust":   rec.Trust,
				"budget":  rec.Budget,
				"cost":    rec.Cost,
				"score":   rec.Evaluation.Score,
				"success": rec.Evaluation.Success,
			},
			start.Add(time.Duration(i)*time.Millisecond),
		))
	}

	end := res.Metadata.FinishedAt
	if end.IsZero() {
		end = start.Add(time.Duration(len(res.Results)) * time.Millisecond)
	}
	points = append(points, influxdb2.NewPoint(
		SummaryMeasurement,
		tags,
		map[string]interface{}{
			"total_tasks":        res.Summary.TotalTasks,
			"success_rate":       res.Summary.SuccessRate,
			"total_cost":         res.Summary.TotalCost,
			"average_score":      res.Summary.AverageScore,
			"final_trust":        res.Summary.FinalTrust,
			"final_budget":       res.Summary.FinalBudget,
			"semantic_threshold": res.Analysis.SemanticThreshold,
			"baseline_viability": res.Analysis.BaselineViability,
			"mutual_information": res.Analysis.MutualInformation,
		},
		end,
	))
	return points
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
