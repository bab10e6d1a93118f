// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the semiosis CLI's YAML configuration.
package config

import (
	"time"

	"github.com/AleutianAI/semiosis/pkg/params"
	"github.com/AleutianAI/semiosis/services/evaluation"
	"github.com/AleutianAI/semiosis/services/export"
	"github.com/AleutianAI/semiosis/services/sit"
	"github.com/AleutianAI/semiosis/services/telemetry"
)

// Config is the full CLI configuration.
type Config struct {
	Agent       Component  `yaml:"agent"`
	Environment Component  `yaml:"environment"`
	Context     *Component `yaml:"context,omitempty"`

	// Interventions are applied to the context provider in order.
	Interventions []string `yaml:"interventions,omitempty"`

	Evaluation EvaluationConfig `yaml:"evaluation"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Export     ExportConfig     `yaml:"export"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Monitor    MonitorConfig    `yaml:"monitor"`

	// Output is where the results JSON is written.
	Output string `yaml:"output" validate:"required"`
}

// Component selects a backend by type and passes it loosely typed args.
type Component struct {
	Type string      `yaml:"type" validate:"required"`
	Args params.Args `yaml:"args,omitempty"`
}

// EvaluationConfig holds the trust and budget dynamics of a run.
type EvaluationConfig struct {
	InitialTrust    float64   `yaml:"initial_trust" validate:"gtefield=MinTrust,ltefield=MaxTrust"`
	TrustThresholds []float64 `yaml:"trust_thresholds,omitempty"`
	MinTrust        float64   `yaml:"min_trust" validate:"ltefield=MaxTrust"`
	MaxTrust        float64   `yaml:"max_trust"`
	DefaultLogprob  float64   `yaml:"default_logprob" validate:"lte=0"`
	InitialBudget   float64   `yaml:"initial_budget" validate:"gte=0"`
	MinBudget       float64   `yaml:"min_budget"`
	MaxTasks        int       `yaml:"max_tasks" validate:"gte=0"`
	UseCostFunction bool      `yaml:"use_cost_function"`
}

// LoggingConfig maps onto pkg/logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// ExportConfig enables the optional result sinks.
type ExportConfig struct {
	Influx *InfluxConfig     `yaml:"influx,omitempty"`
	GCS    *export.GCSConfig `yaml:"gcs,omitempty"`
}

// InfluxConfig is export.InfluxConfig plus an enable switch so the
// INFLUXDB_* environment defaults can be used without repeating them.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty" validate:"omitempty,url"`
	Token   string `yaml:"token,omitempty"`
	Org     string `yaml:"org,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
}

// CacheConfig enables the BadgerDB response cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir,omitempty" validate:"required_if=Enabled true InMemory false"`
	InMemory bool          `yaml:"in_memory"`
	TTL      time.Duration `yaml:"ttl,omitempty" validate:"gte=0s"`
}

// RateLimitConfig throttles agent calls. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// MonitorConfig enables the HTTP status server.
type MonitorConfig struct {
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns a config that runs the mock agent against the mock
// environment with no context, writing ./results.json.
func DefaultConfig() Config {
	trust := sit.DefaultTrustConfig()
	budget := sit.DefaultBudgetConfig()
	return Config{
		Agent:       Component{Type: "mock"},
		Environment: Component{Type: "mock"},
		Evaluation: EvaluationConfig{
			InitialTrust:    0,
			TrustThresholds: append([]float64(nil), evaluation.DefaultTrustThresholds...),
			MinTrust:        trust.MinTrust,
			MaxTrust:        trust.MaxTrust,
			DefaultLogprob:  trust.DefaultLogprob,
			InitialBudget:   budget.InitialBudget,
			MinBudget:       budget.MinBudget,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info"},
		Output:    "./results.json",
	}
}

// TrustConfig builds the evaluator's trust configuration.
func (e EvaluationConfig) TrustConfig() sit.TrustConfig {
	c := sit.DefaultTrustConfig()
	c.MinTrust = e.MinTrust
	c.MaxTrust = e.MaxTrust
	c.DefaultLogprob = e.DefaultLogprob
	return c
}

// BudgetConfig builds the evaluator's budget configuration.
func (e EvaluationConfig) BudgetConfig() sit.BudgetConfig {
	c := sit.DefaultBudgetConfig()
	c.InitialBudget = e.InitialBudget
	c.MinBudget = e.MinBudget
	return c
}

// RunnerConfig builds the evaluation runner's configuration.
func (e EvaluationConfig) RunnerConfig() evaluation.Config {
	return evaluation.Config{
		InitialTrust:    e.InitialTrust,
		TrustThresholds: e.TrustThresholds,
		MaxTasks:        e.MaxTasks,
		UseCostFunction: e.UseCostFunction,
	}
}

// Resolve overlays the configured fields on export.DefaultInfluxConfig.
func (c InfluxConfig) Resolve() export.InfluxConfig {
	out := export.DefaultInfluxConfig()
	if c.URL != "" {
		out.URL = c.URL
	}
	if c.Token != "" {
		out.Token = c.Token
	}
	if c.Org != "" {
		out.Org = c.Org
	}
	if c.Bucket != "" {
		out.Bucket = c.Bucket
	}
	return out
}
