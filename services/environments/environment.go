// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package environments defines the task domains agents are evaluated in.
//
// An Environment hands out Tasks and scores an agent's response to each
// one, producing the sit.EvaluationResult that drives trust and budget.
// Scoring failures are reported inside the result, never as a Go error, so
// one bad response cannot abort a batch.
package environments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/semiosis/pkg/params"
	"github.com/AleutianAI/semiosis/services/sit"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownEnvironment is returned by New for an unrecognised type.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrNotInitialized is returned when Tasks is called before Initialize.
	ErrNotInitialized = errors.New("environment not initialized")

	// ErrInvalidSQL marks a response that fails the syntax check.
	ErrInvalidSQL = errors.New("invalid SQL syntax")

	// ErrInvalidDataset is returned when a dataset file cannot be used.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Task is one unit of evaluation.
type Task struct {
	ID          string         `json:"task_id" yaml:"id"`
	Query       string         `json:"query" yaml:"question"`
	GroundTruth string         `json:"ground_truth,omitempty" yaml:"sql"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}

// Environment supplies tasks and scores responses.
//
// Initialize must be called before Tasks. Evaluate never returns an error:
// problems are reported through EvaluationResult.Error with Success false.
// Close releases any resources and may be called more than once.
type Environment interface {
	Name() string
	Initialize(ctx context.Context) error
	Tasks(ctx context.Context, limit int) ([]Task, error)
	Evaluate(ctx context.Context, task Task, response string) sit.EvaluationResult
	Close() error
}

// Args is the settings map accepted by New.
type Args = params.Args

// Types lists the environment types accepted by New.
func Types() []string {
	out := []string{"mock", "text-to-sql"}
	sort.Strings(out)
	return out
}

// New builds an environment. It is not initialized.
//
// Inputs:
//   - kind: "mock" (args: similarity_threshold) or "text-to-sql" (args:
//     dataset_path, database_path, timeout, subset_size).
//   - args: Environment settings.
//
// Outputs:
//   - Environment: The constructed environment.
//   - error: ErrUnknownEnvironment for an unrecognised kind.
func New(kind string, args Args) (Environment, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(kind)), "_", "-") {
	case "mock":
		return NewMock(args.Float("similarity_threshold", DefaultSimilarityThreshold)), nil
	case "text-to-sql", "sql":
		return NewTextToSQL(TextToSQLConfig{
			DatasetPath:  args.String("dataset_path", ""),
			DatabasePath: args.String("database_path", ""),
			Timeout:      args.Seconds("timeout", DefaultQueryTimeout),
			SubsetSize:   args.Int("subset_size", 0),
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownEnvironment, kind, strings.Join(Types(), ", "))
	}
}

// limitTasks returns the first limit tasks, or all of them when limit is
// not positive.
func limitTasks(tasks []Task, limit int) []Task {
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

func failed(err error, details map[string]any) sit.EvaluationResult {
	return sit.EvaluationResult{
		Success: false,
		Score:   0.0,
		Error:   err.Error(),
		Details: details,
	}
}
