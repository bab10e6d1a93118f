// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contexts supplies the text an agent sees alongside each query.
//
// A Provider formats information from some source system (a dbt manifest,
// a Weaviate collection, a fixed sample) for LLM consumption. Interventions
// wrap a Provider and degrade what it returns in a controlled way, so that
// the change in agent performance can be attributed to the information
// removed.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/semiosis/pkg/params"
)

var (
	// ErrUnknownProvider is returned by New for an unrecognised type.
	ErrUnknownProvider = errors.New("unknown context provider")

	// ErrManifestNotFound is returned when target/manifest.json is missing.
	ErrManifestNotFound = errors.New("dbt manifest not found")

	// ErrInvalidManifest is returned when manifest.json cannot be decoded.
	ErrInvalidManifest = errors.New("invalid dbt manifest")

	// ErrUnknownIntervention is returned by ParseIntervention.
	ErrUnknownIntervention = errors.New("unknown intervention")
)

// Metadata describes a provided context. Every provider sets "source".
// Interventions append to "interventions".
type Metadata map[string]any

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Provider returns context relevant to a query.
type Provider interface {
	GetContext(ctx context.Context, query string) (string, Metadata, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string) (string, Metadata, error)

// GetContext implements Provider.
func (f ProviderFunc) GetContext(ctx context.Context, query string) (string, Metadata, error) {
	return f(ctx, query)
}

// Args is the settings map accepted by New.
type Args = params.Args

// Types lists the provider types accepted by New.
func Types() []string {
	out := []string{"dbt", "mock", "weaviate"}
	sort.Strings(out)
	return out
}

// New builds a provider.
//
// Inputs:
//   - kind: "mock", "dbt" (args: project_path) or "weaviate" (args: url,
//     class, property, limit, api_key).
//   - args: Provider settings.
//
// Outputs:
//   - Provider: The constructed provider.
//   - error: ErrUnknownProvider, or a construction error.
func New(kind string, args Args) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "mock":
		return NewMock(), nil
	case "dbt":
		path := args.String("project_path", "")
		if path == "" {
			return nil, fmt.Errorf("dbt context requires project_path")
		}
		return NewDBT(path), nil
	case "weaviate":
		return NewWeaviate(WeaviateConfig{
			URL:      args.String("url", "http://localhost:8080"),
			APIKey:   args.String("api_key", ""),
			Class:    args.String("class", DefaultWeaviateClass),
			Property: args.String("property", DefaultWeaviateProperty),
			Limit:    args.Int("limit", DefaultWeaviateLimit),
		})
	default:
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownProvider, kind, strings.Join(Types(), ", "))
	}
}
