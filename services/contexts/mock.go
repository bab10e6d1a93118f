// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contexts

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Element is one unit of mock context.
type Element struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

var mockElements = []Element{
	{ID: "ctx_001", Type: "documentation", Content: "Database schema: users table with id, name, email columns", Relevance: 0.9},
	{ID: "ctx_002", Type: "code_example", Content: "SELECT * FROM users WHERE email LIKE '%@gmail.com';", Relevance: 0.8},
	{ID: "ctx_003", Type: "constraint", Content: "Maximum query execution time is 30 seconds", Relevance: 0.7},
}

// Mock returns a fixed three-line context: a schema note, an example query
// and an execution constraint.
type Mock struct {
	elements []Element
}

// NewMock returns the sample provider.
func NewMock() *Mock {
	return &Mock{elements: mockElements}
}

// Elements returns the sample elements.
func (m *Mock) Elements() []Element {
	out := make([]Element, len(m.elements))
	copy(out, m.elements)
	return out
}

// GetContext implements Provider. The query is ignored.
func (m *Mock) GetContext(ctx context.Context, _ string) (string, Metadata, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	parts := make([]string, len(m.elements))
	for i, e := range m.elements {
		parts[i] = e.Content
	}
	text := strings.Join(parts, "\n")
	return text, Metadata{
		"source":        "mock",
		"element_count": len(m.elements),
		"size":          utf8.RuneCountInString(text),
	}, nil
}
