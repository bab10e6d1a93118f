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
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	DefaultWeaviateClass    = "SemiosisContext"
	DefaultWeaviateProperty = "content"
	DefaultWeaviateLimit    = 5

	weaviateBatchSize = 100
)

// WeaviateConfig configures a retrieval-backed provider.
type WeaviateConfig struct {
	// URL of the Weaviate server, e.g. http://localhost:8080.
	URL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Class is the collection to search.
	Class string

	// Property holds the text returned as context.
	Property string

	// Limit is the number of objects concatenated per query.
	Limit int
}

// Document is one context passage to index.
type Document struct {
	ID      string
	Source  string
	Content string
}

// Weaviate retrieves per-query context with a BM25 search.
//
// Unlike the mock and dbt providers the context depends on the query: the
// top Limit objects by BM25 score are joined with blank lines.
//
// Thread Safety: Safe for concurrent use.
type Weaviate struct {
	client   *weaviate.Client
	url      string
	class    string
	property string
	limit    int
}

// NewWeaviate creates the client. No request is made until first use.
func NewWeaviate(cfg WeaviateConfig) (*Weaviate, error) {
	if cfg.Class == "" {
		cfg.Class = DefaultWeaviateClass
	}
	if cfg.Property == "" {
		cfg.Property = DefaultWeaviateProperty
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultWeaviateLimit
	}

	wc := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		wc.Scheme = "https"
		wc.Host = strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		wc.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	wc.Host = strings.TrimSuffix(wc.Host, "/")
	if wc.Host == "" {
		return nil, fmt.Errorf("weaviate url is required")
	}
	if cfg.APIKey != "" {
		wc.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Weaviate{
		client:   client,
		url:      cfg.URL,
		class:    cfg.Class,
		property: cfg.Property,
		limit:    cfg.Limit,
	}, nil
}

// GetContext implements Provider.
func (w *Weaviate) GetContext(ctx context.Context, query string) (string, Metadata, error) {
	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: w.property}).
		WithBM25(w.client.GraphQL().Bm25ArgBuilder().WithQuery(query).WithProperties(w.property)).
		WithLimit(w.limit).
		Do(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return "", nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	passages := extractPassages(result.Data, w.class, w.property)
	text := strings.Join(passages, "\n\n")
	return text, Metadata{
		"source":    "weaviate",
		"url":       w.url,
		"class":     w.class,
		"retrieved": len(passages),
		"size":      utf8.RuneCountInString(text),
	}, nil
}

// extractPassages pulls property out of a GraphQL Get response. Objects
// without a string value are skipped.
func extractPassages(data map[string]models.JSONObject, class, property string) []string {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		if s, ok := m[property].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Schema returns the class definition used by EnsureClass.
func (w *Weaviate) Schema() *models.Class {
	return &models.Class{
		Class:       w.class,
		Description: "Context passages retrieved for semiosis evaluations",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: w.property, DataType: []string{"text"}, Tokenization: "word"},
			{Name: "source", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "docId", DataType: []string{"text"}, Tokenization: "field"},
		},
	}
}

// EnsureClass creates the class if it does not exist.
func (w *Weaviate) EnsureClass(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.class).Do(ctx); err == nil {
		return nil
	}
	if err := w.client.Schema().ClassCreator().WithClass(w.Schema()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.class, err)
	}
	slog.Info("Created weaviate class", "class", w.class)
	return nil
}

// Index batch-imports docs and returns how many were stored.
func (w *Weaviate) Index(ctx context.Context, docs []Document) (int, error) {
	indexed := 0
	for start := 0; start < len(docs); start += weaviateBatchSize {
		end := min(start+weaviateBatchSize, len(docs))

		objects := make([]*models.Object, 0, end-start)
		for _, d := range docs[start:end] {
			objects = append(objects, &models.Object{
				Class: w.class,
				Properties: map[string]interface{}{
					w.property: d.Content,
					"source":   d.Source,
					"docId":    d.ID,
				},
			})
		}

		result, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("batch import failed: %w", err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors == nil {
				indexed++
			}
		}
	}
	return indexed, nil
}

// DocumentsFromDBT splits a dbt provider's rendered models into one
// Document per model, for indexing.
func DocumentsFromDBT(ctx context.Context, d *DBT) ([]Document, error) {
	text, _, err := d.GetContext(ctx, "")
	if err != nil {
		return nil, err
	}
	var docs []Document
	for i, block := range strings.Split(text, "\n\n") {
		if !strings.HasPrefix(block, "Model: ") {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(block, "Model: "), "\n")
		docs = append(docs, Document{ID: fmt.Sprintf("dbt:%d:%s", i, name), Source: "dbt", Content: block})
	}
	return docs, nil
}
