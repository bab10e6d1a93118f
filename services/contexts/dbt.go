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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

const manifestFile = "manifest.json"

// dbtManifest is the subset of a dbt manifest.json that is rendered.
type dbtManifest struct {
	Metadata struct {
		DBTVersion string `json:"dbt_version"`
	} `json:"metadata"`
	Nodes map[string]dbtNode `json:"nodes"`
}

type dbtNode struct {
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
	Description  string `json:"description"`
	Config       struct {
		Materialized string `json:"materialized"`
	} `json:"config"`
	Columns map[string]struct {
		Description string `json:"description"`
	} `json:"columns"`
	Tags []string `json:"tags"`
}

// DBT renders the models of a dbt project's compiled manifest.
//
// Description:
//
//	The manifest at <project>/target/manifest.json is loaded on first use
//	and cached. Every node with resource_type "model" is rendered with its
//	description, materialization, columns and tags. Nodes are ordered by
//	node id and columns by name so output is stable across runs.
//
// Thread Safety: Safe for concurrent use. Watch may reload the manifest
// while GetContext runs.
type DBT struct {
	projectPath string

	mu       sync.RWMutex
	manifest *dbtManifest
}

// NewDBT returns a provider for the project at projectPath. Nothing is read
// until the first GetContext or Load.
func NewDBT(projectPath string) *DBT {
	return &DBT{projectPath: projectPath}
}

// ManifestPath returns <project>/target/manifest.json.
func (d *DBT) ManifestPath() string {
	return filepath.Join(d.projectPath, "target", manifestFile)
}

// Load reads and caches the manifest, replacing any cached copy.
//
// Outputs:
//   - error: ErrManifestNotFound if the file does not exist,
//     ErrInvalidManifest if it is not valid JSON.
func (d *DBT) Load() error {
	path := d.ManifestPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w at %s: run 'dbt compile' or 'dbt run' in the project first", ErrManifestNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m dbtManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	d.mu.Lock()
	d.manifest = &m
	d.mu.Unlock()
	return nil
}

// GetContext implements Provider. The query is ignored: every model is
// included.
func (d *DBT) GetContext(ctx context.Context, _ string) (string, Metadata, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	d.mu.RLock()
	m := d.manifest
	d.mu.RUnlock()
	if m == nil {
		if err := d.Load(); err != nil {
			return "", nil, err
		}
		d.mu.RLock()
		m = d.manifest
		d.mu.RUnlock()
	}

	ids := make([]string, 0, len(m.Nodes))
	for id := range m.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var parts []string
	columns := 0
	for _, id := range ids {
		node := m.Nodes[id]
		if node.ResourceType != "model" {
			continue
		}
		parts = append(parts, formatModel(node))
		columns += len(node.Columns)
	}

	text := "No models found"
	if len(parts) > 0 {
		text = strings.Join(parts, "\n\n")
	}

	var version any
	if m.Metadata.DBTVersion != "" {
		version = m.Metadata.DBTVersion
	}

	return text, Metadata{
		"source":           "dbt",
		"project_path":     d.projectPath,
		"model_count":      len(parts),
		"column_count":     columns,
		"manifest_version": version,
		"size":             utf8.RuneCountInString(text),
	}, nil
}

func formatModel(n dbtNode) string {
	name := n.Name
	if name == "" {
		name = "unknown"
	}
	lines := []string{"Model: " + name}

	if n.Description != "" {
		lines = append(lines, "Description: "+n.Description)
	}

	mat := n.Config.Materialized
	if mat == "" {
		mat = "view"
	}
	lines = append(lines, "Materialization: "+mat)

	if len(n.Columns) > 0 {
		lines = append(lines, "Columns:")
		names := make([]string, 0, len(n.Columns))
		for c := range n.Columns {
			names = append(names, c)
		}
		sort.Strings(names)
		for _, c := range names {
			desc := n.Columns[c].Description
			if desc == "" {
				desc = "No description"
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s", c, desc))
		}
	}

	if len(n.Tags) > 0 {
		lines = append(lines, "Tags: "+strings.Join(n.Tags, ", "))
	}
	return strings.Join(lines, "\n")
}

// Watch reloads the manifest whenever dbt rewrites it.
//
// Description:
//
//	Watches the project's target directory, since dbt replaces
//	manifest.json rather than editing it in place. Reload failures are
//	logged and the previous manifest stays cached. onReload, if non-nil,
//	is called after each reload attempt with its error. Blocks until ctx is
//	cancelled; run it in a goroutine.
//
// Outputs:
//   - error: Non-nil only if the watcher cannot be started.
func (d *DBT) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(d.ManifestPath())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Debug("Watching dbt manifest", "dir", dir)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != manifestFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			err := d.Load()
			if err != nil {
				slog.Warn("dbt manifest reload failed", "path", event.Name, "error", err)
			} else {
				slog.Info("dbt manifest reloaded", "path", event.Name)
			}
			if onReload != nil {
				onReload(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("dbt manifest watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
