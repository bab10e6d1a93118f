// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package environments

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/semiosis/services/contexts"
	"github.com/AleutianAI/semiosis/services/sit"
)

// DefaultQueryTimeout bounds each SQL execution during scoring.
const DefaultQueryTimeout = 30 * time.Second

//go:embed datasets/sample.yaml
var sampleDataset []byte

// Dataset is the on-disk form of a text-to-SQL benchmark.
//
// Schema, if set, is executed against a fresh in-memory database. Otherwise
// DatabasePath names an existing SQLite file, resolved relative to the
// dataset file. A task may override the database with
// metadata.database_path.
type Dataset struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Schema       string `yaml:"schema"`
	DatabasePath string `yaml:"database_path"`
	Tasks        []Task `yaml:"tasks"`
}

// LoadDataset reads a YAML dataset. A blank path yields the built-in
// sample.
func LoadDataset(path string) (*Dataset, error) {
	data := sampleDataset
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
	}

	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	if len(ds.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidDataset)
	}
	if ds.Schema == "" && ds.DatabasePath == "" {
		return nil, fmt.Errorf("%w: one of schema or database_path is required", ErrInvalidDataset)
	}

	if path != "" && ds.DatabasePath != "" && !filepath.IsAbs(ds.DatabasePath) {
		ds.DatabasePath = filepath.Join(filepath.Dir(path), ds.DatabasePath)
	}
	for i := range ds.Tasks {
		if ds.Tasks[i].ID == "" {
			ds.Tasks[i].ID = fmt.Sprintf("%s_%03d", ds.Name, i+1)
		}
	}
	return &ds, nil
}

// TextToSQLConfig configures a TextToSQL environment.
type TextToSQLConfig struct {
	// DatasetPath is a YAML dataset. Empty means the built-in sample.
	DatasetPath string

	// DatabasePath overrides the dataset's database.
	DatabasePath string

	// Timeout bounds each query. Zero means DefaultQueryTimeout.
	Timeout time.Duration

	// SubsetSize caps the tasks loaded. Zero means all.
	SubsetSize int
}

// Row is one result row keyed by column name.
type Row map[string]any

// TextToSQL scores SQL answers by executing them.
//
// Description:
//
//	The agent's SQL and the ground-truth SQL run against the same database
//	inside a transaction that is always rolled back, so a destructive
//	answer cannot affect later tasks. The task succeeds when both return
//	identical row lists (same order, same column names, same values).
//	A task without ground truth succeeds if the agent's SQL executes.
//
// Thread Safety: Safe for concurrent use after Initialize.
type TextToSQL struct {
	cfg TextToSQLConfig

	mu      sync.Mutex
	dataset *Dataset
	dbs     map[string]*sql.DB
}

// NewTextToSQL returns an uninitialized environment.
func NewTextToSQL(cfg TextToSQLConfig) *TextToSQL {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultQueryTimeout
	}
	return &TextToSQL{cfg: cfg, dbs: make(map[string]*sql.DB)}
}

// Name implements Environment.
func (e *TextToSQL) Name() string { return "text-to-sql" }

// Initialize loads the dataset and opens its default database.
func (e *TextToSQL) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset != nil {
		return nil
	}

	ds, err := LoadDataset(e.cfg.DatasetPath)
	if err != nil {
		return err
	}
	if e.cfg.DatabasePath != "" {
		ds.DatabasePath = e.cfg.DatabasePath
	}
	if e.cfg.SubsetSize > 0 && e.cfg.SubsetSize < len(ds.Tasks) {
		ds.Tasks = ds.Tasks[:e.cfg.SubsetSize]
	}

	db, err := e.openLocked(ctx, ds, "")
	if err != nil {
		return err
	}
	e.dbs[""] = db
	e.dataset = ds

	slog.Info("Text-to-SQL environment initialized",
		"dataset", ds.Name, "tasks", len(ds.Tasks), "database", ds.DatabasePath)
	return nil
}

// openLocked opens path, or the dataset's default database when path is
// empty. The in-memory database is limited to one connection since each
// connection would otherwise get its own empty copy.
func (e *TextToSQL) openLocked(ctx context.Context, ds *Dataset, path string) (*sql.DB, error) {
	if path == "" && ds.DatabasePath != "" {
		path = ds.DatabasePath
	}

	if path == "" {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("open in-memory database: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, ds.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: schema: %v", ErrInvalidDataset, err)
		}
		return db, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// database returns the handle for a task.
func (e *TextToSQL) database(ctx context.Context, task Task) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return nil, ErrNotInitialized
	}

	path, _ := task.Metadata["database_path"].(string)
	if db, ok := e.dbs[path]; ok {
		return db, nil
	}
	db, err := e.openLocked(ctx, e.dataset, path)
	if err != nil {
		return nil, err
	}
	e.dbs[path] = db
	return db, nil
}

// Tasks implements Environment.
func (e *TextToSQL) Tasks(_ context.Context, limit int) ([]Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return nil, ErrNotInitialized
	}
	return limitTasks(e.dataset.Tasks, limit), nil
}

// Close implements Environment.
func (e *TextToSQL) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for path, db := range e.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", path, err))
		}
		delete(e.dbs, path)
	}
	e.dataset = nil
	return errors.Join(errs...)
}

// Evaluate implements Environment.
func (e *TextToSQL) Evaluate(ctx context.Context, task Task, response string) sit.EvaluationResult {
	query := ExtractSQL(response)
	if !ValidateSQLSyntax(query) {
		return failed(ErrInvalidSQL, map[string]any{"reason": "Invalid SQL syntax", "sql": query})
	}

	db, err := e.database(ctx, task)
	if err != nil {
		return failed(err, map[string]any{"error_type": "database"})
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return failed(err, map[string]any{"error_type": "database"})
	}
	defer func() { _ = tx.Rollback() }()

	agentRows, err := e.execute(ctx, tx, query)
	if err != nil {
		return failed(err, map[string]any{"error_type": errorType(err), "sql": query})
	}

	if task.GroundTruth == "" {
		return sit.EvaluationResult{
			Success: true,
			Score:   1.0,
			Details: map[string]any{
				"agent_result": agentRows,
				"reason":       "Query executed successfully (no ground truth to compare)",
			},
		}
	}

	truthRows, err := e.execute(ctx, tx, task.GroundTruth)
	if err != nil {
		return failed(fmt.Errorf("ground truth: %w", err), map[string]any{"error_type": errorType(err)})
	}

	match := EqualRows(agentRows, truthRows)
	score := 0.0
	if match {
		score = 1.0
	}
	return sit.EvaluationResult{
		Success: match,
		Score:   score,
		Details: map[string]any{
			"agent_result":        agentRows,
			"ground_truth_result": truthRows,
			"comparison_method":   "exact_match",
		},
	}
}

func (e *TextToSQL) execute(ctx context.Context, tx *sql.Tx, query string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("query exceeded %s timeout: %w", e.cfg.Timeout, err)
	}
	return out, nil
}

// GetContext describes the default database's tables, so the environment
// can serve as a contexts.Provider. The query is ignored.
func (e *TextToSQL) GetContext(ctx context.Context, _ string) (string, contexts.Metadata, error) {
	db, err := e.database(ctx, Task{})
	if err != nil {
		return "", nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND sql IS NOT NULL ORDER BY name")
	if err != nil {
		return "", nil, fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var ddl []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", nil, fmt.Errorf("read schema: %w", err)
		}
		ddl = append(ddl, s+";")
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("read schema: %w", err)
	}

	text := strings.Join(ddl, "\n\n")
	return text, contexts.Metadata{
		"source":      "sqlite_schema",
		"table_count": len(ddl),
		"size":        utf8.RuneCountInString(text),
	}, nil
}

// -----------------------------------------------------------------------------
// SQL Helpers
// -----------------------------------------------------------------------------

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ExtractSQL strips markdown code fences, returning the first fenced block
// if there is one and the trimmed response otherwise.
func ExtractSQL(response string) string {
	if m := codeFence.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

var sqlPrefixes = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "WITH"}

// ValidateSQLSyntax is a cheap structural check run before execution: the
// statement must start with a DML keyword and quotes must be balanced once
// doubled-quote escapes are removed.
func ValidateSQLSyntax(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))

	ok := false
	for _, p := range sqlPrefixes {
		if strings.HasPrefix(q, p) {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}

	q = strings.ReplaceAll(q, "''", "")
	q = strings.ReplaceAll(q, `""`, "")
	return strings.Count(q, "'")%2 == 0 && strings.Count(q, `"`)%2 == 0
}

// EqualRows reports whether two result sets match row for row.
func EqualRows(a, b []Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !maps.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "execution"
	}
}
