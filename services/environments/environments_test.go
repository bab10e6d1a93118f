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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/semiosis/services/contexts"
)

// -----------------------------------------------------------------------------
// Factory and Mock
// -----------------------------------------------------------------------------

func TestNew(t *testing.T) {
	env, err := New("mock", Args{"similarity_threshold": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, env.(*Mock).threshold)

	env, err = New("text_to_sql", Args{"timeout": 5})
	require.NoError(t, err)
	assert.Equal(t, "text-to-sql", env.Name())

	_, err = New("chess", nil)
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestMock_Tasks(t *testing.T) {
	m := NewMock(DefaultSimilarityThreshold)
	require.NoError(t, m.Initialize(context.Background()))

	all, err := m.Tasks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "mock_001", all[0].ID)
	assert.Equal(t, "general_knowledge", all[0].Metadata["domain"])

	two, err := m.Tasks(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	more, err := m.Tasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, more, 3)
}

func TestMock_Evaluate(t *testing.T) {
	m := NewMock(0.7)
	ctx := context.Background()

	r := m.Evaluate(ctx, Task{GroundTruth: "Paris"}, "paris")
	assert.True(t, r.Success)
	assert.Equal(t, 1.0, r.Score)

	r = m.Evaluate(ctx, Task{GroundTruth: "Paris"}, "The answer is Paris")
	assert.False(t, r.Success)
	assert.InDelta(t, 0.25, r.Score, 1e-12)
	assert.Equal(t, 0.7, r.Details["threshold"])

	r = m.Evaluate(ctx, Task{}, "anything")
	assert.True(t, r.Success)
	assert.Equal(t, 1.0, r.Score)
}

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"a", "", 0},
		{"", "a", 0},
		{"a b", "a b", 1},
		{"a b", "b c", 1.0 / 3.0},
		{"a a b", "a", 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, JaccardSimilarity(tt.a, tt.b), 1e-12, "%q vs %q", tt.a, tt.b)
	}
}

// -----------------------------------------------------------------------------
// SQL Helpers
// -----------------------------------------------------------------------------

func TestValidateSQLSyntax(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  select name from t", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"DELETE FROM t", true},
		{"DROP TABLE t", false},
		{"Here is the query: SELECT 1", false},
		{"SELECT 'unterminated", false},
		{"SELECT 'it''s'", true},
		{`SELECT "a`, false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateSQLSyntax(tt.sql), tt.sql)
	}
}

func TestExtractSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1;", ExtractSQL("```sql\nSELECT 1;\n```"))
	assert.Equal(t, "SELECT 2", ExtractSQL("Sure:\n```\nSELECT 2\n```\nDone."))
	assert.Equal(t, "SELECT 3", ExtractSQL("  SELECT 3  "))
}

func TestEqualRows(t *testing.T) {
	a := []Row{{"name": "x", "n": int64(1)}}
	assert.True(t, EqualRows(a, []Row{{"name": "x", "n": int64(1)}}))
	assert.False(t, EqualRows(a, []Row{{"name": "x", "n": float64(1)}}))
	assert.False(t, EqualRows(a, []Row{{"label": "x", "n": int64(1)}}))
	assert.False(t, EqualRows(a, nil))
	assert.True(t, EqualRows([]Row{}, nil))
}

// -----------------------------------------------------------------------------
// TextToSQL
// -----------------------------------------------------------------------------

func newSample(t *testing.T) *TextToSQL {
	t.Helper()
	env := NewTextToSQL(TextToSQLConfig{})
	require.NoError(t, env.Initialize(context.Background()))
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestTextToSQL_NotInitialized(t *testing.T) {
	env := NewTextToSQL(TextToSQLConfig{})
	_, err := env.Tasks(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotInitialized)

	r := env.Evaluate(context.Background(), Task{GroundTruth: "SELECT 1"}, "SELECT 1")
	assert.False(t, r.Success)
	assert.NotEmpty(t, r.Error)
}

func TestTextToSQL_SampleTasks(t *testing.T) {
	env := newSample(t)

	tasks, err := env.Tasks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	assert.Equal(t, "spider2_001", tasks[0].ID)
	assert.Contains(t, tasks[1].GroundTruth, "AVG(salary)")

	// Every ground truth must score itself as correct.
	for _, task := range tasks {
		r := env.Evaluate(context.Background(), task, task.GroundTruth)
		assert.True(t, r.Success, "%s: %s", task.ID, r.Error)
		assert.Equal(t, 1.0, r.Score)
	}
}

func TestTextToSQL_SubsetSize(t *testing.T) {
	env := NewTextToSQL(TextToSQLConfig{SubsetSize: 2})
	require.NoError(t, env.Initialize(context.Background()))
	defer env.Close()

	tasks, err := env.Tasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestTextToSQL_Evaluate(t *testing.T) {
	env := newSample(t)
	ctx := context.Background()
	task := Task{
		ID:          "t",
		GroundTruth: "SELECT name FROM students WHERE department = 'Computer Science';",
	}

	r := env.Evaluate(ctx, task, "```sql\nSELECT name FROM students WHERE department = 'Computer Science'\n```")
	assert.True(t, r.Success)
	assert.Equal(t, "exact_match", r.Details["comparison_method"])
	assert.Equal(t, []Row{{"name": "John Doe"}, {"name": "Jane Smith"}}, r.Details["agent_result"])

	r = env.Evaluate(ctx, task, "SELECT name FROM students WHERE department = 'Physics'")
	assert.False(t, r.Success)
	assert.Equal(t, 0.0, r.Score)
	assert.Empty(t, r.Error)

	r = env.Evaluate(ctx, task, "I don't know")
	assert.False(t, r.Success)
	assert.Equal(t, ErrInvalidSQL.Error(), r.Error)

	r = env.Evaluate(ctx, task, "SELECT nope FROM missing_table")
	assert.False(t, r.Success)
	assert.Equal(t, "execution", r.Details["error_type"])
	assert.NotEmpty(t, r.Error)
}

func TestTextToSQL_NoGroundTruth(t *testing.T) {
	env := newSample(t)
	r := env.Evaluate(context.Background(), Task{ID: "open"}, "SELECT COUNT(*) AS n FROM employees")
	assert.True(t, r.Success)
	assert.Equal(t, []Row{{"n": int64(5)}}, r.Details["agent_result"])
}

func TestTextToSQL_WritesAreRolledBack(t *testing.T) {
	env := newSample(t)
	ctx := context.Background()
	count := Task{GroundTruth: "SELECT COUNT(*) FROM employees"}

	r := env.Evaluate(ctx, Task{}, "DELETE FROM employees")
	require.True(t, r.Success, r.Error)

	r = env.Evaluate(ctx, count, "SELECT COUNT(*) FROM employees")
	require.True(t, r.Success)
	assert.Equal(t, []Row{{"COUNT(*)": int64(5)}}, r.Details["ground_truth_result"])
}

func TestTextToSQL_DatasetFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ds.yaml")
	body := `name: tiny
schema: |
  CREATE TABLE t (x INTEGER);
  INSERT INTO t VALUES (1), (2);
tasks:
  - question: Sum x.
    sql: SELECT SUM(x) FROM t
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	env := NewTextToSQL(TextToSQLConfig{DatasetPath: path})
	require.NoError(t, env.Initialize(context.Background()))
	defer env.Close()

	tasks, err := env.Tasks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "tiny_001", tasks[0].ID)

	r := env.Evaluate(context.Background(), tasks[0], "SELECT SUM(x) FROM t")
	assert.True(t, r.Success, r.Error)
}

func TestLoadDataset_Invalid(t *testing.T) {
	dir := t.TempDir()

	noTasks := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(noTasks, []byte("name: x\nschema: SELECT 1\n"), 0o644))
	_, err := LoadDataset(noTasks)
	assert.ErrorIs(t, err, ErrInvalidDataset)

	noDB := filepath.Join(dir, "nodb.yaml")
	require.NoError(t, os.WriteFile(noDB, []byte("tasks:\n  - question: q\n"), 0o644))
	_, err = LoadDataset(noDB)
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = LoadDataset(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestTextToSQL_SchemaContext(t *testing.T) {
	env := newSample(t)

	var p contexts.Provider = env
	text, meta, err := p.GetContext(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Contains(t, text, "CREATE TABLE employees")
	assert.Contains(t, text, "CREATE TABLE students")
	assert.Equal(t, 2, meta["table_count"])
	assert.Equal(t, "sqlite_schema", meta["source"])
}
