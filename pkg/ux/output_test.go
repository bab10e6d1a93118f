// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow, IconBullet} {
		if got := icon.Render(); !strings.Contains(got, string(icon)) {
			t.Errorf("%q.Render() = %q, missing icon", icon, got)
		}
	}
}

// =============================================================================
// Section / Table Tests
// =============================================================================

func TestSection_ContainsFields(t *testing.T) {
	out := Section("Summary", F("Tasks", 3), F("Success rate", "66.7%"))

	for _, want := range []string{"Summary", "Tasks:", "3", "Success rate:", "66.7%"} {
		if !strings.Contains(out, want) {
			t.Errorf("Section() missing %q:\n%s", want, out)
		}
	}
}

func TestTable_AlignsColumns(t *testing.T) {
	out := Table([]string{"level", "rate"}, [][]string{
		{"none", "1.00"},
		{"remove_30%", "0.50"},
		{"short"},
	})

	lines := strings.Split(out, "\n")
	if len(lines) != 4 {
		t.Fatalf("Table() has %d lines, want 4:\n%s", len(lines), out)
	}
	// Second column starts after the widest first cell plus two spaces.
	col := len("remove_30%") + 2
	if got := strings.Index(lines[1], "1.00"); got != col {
		t.Errorf("row 1 rate at column %d, want %d", got, col)
	}
	if got := strings.Index(lines[2], "0.50"); got != col {
		t.Errorf("row 2 rate at column %d, want %d", got, col)
	}
	if lines[3] != "short" {
		t.Errorf("short row = %q, want trailing padding trimmed", lines[3])
	}
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer
	Success(&buf, "saved")
	Warn(&buf, "slow")
	Error(&buf, "failed")

	out := buf.String()
	for _, want := range []string{"saved", "slow", "failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 3 {
		t.Errorf("got %d lines, want 3", n)
	}
}

// =============================================================================
// Progress Tests
// =============================================================================

func TestProgressModel_TracksLabelsInOrder(t *testing.T) {
	var m tea.Model = newProgressModel("Evaluating")

	m, _ = m.Update(progressMsg{label: "b", current: 1, total: 4})
	m, _ = m.Update(progressMsg{label: "a", current: 2, total: 4})
	m, _ = m.Update(progressMsg{label: "b", current: 2, total: 4})

	pm := m.(progressModel)
	if len(pm.order) != 2 || pm.order[0] != "b" || pm.order[1] != "a" {
		t.Errorf("order = %v, want [b a]", pm.order)
	}
	if pm.runs["b"].current != 2 {
		t.Errorf("b current = %d, want 2", pm.runs["b"].current)
	}

	view := pm.View()
	for _, want := range []string{"Evaluating", "2/4"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestProgressModel_DoneQuits(t *testing.T) {
	var m tea.Model = newProgressModel("x")

	m, cmd := m.Update(doneMsg{err: errors.New("boom")})
	if cmd == nil {
		t.Fatal("doneMsg returned nil cmd, want tea.Quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("doneMsg cmd did not produce QuitMsg")
	}
	if !strings.Contains(m.View(), "boom") {
		t.Errorf("View() missing error:\n%s", m.View())
	}
}

func TestProgressModel_WindowResizeClampsWidth(t *testing.T) {
	var m tea.Model = newProgressModel("x")

	m, _ = m.Update(tea.WindowSizeMsg{Width: 500})
	if got := m.(progressModel).bar.Width; got != maxBarWidth {
		t.Errorf("wide terminal bar width = %d, want %d", got, maxBarWidth)
	}
	m, _ = m.Update(tea.WindowSizeMsg{Width: 20})
	if got := m.(progressModel).bar.Width; got != 10 {
		t.Errorf("narrow terminal bar width = %d, want 10", got)
	}
}

func TestTrackProgress_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	plain := func(c, total int) string { return fmt.Sprintf("%d of %d", c, total) }

	err := TrackProgress(&buf, "Running", plain, func(report ReportFunc) error {
		var wg sync.WaitGroup
		for _, label := range []string{"x", "y"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report(label, 1, 2)
			}()
		}
		wg.Wait()
		return nil
	})
	if err != nil {
		t.Fatalf("TrackProgress() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Running\n", "x 1 of 2\n", "y 1 of 2\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTrackProgress_ReturnsWorkError(t *testing.T) {
	want := errors.New("agent down")
	err := TrackProgress(&bytes.Buffer{}, "t", func(int, int) string { return "" }, func(ReportFunc) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("TrackProgress() error = %v, want %v", err, want)
	}
}
