// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

const (
	defaultBarWidth = 40
	maxBarWidth     = 60
)

// ReportFunc reports that label has finished current of total tasks.
type ReportFunc func(label string, current, total int)

// BarFunc renders a plain-text counter for non-terminal output.
type BarFunc func(current, total int) string

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

type progressMsg struct {
	label          string
	current, total int
}

type doneMsg struct{ err error }

// -----------------------------------------------------------------------------
// Model
// -----------------------------------------------------------------------------

type runState struct {
	current, total int
}

// progressModel draws one bar per label, in the order labels first report.
type progressModel struct {
	title string
	order []string
	runs  map[string]runState
	bar   progress.Model
	done  bool
	err   error
}

func newProgressModel(title string) progressModel {
	return progressModel{
		title: title,
		runs:  make(map[string]runState),
		bar: progress.New(
			progress.WithGradient(string(ColorTealDeep), string(ColorTealBright)),
			progress.WithWidth(defaultBarWidth),
			progress.WithoutPercentage(),
		),
	}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		if _, ok := m.runs[msg.label]; !ok {
			m.order = append(m.order, msg.label)
		}
		m.runs[msg.label] = runState{current: msg.current, total: msg.total}
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-40, 10), maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(Styles.Title.Render(m.title))
	b.WriteString("\n")

	width := 0
	for _, label := range m.order {
		width = max(width, len(label))
	}
	for _, label := range m.order {
		r := m.runs[label]
		pct := 0.0
		if r.total > 0 {
			pct = float64(r.current) / float64(r.total)
		}
		fmt.Fprintf(&b, "%-*s %s %s\n",
			width, label,
			m.bar.ViewAs(pct),
			Styles.Muted.Render(fmt.Sprintf("%d/%d", r.current, r.total)))
	}

	if m.done {
		if m.err != nil {
			b.WriteString(IconError.Render() + " " + Styles.Error.Render(m.err.Error()) + "\n")
		} else {
			b.WriteString(IconSuccess.Render() + " done\n")
		}
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// TrackProgress runs work while drawing its progress to out.
//
// Description:
//
//	When out is a terminal, an animated bar per label is drawn with
//	bubbletea. Otherwise every report is written as one line rendered by
//	plain. work receives the ReportFunc to call; it may be called from
//	multiple goroutines.
//
// Inputs:
//   - out: Destination, typically os.Stderr.
//   - title: Heading shown above the bars.
//   - plain: Line renderer for non-terminal output.
//   - work: The long-running job.
//
// Outputs:
//   - error: work's error, or the renderer's if it failed to start.
func TrackProgress(out io.Writer, title string, plain BarFunc, work func(report ReportFunc) error) error {
	if !isTerminal(out) {
		return trackPlain(out, title, plain, work)
	}

	p := tea.NewProgram(newProgressModel(title), tea.WithOutput(out), tea.WithInput(nil))

	errCh := make(chan error, 1)
	go func() {
		err := work(func(label string, current, total int) {
			p.Send(progressMsg{label: label, current: current, total: total})
		})
		p.Send(doneMsg{err: err})
		errCh <- err
	}()

	if _, err := p.Run(); err != nil {
		workErr := <-errCh
		if workErr != nil {
			return workErr
		}
		return fmt.Errorf("progress display: %w", err)
	}
	return <-errCh
}

func trackPlain(out io.Writer, title string, plain BarFunc, work func(report ReportFunc) error) error {
	fmt.Fprintln(out, title)
	var mu sync.Mutex
	return work(func(label string, current, total int) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s %s\n", label, plain(current, total))
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
