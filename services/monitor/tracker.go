// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor exposes the progress of running evaluations over HTTP.
//
// A Tracker collects per-run progress from evaluation.Runner callbacks. A
// Server publishes it as JSON, as a websocket stream, and alongside the
// Prometheus metrics endpoint.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/semiosis/services/evaluation"
)

// Progress is the state of one run.
type Progress struct {
	Label       string    `json:"label"`
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	Percent     float64   `json:"percent"`
	Done        bool      `json:"done"`
	SuccessRate float64   `json:"success_rate,omitempty"`
	FinalTrust  float64   `json:"final_trust,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracker records progress for any number of labelled runs.
//
// Thread Safety: Safe for concurrent use. Subscribers receive the latest
// snapshot; intermediate snapshots are dropped for slow subscribers.
type Tracker struct {
	mu     sync.Mutex
	runs   map[string]*Progress
	subs   map[int]chan []Progress
	nextID int
	now    func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]*Progress),
		subs: make(map[int]chan []Progress),
		now:  time.Now,
	}
}

// ProgressFunc returns a callback suitable for evaluation.WithProgress.
func (t *Tracker) ProgressFunc(label string) evaluation.ProgressFunc {
	return func(current, total int) {
		t.Update(label, current, total)
	}
}

// Update sets the progress of label.
func (t *Tracker) Update(label string, current, total int) {
	t.mu.Lock()
	p := t.entryLocked(label)
	p.Current, p.Total = current, total
	p.Percent = 0
	if total > 0 {
		p.Percent = float64(current) / float64(total) * 100
	}
	p.UpdatedAt = t.now()
	t.publishLocked()
	t.mu.Unlock()
}

// Finish marks label done and records its headline numbers.
func (t *Tracker) Finish(label string, res *evaluation.Results) {
	t.mu.Lock()
	p := t.entryLocked(label)
	p.Done = true
	if res != nil {
		p.SuccessRate = res.Summary.SuccessRate
		p.FinalTrust = res.Summary.FinalTrust
		p.Current, p.Total = res.Summary.TotalTasks, max(p.Total, res.Summary.TotalTasks)
		if p.Total > 0 {
			p.Percent = float64(p.Current) / float64(p.Total) * 100
		}
	}
	p.UpdatedAt = t.now()
	t.publishLocked()
	t.mu.Unlock()
}

// Snapshot returns every run ordered by label.
func (t *Tracker) Snapshot() []Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. The channel is closed by cancel.
func (t *Tracker) Subscribe() (<-chan []Progress, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan []Progress, 1)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (t *Tracker) entryLocked(label string) *Progress {
	p, ok := t.runs[label]
	if !ok {
		p = &Progress{Label: label}
		t.runs[label] = p
	}
	return p
}

func (t *Tracker) snapshotLocked() []Progress {
	out := make([]Progress, 0, len(t.runs))
	for _, p := range t.runs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (t *Tracker) publishLocked() {
	if len(t.subs) == 0 {
		return
	}
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		// Replace a pending snapshot rather than block.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
