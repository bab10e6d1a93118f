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
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// fullContextChars is the context size treated as complete when deriving
// the noise level of a truncation.
const fullContextChars = 10000

const (
	dropChunkSize    = 200
	dropChunkOverlap = 0
)

// -----------------------------------------------------------------------------
// Intervention Plumbing
// -----------------------------------------------------------------------------

// Intervention identifies one degradation applied to a context.
type Intervention struct {
	Name       string  `json:"name"`
	NoiseLevel float64 `json:"noise_level"`
}

// InterventionFunc rewrites a context and its metadata. The metadata passed
// in is already a copy and may be modified.
type InterventionFunc func(text string, meta Metadata) (string, Metadata)

// Decorator wraps a provider.
type Decorator func(Provider) Provider

// Intervene returns a provider that applies fn to everything p returns and
// appends {name, noise} to the "interventions" metadata list.
//
// Inputs:
//   - p: The provider to degrade.
//   - name: Recorded intervention name.
//   - noise: Recorded noise level in [0, 1].
//   - fn: The rewrite.
//
// Outputs:
//   - Provider: The wrapped provider. Errors from p pass through untouched.
func Intervene(p Provider, name string, noise float64, fn InterventionFunc) Provider {
	return ProviderFunc(func(ctx context.Context, query string) (string, Metadata, error) {
		text, meta, err := p.GetContext(ctx, query)
		if err != nil {
			return "", nil, err
		}
		text, meta = fn(text, meta.Clone())
		if meta == nil {
			meta = Metadata{}
		}

		prior, _ := meta["interventions"].([]Intervention)
		applied := make([]Intervention, len(prior), len(prior)+1)
		copy(applied, prior)
		meta["interventions"] = append(applied, Intervention{Name: name, NoiseLevel: noise})
		return text, meta, nil
	})
}

// Compose applies decorators in order: the first wraps the provider
// innermost.
func Compose(decorators ...Decorator) Decorator {
	return func(p Provider) Provider {
		for _, d := range decorators {
			p = d(p)
		}
		return p
	}
}

// Interventions returns the interventions recorded in meta, oldest first.
func Interventions(meta Metadata) []Intervention {
	list, _ := meta["interventions"].([]Intervention)
	return list
}

// lockedRand serialises access to a *rand.Rand. A single decorated provider
// may be called from several runners at once.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(r *rand.Rand) *lockedRand {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &lockedRand{r: r}
}

func (l *lockedRand) perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}

// sample returns k distinct indices from [0, n) in ascending order.
func (l *lockedRand) sample(n, k int) []int {
	idx := l.perm(n)[:k]
	sort.Ints(idx)
	return idx
}

// -----------------------------------------------------------------------------
// Interventions
// -----------------------------------------------------------------------------

// RemovePercentage drops a random pct of the context's lines.
//
// Description:
//
//	int(lines·(1−pct)) lines are kept, chosen uniformly at random and
//	emitted in their original order. The intervention is named
//	"remove_<int(pct·100)>%" with noise level pct.
//
// Inputs:
//   - p: The provider to degrade.
//   - pct: Fraction of lines to remove, in [0, 1].
//   - r: Source of randomness. Nil seeds a new generator.
//
// Outputs:
//   - Provider: Records original_lines and kept_lines in metadata.
func RemovePercentage(p Provider, pct float64, r *rand.Rand) Provider {
	rng := newLockedRand(r)
	name := fmt.Sprintf("remove_%d%%", int(pct*100))
	return Intervene(p, name, pct, func(text string, meta Metadata) (string, Metadata) {
		lines := strings.Split(text, "\n")
		keep := max(int(float64(len(lines))*(1-pct)), 0)
		keep = min(keep, len(lines))

		kept := make([]string, 0, keep)
		for _, i := range rng.sample(len(lines), keep) {
			kept = append(kept, lines[i])
		}
		meta["original_lines"] = len(lines)
		meta["kept_lines"] = len(kept)
		return strings.Join(kept, "\n"), meta
	})
}

// ShuffleContent permutes the context's lines. Content is intact but order
// is lost, recorded as noise 0.3.
func ShuffleContent(p Provider, r *rand.Rand) Provider {
	rng := newLockedRand(r)
	return Intervene(p, "shuffle_content", 0.3, func(text string, meta Metadata) (string, Metadata) {
		lines := strings.Split(text, "\n")
		shuffled := make([]string, len(lines))
		for i, j := range rng.perm(len(lines)) {
			shuffled[i] = lines[j]
		}
		meta["shuffled"] = true
		return strings.Join(shuffled, "\n"), meta
	})
}

// TruncateContext keeps the first maxChars characters.
//
// The noise level is 1 − maxChars/10000 clamped to [0, 1]. Lengths are
// counted in runes.
func TruncateContext(p Provider, maxChars int) Provider {
	noise := max(0, min(1, 1-float64(maxChars)/fullContextChars))
	return Intervene(p, fmt.Sprintf("truncate_%d", maxChars), noise, func(text string, meta Metadata) (string, Metadata) {
		truncated := runePrefix(text, max(maxChars, 0))
		meta["original_chars"] = utf8.RuneCountInString(text)
		meta["truncated_chars"] = utf8.RuneCountInString(truncated)
		return truncated, meta
	})
}

// DropChunks splits the context into overlapping-free chunks with a
// recursive character splitter and drops a random pct of them.
//
// Unlike RemovePercentage this cuts across line boundaries, so a single
// long model description can lose its middle. Surviving chunks keep their
// order and are joined by newlines. If the splitter fails the context is
// passed through and split_error is recorded.
func DropChunks(p Provider, pct float64, r *rand.Rand) Provider {
	rng := newLockedRand(r)
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(dropChunkSize),
		textsplitter.WithChunkOverlap(dropChunkOverlap),
	)
	name := fmt.Sprintf("drop_chunks_%d%%", int(pct*100))
	return Intervene(p, name, pct, func(text string, meta Metadata) (string, Metadata) {
		chunks, err := splitter.SplitText(text)
		if err != nil {
			meta["split_error"] = err.Error()
			return text, meta
		}
		keep := min(max(int(float64(len(chunks))*(1-pct)), 0), len(chunks))

		kept := make([]string, 0, keep)
		for _, i := range rng.sample(len(chunks), keep) {
			kept = append(kept, chunks[i])
		}
		meta["original_chunks"] = len(chunks)
		meta["kept_chunks"] = len(kept)
		return strings.Join(kept, "\n"), meta
	})
}

// -----------------------------------------------------------------------------
// Parsing
// -----------------------------------------------------------------------------

// ParseIntervention maps a command-line name to a decorator.
//
// Accepted forms are "remove_<pct>", "shuffle", "truncate_<chars>" and
// "drop_chunks_<pct>", where pct is an integer percentage in [0, 100].
//
// When r is non-nil each decorator gets its own generator seeded from r, so
// a fixed seed reproduces the whole chain.
func ParseIntervention(name string, r *rand.Rand) (Decorator, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if r != nil {
		r = rand.New(rand.NewPCG(r.Uint64(), r.Uint64()))
	}

	if name == "shuffle" || name == "shuffle_content" {
		return func(p Provider) Provider { return ShuffleContent(p, r) }, nil
	}
	if rest, ok := strings.CutPrefix(name, "drop_chunks_"); ok {
		pct, err := parsePercent(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrUnknownIntervention, name, err)
		}
		return func(p Provider) Provider { return DropChunks(p, pct, r) }, nil
	}
	if rest, ok := strings.CutPrefix(name, "remove_"); ok {
		pct, err := parsePercent(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrUnknownIntervention, name, err)
		}
		return func(p Provider) Provider { return RemovePercentage(p, pct, r) }, nil
	}
	if rest, ok := strings.CutPrefix(name, "truncate_"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q: bad character count", ErrUnknownIntervention, name)
		}
		return func(p Provider) Provider { return TruncateContext(p, n) }, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownIntervention, name)
}

// ParseInterventions parses each name and composes the results in order.
func ParseInterventions(names []string, r *rand.Rand) (Decorator, error) {
	decorators := make([]Decorator, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		d, err := ParseIntervention(n, r)
		if err != nil {
			return nil, err
		}
		decorators = append(decorators, d)
	}
	return Compose(decorators...), nil
}

func parsePercent(s string) (float64, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
	if err != nil {
		return 0, fmt.Errorf("bad percentage")
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("percentage out of range")
	}
	return float64(n) / 100, nil
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
