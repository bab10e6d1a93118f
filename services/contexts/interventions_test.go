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
	"errors"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticProvider(text string) Provider {
	return ProviderFunc(func(context.Context, string) (string, Metadata, error) {
		return text, Metadata{"source": "static"}, nil
	})
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func lines(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = "line-" + string(rune('a'+i))
	}
	return strings.Join(out, "\n")
}

func TestIntervene_RecordsAndPreservesInput(t *testing.T) {
	base := Metadata{"source": "static"}
	inner := ProviderFunc(func(context.Context, string) (string, Metadata, error) {
		return "text", base, nil
	})

	p := Intervene(inner, "upper", 0.5, func(text string, meta Metadata) (string, Metadata) {
		meta["touched"] = true
		return strings.ToUpper(text), meta
	})

	text, meta, err := p.GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "TEXT", text)
	assert.Equal(t, true, meta["touched"])
	assert.Equal(t, []Intervention{{Name: "upper", NoiseLevel: 0.5}}, Interventions(meta))

	_, seen := base["touched"]
	assert.False(t, seen, "inner metadata must not be mutated")
}

func TestIntervene_PassesErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := ProviderFunc(func(context.Context, string) (string, Metadata, error) {
		return "", nil, boom
	})
	called := false
	p := Intervene(inner, "x", 0, func(text string, meta Metadata) (string, Metadata) {
		called = true
		return text, meta
	})

	_, _, err := p.GetContext(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestRemovePercentage(t *testing.T) {
	original := strings.Split(lines(10), "\n")
	p := RemovePercentage(staticProvider(lines(10)), 0.3, seeded())

	text, meta, err := p.GetContext(context.Background(), "q")
	require.NoError(t, err)

	kept := strings.Split(text, "\n")
	assert.Len(t, kept, 7)
	assert.Equal(t, 10, meta["original_lines"])
	assert.Equal(t, 7, meta["kept_lines"])

	// Survivors keep their relative order.
	idx := make([]int, len(kept))
	for i, l := range kept {
		idx[i] = slices.Index(original, l)
		require.GreaterOrEqual(t, idx[i], 0)
	}
	assert.True(t, sort.IntsAreSorted(idx))

	list := Interventions(meta)
	require.Len(t, list, 1)
	assert.Equal(t, "remove_30%", list[0].Name)
	assert.InDelta(t, 0.3, list[0].NoiseLevel, 1e-12)
}

func TestRemovePercentage_All(t *testing.T) {
	text, meta, err := RemovePercentage(staticProvider(lines(4)), 1.0, seeded()).GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "", text)
	assert.Equal(t, 0, meta["kept_lines"])
}

func TestShuffleContent(t *testing.T) {
	in := lines(8)
	text, meta, err := ShuffleContent(staticProvider(in), seeded()).GetContext(context.Background(), "q")
	require.NoError(t, err)

	got := strings.Split(text, "\n")
	want := strings.Split(in, "\n")
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, true, meta["shuffled"])
	assert.Equal(t, []Intervention{{Name: "shuffle_content", NoiseLevel: 0.3}}, Interventions(meta))
}

func TestTruncateContext(t *testing.T) {
	text, meta, err := TruncateContext(staticProvider("héllo world"), 5).GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "héllo", text)
	assert.Equal(t, 11, meta["original_chars"])
	assert.Equal(t, 5, meta["truncated_chars"])

	list := Interventions(meta)
	require.Len(t, list, 1)
	assert.Equal(t, "truncate_5", list[0].Name)
	assert.InDelta(t, 0.9995, list[0].NoiseLevel, 1e-12)

	_, meta, err = TruncateContext(staticProvider("x"), 20000).GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 0.0, Interventions(meta)[0].NoiseLevel)
}

func TestDropChunks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The orders model has one row per order and is refreshed daily.\n")
	}

	_, meta, err := DropChunks(staticProvider(b.String()), 0, seeded()).GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Greater(t, meta["original_chunks"], 1)
	assert.Equal(t, meta["original_chunks"], meta["kept_chunks"])

	text, meta, err := DropChunks(staticProvider(b.String()), 1, seeded()).GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "", text)
	assert.Equal(t, 0, meta["kept_chunks"])
	assert.Equal(t, "drop_chunks_100%", Interventions(meta)[0].Name)
}

func TestCompose_OrderAndAccumulation(t *testing.T) {
	d := Compose(
		func(p Provider) Provider { return TruncateContext(p, 100) },
		func(p Provider) Provider { return ShuffleContent(p, seeded()) },
	)
	_, meta, err := d(staticProvider(lines(3))).GetContext(context.Background(), "q")
	require.NoError(t, err)

	list := Interventions(meta)
	require.Len(t, list, 2)
	assert.Equal(t, "truncate_100", list[0].Name)
	assert.Equal(t, "shuffle_content", list[1].Name)
}

func TestParseIntervention(t *testing.T) {
	tests := []struct {
		in   string
		name string
	}{
		{"remove_30", "remove_30%"},
		{"remove_50%", "remove_50%"},
		{"shuffle", "shuffle_content"},
		{"truncate_2000", "truncate_2000"},
		{"drop_chunks_50", "drop_chunks_50%"},
		{" Shuffle ", "shuffle_content"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseIntervention(tt.in, seeded())
			require.NoError(t, err)
			_, meta, err := d(staticProvider(lines(4))).GetContext(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, tt.name, Interventions(meta)[0].Name)
		})
	}

	for _, bad := range []string{"remove_x", "remove_150", "truncate_-1", "blur"} {
		_, err := ParseIntervention(bad, nil)
		assert.ErrorIs(t, err, ErrUnknownIntervention, bad)
	}
}

func TestParseInterventions(t *testing.T) {
	d, err := ParseInterventions([]string{"truncate_2000", "", "remove_30"}, seeded())
	require.NoError(t, err)
	_, meta, err := d(staticProvider(lines(5))).GetContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, Interventions(meta), 2)

	_, err = ParseInterventions([]string{"nope"}, nil)
	assert.Error(t, err)
}
