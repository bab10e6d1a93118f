// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/semiosis/pkg/ux"
	"github.com/AleutianAI/semiosis/services/evaluation"
)

// renderResults formats a run's summary, analysis and viability curve.
func renderResults(res *evaluation.Results) string {
	s, an, md := res.Summary, res.Analysis, res.Metadata

	run := []ux.Field{
		ux.F("Run", res.RunID),
		ux.F("Agent", md.Agent),
		ux.F("Environment", md.Environment),
	}
	if md.ContextType != "" {
		run = append(run, ux.F("Context", md.ContextType))
	}
	if len(md.Interventions) > 0 {
		run = append(run, ux.F("Interventions", strings.Join(md.Interventions, ", ")))
	}

	rate := ux.Styles.Success.Render(pct(s.SuccessRate))
	if s.SuccessRate < 0.5 {
		rate = ux.Styles.Warning.Render(pct(s.SuccessRate))
	}

	summary := append(run,
		ux.F("Tasks", fmt.Sprintf("%d (%d successful)", s.TotalTasks, s.SuccessfulTasks)),
		ux.Field{Label: "Success rate", Value: rate},
		ux.F("Average score", fmt.Sprintf("%.3f  95%% CI [%.3f, %.3f]", s.AverageScore, s.ScoreCI[0], s.ScoreCI[1])),
		ux.F("Total cost", fmt.Sprintf("$%.6f", s.TotalCost)),
		ux.F("Final trust", fmt.Sprintf("%.2f", s.FinalTrust)),
		ux.F("Final budget", fmt.Sprintf("%.2f", s.FinalBudget)),
	)

	analysis := []ux.Field{
		ux.F("Semantic threshold", fmt.Sprintf("%.4f", an.SemanticThreshold)),
		ux.F("Baseline viability", pct(an.BaselineViability)),
		ux.F("Mutual information", fmt.Sprintf("%.4f bits", an.MutualInformation)),
		ux.F("Score/trust correlation", fmt.Sprintf("%.3f", an.ScoreTrustCorrelation)),
		ux.F("Mean cross-entropy", fmt.Sprintf("%.3f", an.MeanCrossEntropy)),
		ux.F("Mean perplexity", fmt.Sprintf("%.3f", an.MeanPerplexity)),
	}
	if len(an.TrustOutliers) > 0 {
		analysis = append(analysis, ux.F("Trust outliers", fmt.Sprint(an.TrustOutliers)))
	}

	rows := make([][]string, 0, len(an.ViabilityCurve))
	for _, p := range an.ViabilityCurve {
		rows = append(rows, []string{fmt.Sprintf("%.2f", p.Threshold), pct(p.Viability)})
	}

	return strings.Join([]string{
		ux.Section("Evaluation", summary...),
		ux.Section("Analysis", analysis...),
		ux.Table([]string{"trust η", "viability"}, rows),
	}, "\n")
}

// renderSweep formats the degradation curve of a sweep.
func renderSweep(res *evaluation.SweepResults) string {
	rows := make([][]string, 0, len(res.Curve))
	for _, p := range res.Curve {
		rows = append(rows, []string{
			p.Level,
			pct(p.SuccessRate),
			fmt.Sprintf("%.3f", p.AverageScore),
			fmt.Sprintf("%.2f", p.FinalTrust),
			fmt.Sprintf("%.4f", p.SemanticThreshold),
			pct(p.BaselineViability),
		})
	}
	header := []string{"level", "success", "avg score", "final trust", "η_c", "V(0)"}
	return ux.Section("Sweep", ux.F("Sweep", res.SweepID), ux.F("Levels", len(res.Curve))) +
		"\n" + ux.Table(header, rows)
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
