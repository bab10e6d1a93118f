// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluation

import (
	"fmt"
	"math"
	"strings"
)

// ProgressBar renders "[===---] current/total (p%)" with width cells.
// A non-positive total renders as 0%.
func ProgressBar(current, total, width int) string {
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total)
	}
	width = max(width, 0)
	filled := min(max(int(math.Round(float64(width)*pct)), 0), width)
	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)
	return fmt.Sprintf("[%s] %d/%d (%.1f%%)", bar, current, total, pct*100)
}
