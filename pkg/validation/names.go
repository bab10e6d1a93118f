// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they reach storage.
//
// Run labels and sweep levels become InfluxDB tag values and GCS object path
// elements, so they are restricted to a small character set. Object prefixes
// must not escape the configured bucket layout.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// labelPattern matches run labels and intervention levels such as
// "evaluate", "remove_30" or "drop_chunks_50".
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._%\-]{0,63}$`)

// segmentPattern matches one segment of an object prefix.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// ValidateLabel validates a run label or sweep level.
//
// Valid labels:
//   - 1-64 characters
//   - Letters and digits
//   - Dots, underscores, hyphens and percent signs after the first character
//
// Example:
//
//	if err := validation.ValidateLabel(level); err != nil {
//	    return fmt.Errorf("invalid sweep level: %w", err)
//	}
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label format: %q (must be 1-64 letters, digits, dots, underscores, hyphens or percent signs)", label)
	}
	return nil
}

// ValidateLabels validates multiple labels.
// Returns an error listing all invalid labels if any fail validation.
func ValidateLabels(labels []string) error {
	var invalid []string
	for _, l := range labels {
		if err := ValidateLabel(l); err != nil {
			invalid = append(invalid, l)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid labels: %q", invalid)
	}
	return nil
}

// ValidateObjectPrefix validates a GCS object prefix. The empty prefix is
// valid. A trailing slash is allowed; leading slashes, empty segments and
// "." or ".." segments are not.
func ValidateObjectPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("object prefix %q must be relative", prefix)
	}
	for _, seg := range strings.Split(strings.TrimSuffix(prefix, "/"), "/") {
		switch {
		case seg == "":
			return fmt.Errorf("object prefix %q has an empty segment", prefix)
		case seg == "." || seg == "..":
			return fmt.Errorf("object prefix %q contains %q", prefix, seg)
		case !segmentPattern.MatchString(seg):
			return fmt.Errorf("object prefix %q has invalid segment %q", prefix, seg)
		}
	}
	return nil
}
