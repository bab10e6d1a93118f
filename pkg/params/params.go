// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params holds the loosely typed settings maps passed to agents,
// context providers and environments, and parses them from CLI flags.
package params

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Args is a loosely typed settings map, as decoded from YAML or parsed from
// "key=value" CLI pairs. Accessors convert between numeric kinds and parse
// strings, returning the fallback when a key is absent or unusable.
type Args map[string]any

// String returns args[key] formatted as a string.
func (a Args) String(key, fallback string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns args[key] as a float64.
func (a Args) Float(key string, fallback float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// Int returns args[key] as an int. Floats are truncated.
func (a Args) Int(key string, fallback int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

// Bool returns args[key] as a bool.
func (a Args) Bool(key string, fallback bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// Seconds returns args[key], in seconds, as a time.Duration.
func (a Args) Seconds(key string, fallback time.Duration) time.Duration {
	f := a.Float(key, -1)
	if f < 0 {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}

// Redacted returns a copy of args with credential keys removed.
func (a Args) Redacted() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		if isSecretKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretKey(k string) bool {
	switch k = strings.ToLower(k); k {
	case "api_key", "auth_token", "secret", "password":
		return true
	}
	return strings.HasSuffix(k, "_api_key")
}

// ParsePairs parses "k1=v1,k2=v2" into Args.
//
// Description:
//
//	Each value is tried as an int, then a float, then a bool
//	("true"/"false"), and is otherwise kept as a string. A bare key with no
//	"=" is true. Empty segments are skipped. Keys are trimmed of spaces.
//
// Inputs:
//   - s: The flag value. Empty yields an empty map.
//
// Outputs:
//   - Args: Never nil.
//   - error: Non-nil for an empty key such as "=v".
func ParsePairs(s string) (Args, error) {
	out := Args{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in %q", part)
		}
		if !hasValue {
			out[key] = true
			continue
		}
		out[key] = parseValue(strings.TrimSpace(value))
	}
	return out, nil
}

// Merge returns a copy of base with every key of override applied on top.
func Merge(base, override Args) Args {
	out := make(Args, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func parseValue(v string) any {
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
