// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/semiosis/pkg/params"
)

var (
	// ErrInvalidConfig is returned when the merged configuration fails
	// validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConfigExists is returned by WriteDefault when the file is present.
	ErrConfigExists = errors.New("config file already exists")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML file at path over DefaultConfig and validates it.
//
// Description:
//
//	Keys absent from the file keep their defaults. An empty path returns
//	the validated defaults, so the CLI works without any file.
//
// Inputs:
//   - path: YAML file, or "".
//
// Outputs:
//   - Config: The merged configuration.
//   - error: A read or parse error, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags of c.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// WriteDefault writes DefaultConfig as YAML to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// -----------------------------------------------------------------------------
// Flag overrides
// -----------------------------------------------------------------------------

// Overrides carries CLI flag values. Empty fields leave the file value.
type Overrides struct {
	Agent           string
	AgentArgs       string
	Environment     string
	EnvironmentArgs string
	Context         string
	ContextArgs     string
	Interventions   []string
	Output          string
	LogLevel        string
	MonitorAddr     string
	MaxTasks        int
}

// Apply layers o over c and revalidates.
//
// Description:
//
//	Arg strings use the key=value,key=value form and are merged over the
//	file's args for the same component, so a flag can change one key
//	without repeating the rest. Changing a component's type drops the
//	file's args for it, since they belong to the old backend. A context
//	type of "none" removes the context.
//
// Outputs:
//   - error: A malformed arg string, or ErrInvalidConfig.
func (c *Config) Apply(o Overrides) error {
	if err := applyComponent(&c.Agent, o.Agent, o.AgentArgs); err != nil {
		return fmt.Errorf("--agent-args: %w", err)
	}
	if err := applyComponent(&c.Environment, o.Environment, o.EnvironmentArgs); err != nil {
		return fmt.Errorf("--environment-args: %w", err)
	}

	switch {
	case strings.EqualFold(o.Context, "none"):
		c.Context = nil
	case o.Context != "" || o.ContextArgs != "":
		if c.Context == nil {
			c.Context = &Component{}
		}
		if err := applyComponent(c.Context, o.Context, o.ContextArgs); err != nil {
			return fmt.Errorf("--context-args: %w", err)
		}
	}

	if len(o.Interventions) > 0 {
		c.Interventions = o.Interventions
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.MonitorAddr != "" {
		c.Monitor.Addr = o.MonitorAddr
	}
	if o.MaxTasks > 0 {
		c.Evaluation.MaxTasks = o.MaxTasks
	}
	return c.Validate()
}

func applyComponent(comp *Component, kind, args string) error {
	if kind != "" && !strings.EqualFold(kind, comp.Type) {
		comp.Type = kind
		comp.Args = nil
	}
	if args == "" {
		return nil
	}
	parsed, err := params.ParsePairs(args)
	if err != nil {
		return err
	}
	comp.Args = params.Merge(comp.Args, parsed)
	return nil
}
