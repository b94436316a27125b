// Copyright (C) 2026 Evalforge (dev@evalforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package suite loads the benchmark suite: the YAML suite spec (fixed
// sampling params, run policy, scoring flags) and the JSONL case list.
// Both are read once at startup and treated as immutable afterwards.
package suite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/evalforge/evalforge/services/harness/adapter"
)

// Case is one prompt + check-set unit in the suite.
type Case struct {
	CaseID string   `json:"case_id"`
	Prompt string   `json:"prompt"`
	Checks []string `json:"checks"`
}

// RunPolicy controls repetition count and case ordering.
type RunPolicy struct {
	NRunsPerCase    int  `yaml:"n_runs_per_case" validate:"gte=1"`
	RandomizedOrder bool `yaml:"randomized_order"`
}

// Scoring holds suite-wide scoring switches.
type Scoring struct {
	// NoExtraTextStrict enforces the code-fence rule on every case
	// regardless of declared checks.
	NoExtraTextStrict bool `yaml:"no_extra_text_strict"`
}

// Spec is the parsed suite specification.
type Spec struct {
	FixedParams adapter.FixedParams `yaml:"fixed_params"`
	RunPolicy   RunPolicy           `yaml:"run_policy"`
	Scoring     Scoring             `yaml:"scoring"`
}

// DefaultSpec returns the spec used when fields are absent from the
// YAML file.
func DefaultSpec() Spec {
	return Spec{
		FixedParams: adapter.FixedParams{
			Temperature:     0.2,
			TopP:            1.0,
			MaxOutputTokens: 1200,
		},
		RunPolicy: RunPolicy{
			NRunsPerCase:    3,
			RandomizedOrder: true,
		},
		Scoring: Scoring{
			NoExtraTextStrict: true,
		},
	}
}

// LoadSpec reads and validates the suite spec YAML at path. Missing
// fields fall back to defaults.
func LoadSpec(path string) (Spec, error) {
	spec := DefaultSpec()

	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("reading suite spec %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parsing suite spec %s: %w", path, err)
	}

	if err := validator.New().Struct(spec); err != nil {
		return Spec{}, fmt.Errorf("invalid suite spec %s: %w", path, err)
	}
	if spec.FixedParams.MaxOutputTokens <= 0 {
		return Spec{}, fmt.Errorf("invalid suite spec %s: max_output_tokens must be positive", path)
	}
	return spec, nil
}

// LoadCases reads the JSONL case list at path. Blank lines are skipped;
// duplicate case ids are a load error because case_id is the unique key
// for every artifact and table downstream.
func LoadCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening case list %s: %w", path, err)
	}
	defer f.Close()

	var cases []Case
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var c Case
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("parsing case at %s:%d: %w", path, lineNo, err)
		}
		if c.CaseID == "" {
			return nil, fmt.Errorf("case at %s:%d has no case_id", path, lineNo)
		}
		if seen[c.CaseID] {
			return nil, fmt.Errorf("duplicate case_id %q at %s:%d", c.CaseID, path, lineNo)
		}
		seen[c.CaseID] = true
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading case list %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("case list %s contains no cases", path)
	}
	return cases, nil
}
