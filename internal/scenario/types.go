// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// Package scenario replays recorded observation sequences against the engine
// with a deterministic clock. Scenario files are YAML; each file describes
// the observation timeline and the expected end state, so proctoring policy
// changes can be validated offline before a rollout.
package scenario

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes "30s"-style YAML strings into a time.Duration. Bare
// integers are rejected; scenario timelines always carry units.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Scenario is one replay file.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// ZeroTolerance runs the replay under the zero-tolerance policy.
	ZeroTolerance bool `yaml:"zero_tolerance,omitempty"`

	Steps  []Step `yaml:"steps"`
	Expect Expect `yaml:"expect"`
}

// Step is one observation on the timeline. At is the offset from session
// start; steps must be listed in non-decreasing order.
type Step struct {
	At         Duration          `yaml:"at"`
	Category   string            `yaml:"category"`
	Magnitude  float64           `yaml:"magnitude"`
	Confidence float64           `yaml:"confidence,omitempty"`
	Metadata   map[string]string `yaml:"metadata,omitempty"`
}

// Expect is the asserted end state after all steps are replayed.
type Expect struct {
	State      string `yaml:"state"`
	Risk       string `yaml:"risk,omitempty"`
	Reason     string `yaml:"reason,omitempty"`
	Violations *int   `yaml:"violations,omitempty"`
}

// RunResult is the outcome of replaying one scenario file.
type RunResult struct {
	Name   string `json:"name"`
	File   string `json:"file,omitempty"`
	Passed bool   `json:"passed"`

	// Mismatches lists every expectation that did not hold.
	Mismatches []string `json:"mismatches,omitempty"`

	// Observed end state, reported regardless of outcome.
	State      string `json:"state"`
	Risk       string `json:"risk"`
	Reason     string `json:"reason,omitempty"`
	Violations int    `json:"violations"`
}
