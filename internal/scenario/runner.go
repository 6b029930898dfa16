// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package scenario

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/invigilo/invigilo/internal/proctor"
)

// replayEpoch anchors every replay at a fixed instant so results do not
// depend on wall-clock time.
var replayEpoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Load parses one scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	for i, step := range s.Steps {
		if !proctor.Category(step.Category).Valid() {
			return nil, fmt.Errorf("scenario %s step %d: unknown category %q", path, i+1, step.Category)
		}
		if i > 0 && step.At < s.Steps[i-1].At {
			return nil, fmt.Errorf("scenario %s step %d: timeline goes backwards", path, i+1)
		}
	}
	return &s, nil
}

// Run replays a scenario against a fresh session and checks the end state.
// The engine config is the production tuning; the scenario may flip the
// zero-tolerance policy on top of it.
func Run(s *Scenario, cfg proctor.Config) *RunResult {
	if s.ZeroTolerance {
		cfg.ZeroTolerance = true
	}

	now := replayEpoch
	sess := proctor.NewSession(proctor.SessionConfig{
		SessionID: "replay",
		UserID:    "replay",
		Engine:    cfg,
		Clock:     func() time.Time { return now },
	})
	if err := sess.Initialize(context.Background()); err != nil {
		return &RunResult{Name: s.Name, Mismatches: []string{err.Error()}}
	}

	for _, step := range s.Steps {
		now = replayEpoch.Add(time.Duration(step.At))
		confidence := step.Confidence
		if confidence == 0 {
			confidence = 1
		}
		sess.Observe(proctor.Observation{
			Category:   proctor.Category(step.Category),
			Magnitude:  step.Magnitude,
			Confidence: confidence,
			Timestamp:  now,
			Metadata:   step.Metadata,
		})
	}

	snap := sess.Status()
	result := &RunResult{
		Name:       s.Name,
		State:      string(snap.State),
		Risk:       string(snap.RiskLevel),
		Reason:     snap.Reason,
		Violations: len(snap.Violations),
	}

	check := func(label, want, got string) {
		if want != "" && want != got {
			result.Mismatches = append(result.Mismatches,
				fmt.Sprintf("%s: expected %q, got %q", label, want, got))
		}
	}
	check("state", s.Expect.State, result.State)
	check("risk", s.Expect.Risk, result.Risk)
	check("reason", s.Expect.Reason, result.Reason)
	if s.Expect.Violations != nil && *s.Expect.Violations != result.Violations {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("violations: expected %d, got %d", *s.Expect.Violations, result.Violations))
	}

	result.Passed = len(result.Mismatches) == 0
	return result
}

// LoadAndRun loads one scenario file and replays it.
func LoadAndRun(path string, cfg proctor.Config) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result := Run(s, cfg)
	result.File = path
	return result, nil
}

// RunAll replays a list of scenario files and stops on load errors only;
// expectation failures are carried in the results.
func RunAll(paths []string, cfg proctor.Config) ([]*RunResult, error) {
	results := make([]*RunResult, 0, len(paths))
	for _, path := range paths {
		r, err := LoadAndRun(path, cfg)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
