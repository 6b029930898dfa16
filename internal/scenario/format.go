// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package scenario

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// FormatText renders replay results as human-readable text.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
			fmt.Fprintf(&b, "  PASS  %s\n", r.Name)
			continue
		}
		fmt.Fprintf(&b, "  FAIL  %s\n", r.Name)
		for _, m := range r.Mismatches {
			fmt.Fprintf(&b, "        %s\n", m)
		}
	}

	fmt.Fprintf(&b, "\n%d of %d scenarios passed.\n", passed, len(results))
	return b.String()
}

// FormatJSON renders replay results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
