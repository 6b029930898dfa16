// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

// ComputeRisk derives the risk level from a violation set. It is a pure
// function of its input, recomputed fresh on every query: no hidden state,
// O(n) in the number of violations.
//
// Rules, first match wins:
//  1. Any critical violation        -> RiskCritical
//  2. Two or more high violations   -> RiskHigh
//  3. One high or three mediums     -> RiskMedium
//  4. Otherwise                     -> RiskLow
//
// Because violations are append-only within a session, the result is
// monotonic non-decreasing until a Reset clears the set.
func ComputeRisk(violations []Violation) RiskLevel {
	var high, medium int
	for i := range violations {
		switch violations[i].Severity {
		case SeverityCritical:
			return RiskCritical
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}

	switch {
	case high >= 2:
		return RiskHigh
	case high >= 1 || medium >= 3:
		return RiskMedium
	default:
		return RiskLow
	}
}
