// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

// Termination reasons. These are the human-readable strings handed to
// OnTermination and stamped on the terminal SecurityEvent; they are part of
// the audit contract and must stay stable.
const (
	ReasonCritical      = "Critical security violation detected"
	ReasonMultipleHigh  = "Multiple high-severity violations detected"
	ReasonTooMany       = "Too many security violations"
	ReasonZeroTolerance = "Zero-tolerance policy violation"
)

// TerminationPolicy decides whether accumulated violations force session
// end. It is evaluated at most once per accepted violation, and once it has
// decided, the decision and reason are immutable: a session must never
// terminate twice or emit two termination reasons.
//
// The policy is not concurrency-safe on its own; the session controller's
// lock makes the check-then-act transition atomic.
type TerminationPolicy struct {
	cfg     Config
	decided bool
	reason  string
}

// NewTerminationPolicy creates a policy with the given thresholds.
func NewTerminationPolicy(cfg Config) *TerminationPolicy {
	return &TerminationPolicy{cfg: cfg.withDefaults()}
}

// Decide evaluates the termination rules against the current violation set.
// It returns the recorded reason and whether this call is the one that
// triggered termination. Every call after the first trigger returns
// (reason, false), so the caller cannot double-terminate.
//
// Rules, first match wins:
//  1. Zero tolerance: any violation at all.
//  2. Any critical violation.
//  3. Two or more high-severity violations.
//  4. Total violation count at the configured limit.
func (p *TerminationPolicy) Decide(violations []Violation) (string, bool) {
	if p.decided {
		return p.reason, false
	}

	reason := p.match(violations)
	if reason == "" {
		return "", false
	}

	p.decided = true
	p.reason = reason
	return reason, true
}

func (p *TerminationPolicy) match(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}
	if p.cfg.ZeroTolerance {
		return ReasonZeroTolerance
	}

	var high int
	for i := range violations {
		switch violations[i].Severity {
		case SeverityCritical:
			return ReasonCritical
		case SeverityHigh:
			high++
		}
	}
	if high >= 2 {
		return ReasonMultipleHigh
	}
	if len(violations) >= p.cfg.TotalViolationLimit {
		return ReasonTooMany
	}
	return ""
}

// Decided reports whether the policy has already triggered.
func (p *TerminationPolicy) Decided() bool {
	return p.decided
}

// Reason returns the immutable termination reason, empty until decided.
func (p *TerminationPolicy) Reason() string {
	return p.reason
}
