// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo/internal/logging"
)

// DropCause explains why an observation did not yield a stored violation.
// A drop is not an error: debouncing and rate limiting drop by design.
type DropCause string

const (
	// DropNone means the observation produced an accepted violation.
	DropNone DropCause = ""

	// DropMalformed means the observation failed validation (unknown
	// category, confidence outside 0..1, non-finite magnitude).
	DropMalformed DropCause = "malformed"

	// DropNominal means the observation reported a nominal condition and
	// only advanced or reset counters.
	DropNominal DropCause = "nominal"

	// DropDebounced means the consecutive-run counter has not reached its
	// threshold yet.
	DropDebounced DropCause = "debounced"

	// DropCapReached means the violation sequence is at its configured cap.
	DropCapReached DropCause = "cap_reached"

	// DropBurst means the global burst-suppression window rejected the
	// candidate.
	DropBurst DropCause = "burst"

	// DropCooldown means the per-category cooldown window rejected the
	// candidate.
	DropCooldown DropCause = "cooldown"
)

// trigger is the debounced condition an observation maps to.
type trigger int

const (
	triggerNone trigger = iota
	triggerNoFace
	triggerMultiFace
	triggerVoice
	triggerTabSwitch
	triggerFocusLoss
	triggerReported
)

// Aggregator normalizes raw observations into rate-limited, deduplicated
// violations. It is not safe for concurrent use; the session controller
// serializes every call behind its own mutex, mirroring the run-to-completion
// model the rate-limiting correctness depends on.
type Aggregator struct {
	cfg        Config
	now        func() time.Time
	violations []Violation
	stats      DetectionStats
}

// NewAggregator creates an aggregator with the given config. A nil clock
// defaults to time.Now; tests inject a manual clock to drive the trailing
// rate-limit windows deterministically.
func NewAggregator(cfg Config, clock func() time.Time) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{
		cfg:        cfg.withDefaults(),
		now:        clock,
		violations: make([]Violation, 0, cfg.withDefaults().MaxViolations),
	}
}

// Ingest consumes one observation. It returns the accepted violation, or nil
// plus the cause of the drop. Callers must not treat a nil violation as an
// error: it is the steady state for nominal and debounced samples.
func (a *Aggregator) Ingest(obs Observation) (*Violation, DropCause) {
	if cause := a.validate(obs); cause != DropNone {
		return nil, cause
	}

	ts := obs.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}
	a.stats.LastObservationAt = ts
	a.countSample(obs.Category)

	trig := a.classify(obs)
	if trig == triggerNone {
		a.resetNominal(obs.Category)
		return nil, DropNominal
	}
	if !a.advance(trig) {
		return nil, DropDebounced
	}

	candidate := a.buildViolation(trig, obs, ts)
	if cause := a.rateLimit(candidate); cause != DropNone {
		return nil, cause
	}

	a.violations = append(a.violations, candidate)
	return &candidate, DropNone
}

// validate rejects malformed observations. One bad sample must never take
// down proctoring, so the caller logs and carries on.
func (a *Aggregator) validate(obs Observation) DropCause {
	if !obs.Category.Valid() {
		logging.Warn().Str("category", string(obs.Category)).Msg("dropping observation with unknown category")
		return DropMalformed
	}
	if obs.Confidence < 0 || obs.Confidence > 1 || math.IsNaN(obs.Confidence) {
		logging.Warn().Float64("confidence", obs.Confidence).Msg("dropping observation with out-of-range confidence")
		return DropMalformed
	}
	if math.IsNaN(obs.Magnitude) || math.IsInf(obs.Magnitude, 0) {
		logging.Warn().Msg("dropping observation with non-finite magnitude")
		return DropMalformed
	}
	return DropNone
}

// countSample updates the cumulative per-category counters. These only
// increase; Reset is the single path that zeroes them.
func (a *Aggregator) countSample(c Category) {
	switch c {
	case CategoryFace:
		a.stats.FaceSamples++
	case CategoryVoice:
		a.stats.VoiceSamples++
	case CategoryFocus:
		a.stats.FocusSamples++
	case CategoryReported:
		a.stats.ReportedSamples++
	}
}

// classify maps an observation to the debounced trigger it feeds, or
// triggerNone for nominal samples.
func (a *Aggregator) classify(obs Observation) trigger {
	switch obs.Category {
	case CategoryFace:
		if obs.Magnitude < 1 {
			return triggerNoFace
		}
		if obs.Magnitude >= 2 {
			return triggerMultiFace
		}
		return triggerNone
	case CategoryVoice:
		// The adapter supplies the variance-over-sensitivity ratio; above
		// one the sample is anomalous.
		if obs.Magnitude > 1 {
			return triggerVoice
		}
		return triggerNone
	case CategoryFocus:
		if obs.Magnitude == 0 {
			return triggerNone
		}
		if obs.Metadata[MetaCause] == CauseTabSwitch {
			return triggerTabSwitch
		}
		return triggerFocusLoss
	case CategoryReported:
		return triggerReported
	}
	return triggerNone
}

// advance updates the consecutive-run counters for the trigger and reports
// whether the debounce threshold fired. Counters measure consecutive runs:
// observing the nominal condition resets them, and firing resets the counter
// so the same condition must re-accumulate before alerting again.
func (a *Aggregator) advance(trig trigger) bool {
	s := &a.stats
	switch trig {
	case triggerNoFace:
		s.ConsecutiveMultiFace = 0
		s.ConsecutiveNoFace++
		if s.ConsecutiveNoFace >= a.cfg.NoFaceThreshold {
			s.ConsecutiveNoFace = 0
			return true
		}
	case triggerMultiFace:
		s.ConsecutiveNoFace = 0
		s.ConsecutiveMultiFace++
		if s.ConsecutiveMultiFace >= a.cfg.MultiFaceThreshold {
			s.ConsecutiveMultiFace = 0
			return true
		}
	case triggerVoice:
		s.ConsecutiveVoice++
		if s.ConsecutiveVoice >= a.cfg.VoiceThreshold {
			s.ConsecutiveVoice = 0
			return true
		}
	case triggerTabSwitch:
		s.ConsecutiveFocusLoss = 0
		s.ConsecutiveTabSwitch++
		if s.ConsecutiveTabSwitch >= a.cfg.TabSwitchThreshold {
			s.ConsecutiveTabSwitch = 0
			return true
		}
	case triggerFocusLoss:
		s.ConsecutiveTabSwitch = 0
		s.ConsecutiveFocusLoss++
		if s.ConsecutiveFocusLoss >= a.cfg.FocusLossThreshold {
			s.ConsecutiveFocusLoss = 0
			return true
		}
	case triggerReported:
		// Reported events bypass debouncing entirely.
		return true
	}
	return false
}

// resetNominal clears the consecutive counters owned by a category when it
// reports a nominal sample.
func (a *Aggregator) resetNominal(c Category) {
	switch c {
	case CategoryFace:
		a.stats.ConsecutiveNoFace = 0
		a.stats.ConsecutiveMultiFace = 0
	case CategoryVoice:
		a.stats.ConsecutiveVoice = 0
	case CategoryFocus:
		a.stats.ConsecutiveTabSwitch = 0
		a.stats.ConsecutiveFocusLoss = 0
	}
}

// buildViolation creates the immutable candidate record for a fired trigger.
func (a *Aggregator) buildViolation(trig trigger, obs Observation, ts time.Time) Violation {
	v := Violation{
		ID:         uuid.New().String(),
		Category:   obs.Category,
		Timestamp:  ts,
		Confidence: obs.Confidence,
	}
	if obs.Metadata != nil {
		v.Metadata = make(map[string]string, len(obs.Metadata))
		for k, val := range obs.Metadata {
			v.Metadata[k] = val
		}
	}

	switch trig {
	case triggerNoFace:
		v.Severity = SeverityMedium
		v.Description = fmt.Sprintf("No face detected for %d consecutive samples", a.cfg.NoFaceThreshold)
	case triggerMultiFace:
		v.Severity = SeverityHigh
		v.Description = fmt.Sprintf("Multiple faces detected (%d in frame)", int(obs.Magnitude))
	case triggerVoice:
		v.Severity = SeverityHigh
		v.Description = "Sustained audio anomaly detected"
	case triggerTabSwitch:
		v.Severity = SeverityHigh
		v.Description = "Repeated tab switching detected"
	case triggerFocusLoss:
		v.Severity = SeverityMedium
		v.Description = "Assessment window lost focus"
	case triggerReported:
		v.Severity = ParseSeverity(obs.Metadata[MetaSeverity])
		v.Description = obs.Metadata[MetaDescription]
		if v.Description == "" {
			v.Description = "Reported security event"
		}
	}
	return v
}

// rateLimit applies the global acceptance rules, in order: hard cap, burst
// suppression across all categories, then per-category cooldown. Windows are
// explicit timestamp comparisons against the stored sequence rather than
// background timers, so the engine stays purely reactive.
func (a *Aggregator) rateLimit(candidate Violation) DropCause {
	if len(a.violations) >= a.cfg.MaxViolations {
		return DropCapReached
	}

	burstCutoff := candidate.Timestamp.Add(-a.cfg.BurstWindow)
	cooldownCutoff := candidate.Timestamp.Add(-a.cfg.CooldownWindow)
	oldest := cooldownCutoff
	if burstCutoff.Before(oldest) {
		oldest = burstCutoff
	}

	var inBurst, inCooldown int
	// Insertion order is chronological, so scanning backwards lets both
	// windows share one pass over the recent tail.
	for i := len(a.violations) - 1; i >= 0; i-- {
		v := &a.violations[i]
		if v.Timestamp.Before(oldest) {
			break
		}
		if v.Category == candidate.Category && !v.Timestamp.Before(cooldownCutoff) {
			inCooldown++
		}
		if !v.Timestamp.Before(burstCutoff) {
			inBurst++
		}
	}

	if inBurst >= a.cfg.BurstLimit {
		return DropBurst
	}
	if inCooldown >= a.cfg.CooldownLimit {
		return DropCooldown
	}
	return DropNone
}

// Violations returns a copy of the stored sequence in insertion order.
func (a *Aggregator) Violations() []Violation {
	out := make([]Violation, 0, len(a.violations))
	for i := range a.violations {
		out = append(out, a.violations[i].clone())
	}
	return out
}

// Len returns the stored violation count.
func (a *Aggregator) Len() int {
	return len(a.violations)
}

// Stats returns a copy of the rolling counters.
func (a *Aggregator) Stats() DetectionStats {
	return a.stats
}

// Risk derives the current risk level from the stored sequence.
func (a *Aggregator) Risk() RiskLevel {
	return ComputeRisk(a.violations)
}

// Reset clears the violation sequence and zeroes every counter. Used for
// operator-driven recovery after a false-positive storm.
func (a *Aggregator) Reset() {
	a.violations = a.violations[:0]
	a.stats = DetectionStats{}
}
