// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// obsAt builds an observation with an explicit timestamp.
func obsAt(cat Category, magnitude float64, ts time.Time) Observation {
	return Observation{
		Category:   cat,
		Magnitude:  magnitude,
		Confidence: 0.9,
		Timestamp:  ts,
	}
}

func reportedAt(severity Severity, ts time.Time) Observation {
	return Observation{
		Category:   CategoryReported,
		Magnitude:  1,
		Confidence: 1,
		Timestamp:  ts,
		Metadata: map[string]string{
			MetaSeverity:    string(severity),
			MetaDescription: "devtools opened",
		},
	}
}

func TestAggregatorDebounce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		obs       func(ts time.Time) Observation
		threshold int
		severity  Severity
	}{
		{
			name:      "no face fires medium at threshold 5",
			obs:       func(ts time.Time) Observation { return obsAt(CategoryFace, 0, ts) },
			threshold: 5,
			severity:  SeverityMedium,
		},
		{
			name:      "multi face fires high at threshold 3",
			obs:       func(ts time.Time) Observation { return obsAt(CategoryFace, 2, ts) },
			threshold: 3,
			severity:  SeverityHigh,
		},
		{
			name:      "voice anomaly fires high at threshold 3",
			obs:       func(ts time.Time) Observation { return obsAt(CategoryVoice, 1.8, ts) },
			threshold: 3,
			severity:  SeverityHigh,
		},
		{
			name: "tab switch fires high at threshold 2",
			obs: func(ts time.Time) Observation {
				o := obsAt(CategoryFocus, 1, ts)
				o.Metadata = map[string]string{MetaCause: CauseTabSwitch}
				return o
			},
			threshold: 2,
			severity:  SeverityHigh,
		},
		{
			name:      "focus loss fires medium at threshold 3",
			obs:       func(ts time.Time) Observation { return obsAt(CategoryFocus, 1, ts) },
			threshold: 3,
			severity:  SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			agg := NewAggregator(DefaultConfig(), nil)
			ts := testEpoch

			// T-1 triggering observations produce nothing.
			for i := 0; i < tt.threshold-1; i++ {
				v, cause := agg.Ingest(tt.obs(ts))
				if v != nil {
					t.Fatalf("observation %d fired early: %+v", i+1, v)
				}
				if cause != DropDebounced {
					t.Fatalf("observation %d: cause = %q, want %q", i+1, cause, DropDebounced)
				}
				ts = ts.Add(3 * time.Second)
			}

			// The Tth fires exactly one violation.
			v, cause := agg.Ingest(tt.obs(ts))
			if v == nil {
				t.Fatalf("threshold observation did not fire (cause %q)", cause)
			}
			if v.Severity != tt.severity {
				t.Errorf("severity = %q, want %q", v.Severity, tt.severity)
			}
			if agg.Len() != 1 {
				t.Errorf("stored violations = %d, want 1", agg.Len())
			}

			// The counter reset: T more observations, spaced past the
			// per-category cooldown, produce exactly one more.
			ts = ts.Add(2 * time.Minute)
			for i := 0; i < tt.threshold-1; i++ {
				if v, _ := agg.Ingest(tt.obs(ts)); v != nil {
					t.Fatalf("re-accumulation observation %d fired early", i+1)
				}
				ts = ts.Add(3 * time.Second)
			}
			if v, cause := agg.Ingest(tt.obs(ts)); v == nil {
				t.Fatalf("second threshold observation did not fire (cause %q)", cause)
			}
			if agg.Len() != 2 {
				t.Errorf("stored violations = %d, want 2", agg.Len())
			}
		})
	}
}

func TestAggregatorNominalResetsCounters(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	ts := testEpoch

	// Four no-face samples, one nominal, then four more: never fires.
	for i := 0; i < 4; i++ {
		agg.Ingest(obsAt(CategoryFace, 0, ts))
		ts = ts.Add(3 * time.Second)
	}
	if _, cause := agg.Ingest(obsAt(CategoryFace, 1, ts)); cause != DropNominal {
		t.Fatalf("nominal sample cause = %q, want %q", cause, DropNominal)
	}
	ts = ts.Add(3 * time.Second)
	for i := 0; i < 4; i++ {
		if v, _ := agg.Ingest(obsAt(CategoryFace, 0, ts)); v != nil {
			t.Fatalf("fired after counter should have been reset")
		}
		ts = ts.Add(3 * time.Second)
	}
	if agg.Len() != 0 {
		t.Errorf("stored violations = %d, want 0", agg.Len())
	}
	if agg.Stats().ConsecutiveNoFace != 4 {
		t.Errorf("ConsecutiveNoFace = %d, want 4", agg.Stats().ConsecutiveNoFace)
	}
}

func TestAggregatorCrossTriggerReset(t *testing.T) {
	t.Parallel()

	// A multi-face sample is not a no-face sample: it must reset the
	// no-face run and start its own.
	agg := NewAggregator(DefaultConfig(), nil)
	ts := testEpoch

	for i := 0; i < 4; i++ {
		agg.Ingest(obsAt(CategoryFace, 0, ts))
		ts = ts.Add(time.Second)
	}
	agg.Ingest(obsAt(CategoryFace, 3, ts))
	stats := agg.Stats()
	if stats.ConsecutiveNoFace != 0 {
		t.Errorf("ConsecutiveNoFace = %d, want 0", stats.ConsecutiveNoFace)
	}
	if stats.ConsecutiveMultiFace != 1 {
		t.Errorf("ConsecutiveMultiFace = %d, want 1", stats.ConsecutiveMultiFace)
	}
}

func TestAggregatorMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		obs  Observation
	}{
		{"unknown category", Observation{Category: "keyboard", Confidence: 0.5, Timestamp: testEpoch}},
		{"confidence above one", Observation{Category: CategoryFace, Confidence: 1.2, Timestamp: testEpoch}},
		{"negative confidence", Observation{Category: CategoryFace, Confidence: -0.1, Timestamp: testEpoch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			agg := NewAggregator(DefaultConfig(), nil)
			v, cause := agg.Ingest(tt.obs)
			if v != nil || cause != DropMalformed {
				t.Errorf("Ingest = (%v, %q), want (nil, %q)", v, cause, DropMalformed)
			}
			// A bad sample must not advance any counter.
			if got := agg.Stats(); got != (DetectionStats{}) {
				t.Errorf("stats mutated by malformed observation: %+v", got)
			}
		})
	}
}

func TestAggregatorReportedBypassesDebounce(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	v, cause := agg.Ingest(reportedAt(SeverityCritical, testEpoch))
	if v == nil {
		t.Fatalf("reported observation dropped: %q", cause)
	}
	if v.Severity != SeverityCritical {
		t.Errorf("severity = %q, want critical", v.Severity)
	}
	if v.Description != "devtools opened" {
		t.Errorf("description = %q", v.Description)
	}
}

func TestAggregatorBurstSuppression(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	ts := testEpoch

	// Three violations from three different categories inside the burst
	// window; the per-category cooldown does not apply across categories.
	for i := 0; i < 5; i++ {
		agg.Ingest(obsAt(CategoryFace, 0, ts)) // fires on 5th
		ts = ts.Add(time.Second)
	}
	for i := 0; i < 3; i++ {
		agg.Ingest(obsAt(CategoryVoice, 2, ts)) // fires on 3rd
		ts = ts.Add(time.Second)
	}
	if agg.Len() != 2 {
		t.Fatalf("setup: stored = %d, want 2", agg.Len())
	}

	v, cause := agg.Ingest(reportedAt(SeverityLow, ts))
	if v == nil {
		t.Fatalf("third violation should be accepted, got %q", cause)
	}

	// Fourth candidate within 15s of three accepted violations: burst.
	ts = ts.Add(time.Second)
	v, cause = agg.Ingest(reportedAt(SeverityLow, ts))
	if v != nil || cause != DropBurst {
		t.Errorf("Ingest = (%v, %q), want (nil, %q)", v, cause, DropBurst)
	}

	// Outside the 15s burst window acceptance resumes: only one reported
	// violation sits in the trailing cooldown window.
	ts = ts.Add(16 * time.Second)
	if v, cause = agg.Ingest(reportedAt(SeverityLow, ts)); v == nil {
		t.Errorf("candidate after burst window drained rejected: %q", cause)
	}
}

func TestAggregatorCategoryCooldown(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	ts := testEpoch

	if v, _ := agg.Ingest(reportedAt(SeverityMedium, ts)); v == nil {
		t.Fatal("first reported violation rejected")
	}
	ts = ts.Add(20 * time.Second)
	if v, _ := agg.Ingest(reportedAt(SeverityMedium, ts)); v == nil {
		t.Fatal("second reported violation rejected")
	}

	// Two of the same category in the trailing 60s: reject.
	ts = ts.Add(20 * time.Second)
	if v, cause := agg.Ingest(reportedAt(SeverityMedium, ts)); v != nil || cause != DropCooldown {
		t.Errorf("Ingest = (%v, %q), want (nil, %q)", v, cause, DropCooldown)
	}

	// Once the window has drained, acceptance resumes.
	ts = ts.Add(2 * time.Minute)
	if v, _ := agg.Ingest(reportedAt(SeverityMedium, ts)); v == nil {
		t.Error("violation rejected after cooldown window drained")
	}
}

func TestAggregatorCapIsHardCeiling(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxViolations = 3
	agg := NewAggregator(cfg, nil)

	ts := testEpoch
	var accepted, capped int
	for i := 0; i < 10; i++ {
		v, cause := agg.Ingest(reportedAt(SeverityLow, ts))
		if v != nil {
			accepted++
		}
		if cause == DropCapReached {
			capped++
		}
		// Space candidates past both windows so only the cap can reject.
		ts = ts.Add(2 * time.Minute)
	}

	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}
	if agg.Len() != cfg.MaxViolations {
		t.Errorf("stored = %d, want cap %d", agg.Len(), cfg.MaxViolations)
	}
	if capped != 7 {
		t.Errorf("cap rejections = %d, want 7", capped)
	}

	// The audit trail up to the cap is preserved exactly, in insertion order.
	vs := agg.Violations()
	for i := 1; i < len(vs); i++ {
		if vs[i].Timestamp.Before(vs[i-1].Timestamp) {
			t.Errorf("violations out of chronological order at %d", i)
		}
	}
}

func TestAggregatorCumulativeCounters(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	ts := testEpoch

	agg.Ingest(obsAt(CategoryFace, 1, ts))
	agg.Ingest(obsAt(CategoryFace, 0, ts.Add(time.Second)))
	agg.Ingest(obsAt(CategoryVoice, 0.2, ts.Add(2*time.Second)))
	agg.Ingest(obsAt(CategoryFocus, 0, ts.Add(3*time.Second)))

	stats := agg.Stats()
	if stats.FaceSamples != 2 || stats.VoiceSamples != 1 || stats.FocusSamples != 1 {
		t.Errorf("cumulative counters = %+v", stats)
	}
	if !stats.LastObservationAt.Equal(ts.Add(3 * time.Second)) {
		t.Errorf("LastObservationAt = %v", stats.LastObservationAt)
	}

	// Nominal samples reset runs but never the cumulative counts.
	agg.Ingest(obsAt(CategoryFace, 1, ts.Add(4*time.Second)))
	if got := agg.Stats().FaceSamples; got != 3 {
		t.Errorf("FaceSamples = %d, want 3", got)
	}
}

func TestAggregatorReset(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	agg.Ingest(reportedAt(SeverityHigh, testEpoch))
	agg.Ingest(obsAt(CategoryFace, 0, testEpoch.Add(time.Second)))

	agg.Reset()
	if agg.Len() != 0 {
		t.Errorf("violations after reset = %d", agg.Len())
	}
	if agg.Stats() != (DetectionStats{}) {
		t.Errorf("stats after reset = %+v", agg.Stats())
	}

	// Idempotent: a second reset is equivalent to one.
	agg.Reset()
	if agg.Len() != 0 || agg.Stats() != (DetectionStats{}) {
		t.Error("second reset changed state")
	}
}

func TestViolationSnapshotIsolation(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(DefaultConfig(), nil)
	agg.Ingest(reportedAt(SeverityHigh, testEpoch))

	vs := agg.Violations()
	vs[0].Description = "mutated"
	if vs[0].Metadata != nil {
		vs[0].Metadata[MetaDescription] = "mutated"
	}

	again := agg.Violations()
	if again[0].Description == "mutated" {
		t.Error("snapshot mutation leaked into stored violation")
	}
	if again[0].Metadata[MetaDescription] == "mutated" {
		t.Error("metadata mutation leaked into stored violation")
	}
}
