// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Category identifies the detector family that produced an observation.
type Category string

const (
	// CategoryFace covers camera-based presence and identity checks.
	// Observation magnitude is the detected face count: 0 means no face,
	// 1 is nominal, 2+ means multiple faces.
	CategoryFace Category = "face"

	// CategoryVoice covers microphone-based audio anomaly checks.
	// Observation magnitude is the variance-over-sensitivity ratio supplied
	// by the adapter; values above 1.0 are anomalous.
	CategoryVoice Category = "voice"

	// CategoryFocus covers tab/window focus and visibility checks.
	// Observation magnitude is 0 when focused and non-zero when not; the
	// metadata key "cause" distinguishes "tab_switch" from "blur".
	CategoryFocus Category = "focus"

	// CategoryReported covers externally reported events such as blocked
	// clipboard access or devtools detection. Reported observations bypass
	// debouncing; severity and description come from metadata (see the
	// MetaSeverity and MetaDescription keys).
	CategoryReported Category = "reported"
)

// Valid returns whether the category is one the aggregator understands.
func (c Category) Valid() bool {
	switch c {
	case CategoryFace, CategoryVoice, CategoryFocus, CategoryReported:
		return true
	}
	return false
}

// Metadata keys understood by the aggregator.
const (
	// MetaCause distinguishes focus-loss flavors: "tab_switch" or "blur".
	MetaCause = "cause"

	// MetaSeverity carries the reporter-supplied severity for reported
	// observations ("low", "medium", "high", "critical").
	MetaSeverity = "severity"

	// MetaDescription carries the human-readable description for reported
	// observations.
	MetaDescription = "description"

	// CauseTabSwitch marks a focus observation caused by switching tabs.
	CauseTabSwitch = "tab_switch"

	// CauseBlur marks a focus observation caused by the window losing focus.
	CauseBlur = "blur"
)

// Severity ranks a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a string to a Severity, defaulting to SeverityCritical
// for unknown values. Reported events default to the most severe reading
// because a reporter that bothers to report without classifying is flagging
// something it considers serious.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	}
	return SeverityCritical
}

// RiskLevel is the four-point ordinal derived from the violation set.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for monotonicity checks.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// SessionState is the lifecycle state of a proctoring session.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateActive        SessionState = "active"
	StateStopped       SessionState = "stopped"
	StateTerminated    SessionState = "terminated"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateStopped || s == StateTerminated
}

// Observation is a single raw signal sample from a detector adapter.
// Observations are ephemeral: the aggregator consumes them immediately and
// never stores them.
type Observation struct {
	Category   Category          `json:"category"`
	Magnitude  float64           `json:"magnitude"`
	Confidence float64           `json:"confidence"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Violation is a durable, severity-tagged record accepted by the aggregator
// after debouncing and rate limiting. Violations are immutable once created.
type Violation struct {
	ID          string            `json:"id"`
	Category    Category          `json:"category"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Confidence  float64           `json:"confidence"`
}

// clone returns a deep copy so snapshots cannot alias internal state.
func (v Violation) clone() Violation {
	out := v
	if v.Metadata != nil {
		out.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			out.Metadata[k] = val
		}
	}
	return out
}

// DetectionStats holds the rolling counters the aggregator uses for
// debouncing. Consecutive counters measure runs, not totals: each is reset
// to zero whenever its triggering condition is not observed, and reset again
// after it fires. Cumulative counters only increase for the lifetime of the
// session (until Reset).
type DetectionStats struct {
	// Consecutive run counters, one per debounced trigger.
	ConsecutiveNoFace    int `json:"consecutive_no_face"`
	ConsecutiveMultiFace int `json:"consecutive_multi_face"`
	ConsecutiveVoice     int `json:"consecutive_voice"`
	ConsecutiveTabSwitch int `json:"consecutive_tab_switch"`
	ConsecutiveFocusLoss int `json:"consecutive_focus_loss"`

	// Cumulative sample counts per category.
	FaceSamples     int64 `json:"face_samples"`
	VoiceSamples    int64 `json:"voice_samples"`
	FocusSamples    int64 `json:"focus_samples"`
	ReportedSamples int64 `json:"reported_samples"`

	LastObservationAt time.Time `json:"last_observation_at"`
}

// SecurityEvent is the export-boundary record produced once when a session
// stops or terminates. The violations slice is a snapshot; mutating it does
// not affect session state.
type SecurityEvent struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	UserID     string      `json:"user_id"`
	Violations []Violation `json:"violations"`
	RiskLevel  RiskLevel   `json:"risk_level"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"duration_ms"`
	Terminated bool        `json:"terminated"`
	Reason     string      `json:"reason,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for sinks that persist
// raw bytes (BadgerDB, message payloads).
func (e *SecurityEvent) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// SessionSnapshot is the copy-on-read status view returned by Status().
// Everything in it is owned by the caller.
type SessionSnapshot struct {
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id"`
	State      SessionState    `json:"state"`
	Violations []Violation     `json:"violations"`
	RiskLevel  RiskLevel       `json:"risk_level"`
	Stats      DetectionStats  `json:"stats"`
	Adapters   map[string]bool `json:"adapters"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Callbacks are the optional hooks the UI layer consumes. All three are
// fire-and-forget and invoked synchronously on the goroutine that processed
// the triggering observation. Nil fields are skipped.
type Callbacks struct {
	OnViolation   func(Violation)
	OnTermination func(reason string)
	OnError       func(msg string)
}

// Adapter is a detector probe lifecycle as seen by the session controller.
// The controller only touches this surface; the adapter exclusively owns its
// media handle. Stop must be safe to call from the observation path, so it
// may only signal cancellation, never join a running poll loop.
type Adapter interface {
	// Name identifies the adapter in snapshots and logs.
	Name() string

	// Start acquires the adapter's probe and begins producing observations.
	// A failed Start leaves the session degraded but running.
	Start(ctx context.Context) error

	// Stop tears the adapter down. Safe to call more than once; the teardown
	// itself runs exactly once.
	Stop() error
}

// EventSink receives violations and security events for persistence or
// forwarding. The engine never blocks on a sink: delivery is dispatched
// asynchronously and failures are the sink's concern.
type EventSink interface {
	// Name identifies the sink in logs.
	Name() string

	// RecordViolation delivers one accepted violation.
	RecordViolation(ctx context.Context, sessionID string, v Violation) error

	// RecordEvent delivers the terminal SecurityEvent.
	RecordEvent(ctx context.Context, ev *SecurityEvent) error
}
