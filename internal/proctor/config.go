// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

import "time"

// Config is the engine-side configuration surface, consumed at construction.
// Adapter polling cadence is adapter configuration and intentionally not
// represented here.
type Config struct {
	// NoFaceThreshold is the consecutive no-face observations required
	// before a medium violation fires.
	NoFaceThreshold int `json:"no_face_threshold"`

	// MultiFaceThreshold is the consecutive multi-face observations required
	// before a high violation fires.
	MultiFaceThreshold int `json:"multi_face_threshold"`

	// VoiceThreshold is the consecutive anomalous audio samples required
	// before a high violation fires.
	VoiceThreshold int `json:"voice_threshold"`

	// TabSwitchThreshold is the consecutive tab-switch observations required
	// before a high violation fires.
	TabSwitchThreshold int `json:"tab_switch_threshold"`

	// FocusLossThreshold is the consecutive focus-loss observations required
	// before a medium violation fires.
	FocusLossThreshold int `json:"focus_loss_threshold"`

	// MaxViolations caps the stored violation sequence. Once reached, new
	// violations are silently dropped so the audit trail up to the cap is
	// preserved exactly.
	MaxViolations int `json:"max_violations"`

	// BurstLimit and BurstWindow reject a candidate when BurstLimit or more
	// violations of any category were accepted within the trailing window.
	BurstLimit  int           `json:"burst_limit"`
	BurstWindow time.Duration `json:"burst_window"`

	// CooldownLimit and CooldownWindow reject a candidate when CooldownLimit
	// or more violations of the same category were accepted within the
	// trailing window.
	CooldownLimit  int           `json:"cooldown_limit"`
	CooldownWindow time.Duration `json:"cooldown_window"`

	// TotalViolationLimit terminates the session when the stored violation
	// count reaches it.
	TotalViolationLimit int `json:"total_violation_limit"`

	// ZeroTolerance collapses the termination rules into terminate-on-first
	// accepted violation of any severity.
	ZeroTolerance bool `json:"zero_tolerance"`
}

// DefaultConfig returns the tuning defaults carried over from the product.
// The debounce thresholds and rate-limit windows are product choices with no
// stated rationale; they are configuration, not invariants.
func DefaultConfig() Config {
	return Config{
		NoFaceThreshold:     5,
		MultiFaceThreshold:  3,
		VoiceThreshold:      3,
		TabSwitchThreshold:  2,
		FocusLossThreshold:  3,
		MaxViolations:       50,
		BurstLimit:          3,
		BurstWindow:         15 * time.Second,
		CooldownLimit:       2,
		CooldownWindow:      60 * time.Second,
		TotalViolationLimit: 5,
		ZeroTolerance:       false,
	}
}

// withDefaults fills zero values so a partially specified config behaves.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NoFaceThreshold <= 0 {
		c.NoFaceThreshold = d.NoFaceThreshold
	}
	if c.MultiFaceThreshold <= 0 {
		c.MultiFaceThreshold = d.MultiFaceThreshold
	}
	if c.VoiceThreshold <= 0 {
		c.VoiceThreshold = d.VoiceThreshold
	}
	if c.TabSwitchThreshold <= 0 {
		c.TabSwitchThreshold = d.TabSwitchThreshold
	}
	if c.FocusLossThreshold <= 0 {
		c.FocusLossThreshold = d.FocusLossThreshold
	}
	if c.MaxViolations <= 0 {
		c.MaxViolations = d.MaxViolations
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = d.BurstLimit
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = d.BurstWindow
	}
	if c.CooldownLimit <= 0 {
		c.CooldownLimit = d.CooldownLimit
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = d.CooldownWindow
	}
	if c.TotalViolationLimit <= 0 {
		c.TotalViolationLimit = d.TotalViolationLimit
	}
	return c
}
