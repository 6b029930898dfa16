// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package adapter

import (
	"context"
	"time"

	"github.com/invigilo/invigilo/internal/proctor"
)

// defaultVoiceInterval is the microphone sampling cadence.
const defaultVoiceInterval = 4 * time.Second

// defaultSensitivity is the variance level treated as the anomaly boundary
// when the configuration does not set one.
const defaultSensitivity = 0.35

// AudioSample is one microphone analysis window. The FFT and variance math
// live in the probe; the adapter only consumes the aggregate.
type AudioSample struct {
	// Variance is the loudness variance over the analysis window.
	Variance float64

	// Confidence is the analyzer's confidence in the measurement, 0..1.
	Confidence float64
}

// AudioProbe is the black-box audio analyzer the voice adapter drives.
type AudioProbe interface {
	Acquire(ctx context.Context) error
	Sample(ctx context.Context) (AudioSample, error)
	Release() error
}

// VoiceConfig extends the common adapter config with the anomaly boundary.
type VoiceConfig struct {
	Config

	// Sensitivity is the variance level above which a sample counts as
	// anomalous. The adapter ships the variance-over-sensitivity ratio, so
	// the aggregator's threshold stays fixed at 1.0.
	Sensitivity float64 `json:"sensitivity"`
}

// NewVoice creates the microphone anomaly adapter.
func NewVoice(probe AudioProbe, target Target, cfg VoiceConfig) proctor.Adapter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultVoiceInterval
	}
	sensitivity := cfg.Sensitivity
	if sensitivity <= 0 {
		sensitivity = defaultSensitivity
	}
	return &poller{
		name:     "voice",
		interval: interval,
		target:   target,
		acquire:  probe.Acquire,
		release:  probe.Release,
		sample: func(ctx context.Context) (proctor.Observation, error) {
			audio, err := probe.Sample(ctx)
			if err != nil {
				return proctor.Observation{}, err
			}
			return proctor.Observation{
				Category:   proctor.CategoryVoice,
				Magnitude:  audio.Variance / sensitivity,
				Confidence: audio.Confidence,
				Timestamp:  time.Now(),
			}, nil
		},
	}
}
