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

// defaultFaceInterval is the camera sampling cadence.
const defaultFaceInterval = 3 * time.Second

// FrameSample is one camera classification result. How faces are recognized
// is the probe's concern; the adapter only consumes the count.
type FrameSample struct {
	// FaceCount is the number of faces detected in the frame.
	FaceCount int

	// Confidence is the classifier's confidence in the count, 0..1.
	Confidence float64
}

// FrameProbe is the black-box camera classifier the face adapter drives.
// Implementations own the camera handle exclusively.
type FrameProbe interface {
	// Acquire attaches the camera. Called once at adapter start.
	Acquire(ctx context.Context) error

	// Sample grabs and classifies one frame.
	Sample(ctx context.Context) (FrameSample, error)

	// Release detaches the camera. Called exactly once at teardown.
	Release() error
}

// NewFace creates the camera presence/identity adapter. Each sample becomes
// a face observation whose magnitude is the detected face count: the
// aggregator debounces zero counts into no-face violations and counts of two
// or more into multi-face violations.
func NewFace(probe FrameProbe, target Target, cfg Config) proctor.Adapter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFaceInterval
	}
	return &poller{
		name:     "face",
		interval: interval,
		target:   target,
		acquire:  probe.Acquire,
		release:  probe.Release,
		sample: func(ctx context.Context) (proctor.Observation, error) {
			frame, err := probe.Sample(ctx)
			if err != nil {
				return proctor.Observation{}, err
			}
			return proctor.Observation{
				Category:   proctor.CategoryFace,
				Magnitude:  float64(frame.FaceCount),
				Confidence: frame.Confidence,
				Timestamp:  time.Now(),
			}, nil
		},
	}
}
