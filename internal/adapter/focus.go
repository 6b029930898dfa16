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

// defaultFocusInterval is the focus/visibility sampling cadence.
const defaultFocusInterval = 2 * time.Second

// FocusSample is one window-focus reading from the host UI.
type FocusSample struct {
	// Focused reports whether the assessment surface holds focus.
	Focused bool

	// TabSwitched reports whether the loss was an explicit tab switch
	// rather than the window merely blurring.
	TabSwitched bool
}

// FocusProbe is the host-side visibility check the focus adapter drives.
type FocusProbe interface {
	Acquire(ctx context.Context) error
	Sample(ctx context.Context) (FocusSample, error)
	Release() error
}

// NewFocus creates the tab/window focus adapter. Unfocused samples carry a
// cause in metadata so the aggregator can apply the tighter tab-switch
// debounce threshold.
func NewFocus(probe FocusProbe, target Target, cfg Config) proctor.Adapter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFocusInterval
	}
	return &poller{
		name:     "focus",
		interval: interval,
		target:   target,
		acquire:  probe.Acquire,
		release:  probe.Release,
		sample: func(ctx context.Context) (proctor.Observation, error) {
			state, err := probe.Sample(ctx)
			if err != nil {
				return proctor.Observation{}, err
			}
			obs := proctor.Observation{
				Category:   proctor.CategoryFocus,
				Confidence: 1,
				Timestamp:  time.Now(),
			}
			if !state.Focused {
				obs.Magnitude = 1
				cause := proctor.CauseBlur
				if state.TabSwitched {
					cause = proctor.CauseTabSwitch
				}
				obs.Metadata = map[string]string{proctor.MetaCause: cause}
			}
			return obs, nil
		},
	}
}
