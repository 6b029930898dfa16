// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/proctor"
)

// Inlet is the generic reported-event adapter: a typed entry point for
// UI-layer signals (blocked clipboard, devtools keys, context-menu blocks)
// that are violations by definition and bypass debouncing.
//
// Unlike the polling adapters it produces nothing on its own; the host calls
// Report. It still participates in the adapter lifecycle so reports arriving
// outside an active window are dropped at the inlet.
type Inlet struct {
	target Target

	mu     sync.Mutex
	active bool
}

// NewInlet creates the reported-event inlet.
func NewInlet(target Target) *Inlet {
	return &Inlet{target: target}
}

// Name implements proctor.Adapter.
func (i *Inlet) Name() string { return "reported" }

// Start implements proctor.Adapter. The inlet has no probe to acquire.
func (i *Inlet) Start(context.Context) error {
	i.mu.Lock()
	i.active = true
	i.mu.Unlock()
	return nil
}

// Stop implements proctor.Adapter.
func (i *Inlet) Stop() error {
	i.mu.Lock()
	i.active = false
	i.mu.Unlock()
	i.target.SetAdapterAvailable(i.Name(), false)
	return nil
}

// Report forwards one externally detected event. Extra metadata keys are
// carried onto the resulting violation verbatim; the severity and
// description keys are reserved for the reporter's classification.
func (i *Inlet) Report(severity proctor.Severity, description string, extra map[string]string) {
	i.mu.Lock()
	active := i.active
	i.mu.Unlock()
	if !active {
		logging.Warn().Str("description", description).Msg("dropping report outside active session")
		return
	}

	meta := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		meta[k] = v
	}
	meta[proctor.MetaSeverity] = string(severity)
	meta[proctor.MetaDescription] = description

	i.target.Observe(proctor.Observation{
		Category:   proctor.CategoryReported,
		Magnitude:  1,
		Confidence: 1,
		Timestamp:  time.Now(),
		Metadata:   meta,
	})
}
