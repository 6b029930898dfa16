// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/proctor"
)

// Target is the engine-side surface adapters push into. *proctor.Session
// satisfies it; tests substitute a recorder.
type Target interface {
	// Observe ingests one raw observation.
	Observe(obs proctor.Observation)

	// SetAdapterAvailable records probe attachment state.
	SetAdapterAvailable(name string, ok bool)

	// ReportError surfaces a non-fatal degradation to the UI layer.
	ReportError(msg string)
}

// Config is the per-adapter configuration surface. Polling cadence is
// adapter state, not engine state: the engine treats whatever interval an
// adapter chooses as opaque.
type Config struct {
	// Enabled gates whether the adapter is registered at all.
	Enabled bool `json:"enabled"`

	// Interval is the polling cadence. Each adapter applies its own
	// category default when zero.
	Interval time.Duration `json:"interval"`
}

// poller drives a probe on a fixed cadence and pushes the resulting
// observations at the target. It implements proctor.Adapter.
//
// The poll loop runs on its own goroutine; Stop only cancels it and releases
// the probe, it never joins the loop, so it is safe to call from the
// observation path (the session stops adapters while terminating).
type poller struct {
	name     string
	interval time.Duration
	target   Target

	acquire func(ctx context.Context) error
	sample  func(ctx context.Context) (proctor.Observation, error)
	release func() error

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	teardown sync.Once
}

// Start acquires the probe and begins polling. The returned error means the
// probe could not attach; the session treats that as degradation, not
// failure.
func (p *poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if err := p.acquire(ctx); err != nil {
		return fmt.Errorf("%s probe: %w", p.name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true
	go p.loop(loopCtx)
	return nil
}

// Stop cancels the poll loop and releases the probe. The teardown runs
// exactly once even when Stop is called from multiple paths.
func (p *poller) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	var err error
	p.teardown.Do(func() {
		if cancel != nil {
			cancel()
		}
		err = p.release()
		p.target.SetAdapterAvailable(p.name, false)
	})
	return err
}

// Name returns the adapter name.
func (p *poller) Name() string {
	return p.name
}

func (p *poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce samples the probe and forwards the observation. Sample errors are
// transient by assumption: they are logged and surfaced once through the
// target, and polling continues.
func (p *poller) pollOnce(ctx context.Context) {
	obs, err := p.sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Warn().Err(err).Str("adapter", p.name).Msg("probe sample failed")
		p.target.ReportError(p.name + " sample failed: " + err.Error())
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	p.target.Observe(obs)
}
