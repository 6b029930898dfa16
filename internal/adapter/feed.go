// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package adapter

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/proctor"
)

// FeedConfig configures the observation feed.
type FeedConfig struct {
	// Enabled gates categories. Nil admits everything; otherwise only
	// categories mapped to true pass through.
	Enabled map[proctor.Category]bool

	// VoiceSensitivity, when positive, treats incoming voice magnitudes as
	// raw variance and rescales them to the variance-over-sensitivity ratio
	// the aggregator expects.
	VoiceSensitivity float64
}

// Feed ingests newline-delimited JSON observations from a reader, usually
// the stdout of a host-side detector process piped into the daemon. Each
// line is one observation object; malformed lines are logged and skipped so
// a glitching detector cannot stall the feed.
type Feed struct {
	target Target
	reader io.Reader
	cfg    FeedConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	teardown sync.Once
}

// NewFeed creates the observation feed adapter.
func NewFeed(r io.Reader, target Target, cfg FeedConfig) *Feed {
	return &Feed{target: target, reader: r, cfg: cfg}
}

// Name implements proctor.Adapter.
func (f *Feed) Name() string { return "feed" }

// Start implements proctor.Adapter.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.started = true
	go f.loop(loopCtx)
	return nil
}

// Stop implements proctor.Adapter. A feed blocked in a read unblocks on the
// next line or on reader EOF; Stop only guarantees no further observations
// are forwarded.
func (f *Feed) Stop() error {
	f.mu.Lock()
	cancel := f.cancel
	started := f.started
	f.mu.Unlock()

	if !started {
		return nil
	}
	f.teardown.Do(func() {
		if cancel != nil {
			cancel()
		}
		f.target.SetAdapterAvailable(f.Name(), false)
	})
	return nil
}

func (f *Feed) loop(ctx context.Context) {
	scanner := bufio.NewScanner(f.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var obs proctor.Observation
		if err := json.Unmarshal(line, &obs); err != nil {
			logging.Warn().Err(err).Msg("skipping malformed feed line")
			continue
		}
		if f.cfg.Enabled != nil && !f.cfg.Enabled[obs.Category] {
			continue
		}
		if obs.Category == proctor.CategoryVoice && f.cfg.VoiceSensitivity > 0 {
			obs.Magnitude /= f.cfg.VoiceSensitivity
		}
		if obs.Timestamp.IsZero() {
			obs.Timestamp = time.Now()
		}
		f.target.Observe(obs)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("observation feed failed")
		f.target.ReportError("observation feed failed: " + err.Error())
	}
	f.target.SetAdapterAvailable(f.Name(), false)
}
