// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// manualClock advances only when told to, making durations and rate-limit
// windows deterministic.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: testEpoch}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type fakeAdapter struct {
	name     string
	failWith error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Start(context.Context) error {
	a.starts.Add(1)
	return a.failWith
}

func (a *fakeAdapter) Stop() error {
	a.stops.Add(1)
	return nil
}

type fakeSink struct {
	name       string
	failWith   error
	violations chan Violation
	events     chan *SecurityEvent
}

func newFakeSink(name string) *fakeSink {
	return &fakeSink{
		name:       name,
		violations: make(chan Violation, 64),
		events:     make(chan *SecurityEvent, 8),
	}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) RecordViolation(_ context.Context, _ string, v Violation) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.violations <- v
	return nil
}

func (s *fakeSink) RecordEvent(_ context.Context, ev *SecurityEvent) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.events <- ev
	return nil
}

func awaitEvent(t *testing.T, sink *fakeSink) *SecurityEvent {
	t.Helper()
	select {
	case ev := <-sink.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for security event")
		return nil
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	cam := &fakeAdapter{name: "camera"}
	mic := &fakeAdapter{name: "microphone"}
	s := NewSession(SessionConfig{UserID: "u-1"})
	s.RegisterAdapter(cam)
	s.RegisterAdapter(mic)

	if got := s.Status().State; got != StateUninitialized {
		t.Fatalf("initial state = %q", got)
	}

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	status := s.Status()
	if status.State != StateActive {
		t.Fatalf("state after Initialize = %q", status.State)
	}
	if !status.Adapters["camera"] || !status.Adapters["microphone"] {
		t.Errorf("adapters not attached: %+v", status.Adapters)
	}

	// Idempotent guard: a second Initialize must not re-wire adapters.
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if got := cam.starts.Load(); got != 1 {
		t.Errorf("camera started %d times, want 1", got)
	}

	s.Stop()
	if got := s.Status().State; got != StateStopped {
		t.Fatalf("state after Stop = %q", got)
	}
	if got := cam.stops.Load(); got != 1 {
		t.Errorf("camera stopped %d times, want 1", got)
	}

	// Stop is irreversible and repeat stops have no further effect.
	s.Stop()
	if got := cam.stops.Load(); got != 1 {
		t.Errorf("repeat Stop reached adapters: %d stops", got)
	}
	if got := s.Status().Adapters["camera"]; got {
		t.Error("camera still marked available after Stop")
	}
}

func TestSessionDegradesOnAdapterFailure(t *testing.T) {
	t.Parallel()

	var errMsgs []string
	cam := &fakeAdapter{name: "camera", failWith: errors.New("permission denied")}
	mic := &fakeAdapter{name: "microphone"}

	s := NewSession(SessionConfig{
		Callbacks: Callbacks{
			OnError: func(msg string) { errMsgs = append(errMsgs, msg) },
		},
	})
	s.RegisterAdapter(cam)
	s.RegisterAdapter(mic)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize must not fail on adapter errors: %v", err)
	}

	status := s.Status()
	if status.State != StateActive {
		t.Fatalf("state = %q, want active (partial-capability monitoring)", status.State)
	}
	if status.Adapters["camera"] {
		t.Error("failed adapter marked available")
	}
	if !status.Adapters["microphone"] {
		t.Error("healthy adapter not attached after sibling failure")
	}
	if len(errMsgs) != 1 {
		t.Fatalf("OnError calls = %d, want 1", len(errMsgs))
	}
}

// The concrete end-to-end scenario: debounce, accumulation, risk escalation,
// then critical termination.
func TestSessionScenario(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	var (
		mu           sync.Mutex
		seen         []Violation
		terminations []string
	)
	sink := newFakeSink("audit")

	s := NewSession(SessionConfig{
		UserID: "u-42",
		Clock:  clock.Now,
		Sinks:  []EventSink{sink},
		Callbacks: Callbacks{
			OnViolation: func(v Violation) {
				mu.Lock()
				seen = append(seen, v)
				mu.Unlock()
			},
			OnTermination: func(reason string) {
				mu.Lock()
				terminations = append(terminations, reason)
				mu.Unlock()
			},
		},
	})
	cam := &fakeAdapter{name: "camera"}
	s.RegisterAdapter(cam)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Four no-face observations: nothing fires.
	for i := 0; i < 4; i++ {
		s.Observe(obsAt(CategoryFace, 0, clock.Advance(3*time.Second)))
	}
	if got := len(s.Status().Violations); got != 0 {
		t.Fatalf("violations after 4 no-face samples = %d, want 0", got)
	}

	// The fifth fires one medium violation.
	s.Observe(obsAt(CategoryFace, 0, clock.Advance(3*time.Second)))
	status := s.Status()
	if got := len(status.Violations); got != 1 {
		t.Fatalf("violations = %d, want 1", got)
	}
	if status.Violations[0].Severity != SeverityMedium {
		t.Errorf("severity = %q, want medium", status.Violations[0].Severity)
	}

	// Three multi-face observations fire a high violation; risk is medium.
	for i := 0; i < 3; i++ {
		s.Observe(obsAt(CategoryFace, 2, clock.Advance(time.Second)))
	}
	status = s.Status()
	if got := len(status.Violations); got != 2 {
		t.Fatalf("violations = %d, want 2", got)
	}
	if status.RiskLevel != RiskMedium {
		t.Errorf("risk = %q, want medium", status.RiskLevel)
	}

	// One critical reported observation terminates the session.
	s.Observe(reportedAt(SeverityCritical, clock.Advance(time.Second)))

	status = s.Status()
	if status.State != StateTerminated {
		t.Fatalf("state = %q, want terminated", status.State)
	}
	if status.Reason != ReasonCritical {
		t.Errorf("reason = %q, want %q", status.Reason, ReasonCritical)
	}
	if status.RiskLevel != RiskCritical {
		t.Errorf("risk = %q, want critical", status.RiskLevel)
	}

	mu.Lock()
	if len(terminations) != 1 || terminations[0] != ReasonCritical {
		t.Errorf("terminations = %v, want exactly one %q", terminations, ReasonCritical)
	}
	if len(seen) != 3 {
		t.Errorf("OnViolation calls = %d, want 3", len(seen))
	}
	mu.Unlock()

	if got := cam.stops.Load(); got != 1 {
		t.Errorf("camera stops = %d, want 1", got)
	}

	ev := awaitEvent(t, sink)
	if !ev.Terminated || ev.Reason != ReasonCritical {
		t.Errorf("event = terminated %v reason %q", ev.Terminated, ev.Reason)
	}
	if len(ev.Violations) != 3 {
		t.Errorf("event violations = %d, want 3", len(ev.Violations))
	}
	if ev.UserID != "u-42" {
		t.Errorf("event user = %q", ev.UserID)
	}
}

func TestSessionTerminationIsFinal(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	var terminations atomic.Int32
	sink := newFakeSink("audit")

	s := NewSession(SessionConfig{
		Clock: clock.Now,
		Sinks: []EventSink{sink},
		Callbacks: Callbacks{
			OnTermination: func(string) { terminations.Add(1) },
		},
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Observe(reportedAt(SeverityCritical, clock.Advance(time.Second)))
	if got := s.Status().State; got != StateTerminated {
		t.Fatalf("state = %q", got)
	}
	awaitEvent(t, sink)

	// Mutations after termination have no effect: no second event, no
	// reason change, no state change.
	s.Observe(reportedAt(SeverityCritical, clock.Advance(2*time.Minute)))
	s.Stop()
	s.Observe(obsAt(CategoryFace, 0, clock.Advance(time.Second)))

	if got := terminations.Load(); got != 1 {
		t.Errorf("OnTermination calls = %d, want 1", got)
	}
	status := s.Status()
	if status.State != StateTerminated || status.Reason != ReasonCritical {
		t.Errorf("state/reason mutated: %q/%q", status.State, status.Reason)
	}
	select {
	case ev := <-sink.events:
		t.Errorf("second security event emitted: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionStopEmitsEvent(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	sink := newFakeSink("audit")
	s := NewSession(SessionConfig{UserID: "u-7", Clock: clock.Now, Sinks: []EventSink{sink}})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	clock.Advance(90 * time.Second)
	s.Stop()

	ev := awaitEvent(t, sink)
	if ev.Terminated {
		t.Error("clean stop marked terminated")
	}
	if ev.Reason != "" {
		t.Errorf("clean stop carries reason %q", ev.Reason)
	}
	if ev.DurationMs != (90 * time.Second).Milliseconds() {
		t.Errorf("duration = %dms, want 90000", ev.DurationMs)
	}
}

func TestSessionStopIsBarrier(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := NewSession(SessionConfig{Clock: clock.Now})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	// Observations that were queued before the stop but arrive after it
	// must not be processed.
	s.Observe(reportedAt(SeverityCritical, clock.Now()))
	status := s.Status()
	if len(status.Violations) != 0 {
		t.Errorf("violation processed after stop barrier")
	}
	if status.State != StateStopped {
		t.Errorf("state = %q", status.State)
	}
}

func TestSessionReset(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := NewSession(SessionConfig{Clock: clock.Now})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Observe(reportedAt(SeverityHigh, clock.Advance(time.Second)))
	s.Observe(obsAt(CategoryFace, 0, clock.Advance(time.Second)))
	if got := len(s.Status().Violations); got != 1 {
		t.Fatalf("setup violations = %d", got)
	}

	s.Reset()
	status := s.Status()
	if len(status.Violations) != 0 {
		t.Errorf("violations after reset = %d", len(status.Violations))
	}
	if status.Stats != (DetectionStats{}) {
		t.Errorf("stats after reset = %+v", status.Stats)
	}
	if status.State != StateActive {
		t.Errorf("reset changed state to %q", status.State)
	}
	if status.RiskLevel != RiskLow {
		t.Errorf("risk after reset = %q", status.RiskLevel)
	}

	// Idempotent: reset twice equals reset once.
	s.Reset()
	if got := s.Status(); len(got.Violations) != 0 || got.Stats != (DetectionStats{}) {
		t.Error("second reset changed state")
	}
}

func TestSessionResetDoesNotUnterminate(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := NewSession(SessionConfig{Clock: clock.Now})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Observe(reportedAt(SeverityCritical, clock.Advance(time.Second)))

	s.Reset()
	status := s.Status()
	if status.State != StateTerminated {
		t.Errorf("reset un-terminated the session: %q", status.State)
	}
	if status.Reason != ReasonCritical {
		t.Errorf("reset cleared the termination reason: %q", status.Reason)
	}
}

func TestSessionSnapshotIsolation(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := NewSession(SessionConfig{Clock: clock.Now})
	cam := &fakeAdapter{name: "camera"}
	s.RegisterAdapter(cam)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Observe(reportedAt(SeverityMedium, clock.Advance(time.Second)))

	snap := s.Status()
	snap.Violations[0].Severity = SeverityCritical
	snap.Adapters["camera"] = false
	snap.Stats.FaceSamples = 999

	fresh := s.Status()
	if fresh.Violations[0].Severity != SeverityMedium {
		t.Error("violation mutation leaked into session")
	}
	if !fresh.Adapters["camera"] {
		t.Error("adapter map mutation leaked into session")
	}
	if fresh.Stats.FaceSamples == 999 {
		t.Error("stats mutation leaked into session")
	}
}

func TestSessionZeroTolerance(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cfg := DefaultConfig()
	cfg.ZeroTolerance = true

	var reason string
	s := NewSession(SessionConfig{
		Engine: cfg,
		Clock:  clock.Now,
		Callbacks: Callbacks{
			OnTermination: func(r string) { reason = r },
		},
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Even a low-severity reported event ends the session immediately.
	s.Observe(reportedAt(SeverityLow, clock.Advance(time.Second)))
	if got := s.Status().State; got != StateTerminated {
		t.Fatalf("state = %q, want terminated", got)
	}
	if reason != ReasonZeroTolerance {
		t.Errorf("reason = %q, want %q", reason, ReasonZeroTolerance)
	}
}

func TestSessionSinkFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	failing := newFakeSink("broken")
	failing.failWith = errors.New("sink unavailable")

	s := NewSession(SessionConfig{Clock: clock.Now, Sinks: []EventSink{failing}})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Observe(reportedAt(SeverityCritical, clock.Advance(time.Second)))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a failing sink")
	}
	if got := s.Status().State; got != StateTerminated {
		t.Errorf("state = %q", got)
	}
}
