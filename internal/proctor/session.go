// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/metrics"
)

// sinkTimeout bounds each asynchronous sink delivery attempt.
const sinkTimeout = 5 * time.Second

// SessionConfig configures a Session at construction.
type SessionConfig struct {
	// SessionID identifies this proctoring session. Generated when empty.
	SessionID string

	// UserID identifies the candidate under assessment.
	UserID string

	// Engine holds the aggregator and termination thresholds.
	Engine Config

	// Clock overrides time.Now; tests use a manual clock.
	Clock func() time.Time

	// Callbacks are the optional UI-layer hooks.
	Callbacks Callbacks

	// Sinks receive violations and the terminal SecurityEvent. Delivery is
	// asynchronous; the session never blocks on a sink.
	Sinks []EventSink
}

// Session is the lifecycle owner wiring detector adapters to the violation
// aggregator and exposing status and controls. It exclusively owns the
// SessionState field: no other component writes it.
//
// The original engine ran on a single-threaded cooperative scheduler, which
// made run-to-completion processing free. Here every mutating path (Observe,
// Stop, Reset, termination) is serialized behind one mutex, preserving the
// properties that depend on it: rate-limit windows see a consistent
// sequence, stop acts as a barrier, and termination fires exactly once.
type Session struct {
	id     string
	userID string
	now    func() time.Time

	mu        sync.Mutex
	state     SessionState
	startedAt time.Time
	agg       *Aggregator
	policy    *TerminationPolicy
	adapters  []Adapter
	available map[string]bool
	stopOnce  sync.Once

	callbacks Callbacks
	sinks     []EventSink
}

// NewSession creates a session in the uninitialized state.
func NewSession(cfg SessionConfig) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Session{
		id:        cfg.SessionID,
		userID:    cfg.UserID,
		now:       clock,
		state:     StateUninitialized,
		agg:       NewAggregator(cfg.Engine, clock),
		policy:    NewTerminationPolicy(cfg.Engine),
		available: make(map[string]bool),
		callbacks: cfg.Callbacks,
		sinks:     cfg.Sinks,
	}
	metrics.SetSessionState(string(s.state))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RegisterAdapter adds a detector adapter. Must be called before Initialize;
// registrations after initialization are ignored with a warning.
func (s *Session) RegisterAdapter(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		logging.Warn().Str("adapter", a.Name()).Msg("ignoring adapter registered after initialization")
		return
	}
	s.adapters = append(s.adapters, a)
	s.available[a.Name()] = false
}

// Initialize transitions the session to active and starts every registered
// adapter. Adapter failures degrade rather than abort: a probe that cannot
// attach is reported through OnError and the session continues with the
// remaining adapters. Calling Initialize on an already-initialized session
// is a no-op that logs a warning.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		logging.Warn().Str("state", string(state)).Msg("initialize called on already-initialized session")
		return nil
	}
	s.state = StateActive
	s.startedAt = s.now()
	adapters := make([]Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	metrics.SetSessionState(string(StateActive))
	logging.Info().Str("session_id", s.id).Int("adapters", len(adapters)).Msg("session initialized")

	// Fan out with independent failure: one adapter's probe acquisition
	// must not prevent the others from attaching.
	for _, a := range adapters {
		if err := a.Start(ctx); err != nil {
			s.SetAdapterAvailable(a.Name(), false)
			s.emitError("adapter " + a.Name() + " unavailable: " + err.Error())
			logging.Error().Err(err).Str("adapter", a.Name()).Msg("adapter failed to start, continuing degraded")
			continue
		}
		s.SetAdapterAvailable(a.Name(), true)
	}
	return nil
}

// Observe ingests one raw observation. It is the single entry point adapters
// push into; processing runs to completion under the session lock before the
// next observation is admitted. Observations arriving after Stop or
// termination are discarded: stop is a barrier.
func (s *Session) Observe(obs Observation) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}

	metrics.ObservationsTotal.WithLabelValues(string(obs.Category)).Inc()
	v, cause := s.agg.Ingest(obs)
	if v == nil {
		s.mu.Unlock()
		metrics.ObservationsDropped.WithLabelValues(string(obs.Category), string(cause)).Inc()
		return
	}

	accepted := v.clone()
	risk := s.agg.Risk()

	reason, terminate := s.policy.Decide(s.agg.violations)
	var ev *SecurityEvent
	if terminate {
		s.state = StateTerminated
		ev = s.buildEventLocked(true, reason)
	}
	s.mu.Unlock()

	metrics.ViolationsTotal.WithLabelValues(string(accepted.Category), string(accepted.Severity)).Inc()
	metrics.SetRiskLevel(string(risk))
	logging.Info().
		Str("session_id", s.id).
		Str("category", string(accepted.Category)).
		Str("severity", string(accepted.Severity)).
		Str("risk", string(risk)).
		Msg("violation accepted")

	s.dispatchViolation(accepted)
	if s.callbacks.OnViolation != nil {
		s.callbacks.OnViolation(accepted)
	}

	if terminate {
		s.terminate(reason, ev)
	}
}

// terminate finishes a termination decided under the lock: tear down the
// adapters, emit the single SecurityEvent, then fire OnTermination. Runs on
// the goroutine that processed the deciding observation.
func (s *Session) terminate(reason string, ev *SecurityEvent) {
	metrics.SetSessionState(string(StateTerminated))
	metrics.TerminationsTotal.WithLabelValues(reason).Inc()
	logging.Warn().Str("session_id", s.id).Str("reason", reason).Msg("session terminated")

	s.stopAdapters()
	s.dispatchEvent(ev)
	if s.callbacks.OnTermination != nil {
		s.callbacks.OnTermination(reason)
	}
}

// Stop transitions an active session to stopped, cancels all adapters and
// emits the terminal SecurityEvent. Stopping a session that is already
// stopped or terminated has no effect. Stop is irreversible.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	ev := s.buildEventLocked(false, "")
	s.mu.Unlock()

	metrics.SetSessionState(string(StateStopped))
	logging.Info().Str("session_id", s.id).Msg("session stopped")

	s.stopAdapters()
	s.dispatchEvent(ev)
}

// stopAdapters signals teardown to every adapter. Each adapter guards its
// own teardown to run exactly once, so repeated stops are safe.
func (s *Session) stopAdapters() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		adapters := make([]Adapter, len(s.adapters))
		copy(adapters, s.adapters)
		s.mu.Unlock()

		for _, a := range adapters {
			if err := a.Stop(); err != nil {
				logging.Error().Err(err).Str("adapter", a.Name()).Msg("adapter teardown failed")
			}
			s.SetAdapterAvailable(a.Name(), false)
		}
	})
}

// Reset clears the violation sequence and detection counters without
// changing the session state. It is idempotent and does not un-terminate a
// terminated session: the policy's decision, once made, is immutable.
func (s *Session) Reset() {
	s.mu.Lock()
	s.agg.Reset()
	risk := s.agg.Risk()
	s.mu.Unlock()

	metrics.SetRiskLevel(string(risk))
	logging.Info().Str("session_id", s.id).Msg("session counters reset")
}

// Status returns an immutable copy-on-read snapshot. Mutating the returned
// value never affects internal state.
func (s *Session) Status() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make(map[string]bool, len(s.available))
	for k, v := range s.available {
		adapters[k] = v
	}
	return SessionSnapshot{
		SessionID:  s.id,
		UserID:     s.userID,
		State:      s.state,
		Violations: s.agg.Violations(),
		RiskLevel:  s.agg.Risk(),
		Stats:      s.agg.Stats(),
		Adapters:   adapters,
		StartedAt:  s.startedAt,
		Reason:     s.policy.Reason(),
	}
}

// SetAdapterAvailable records an adapter's attachment state. Adapters call
// this when their probe attaches, degrades, or is released.
func (s *Session) SetAdapterAvailable(name string, ok bool) {
	s.mu.Lock()
	s.available[name] = ok
	s.mu.Unlock()

	v := 0.0
	if ok {
		v = 1.0
	}
	metrics.AdapterAvailable.WithLabelValues(name).Set(v)
}

// ReportError surfaces an adapter-level degradation through OnError without
// touching session state. Exposed for adapters that fail mid-session.
func (s *Session) ReportError(msg string) {
	s.emitError(msg)
}

func (s *Session) emitError(msg string) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(msg)
	}
}

// buildEventLocked assembles the terminal SecurityEvent. Caller holds the
// session lock, so the violations snapshot is consistent and fully appended.
func (s *Session) buildEventLocked(terminated bool, reason string) *SecurityEvent {
	now := s.now()
	var duration int64
	if !s.startedAt.IsZero() {
		duration = now.Sub(s.startedAt).Milliseconds()
	}
	return &SecurityEvent{
		ID:         uuid.New().String(),
		SessionID:  s.id,
		UserID:     s.userID,
		Violations: s.agg.Violations(),
		RiskLevel:  s.agg.Risk(),
		Timestamp:  now,
		DurationMs: duration,
		Terminated: terminated,
		Reason:     reason,
	}
}

// dispatchViolation fans an accepted violation out to every sink without
// blocking the observation path.
func (s *Session) dispatchViolation(v Violation) {
	for _, sink := range s.sinks {
		go func(sink EventSink) {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := sink.RecordViolation(ctx, s.id, v); err != nil {
				metrics.SinkDeliveries.WithLabelValues(sink.Name(), "failure").Inc()
				logging.Error().Err(err).Str("sink", sink.Name()).Msg("violation delivery failed")
				return
			}
			metrics.SinkDeliveries.WithLabelValues(sink.Name(), "success").Inc()
		}(sink)
	}
}

// dispatchEvent fans the terminal SecurityEvent out to every sink. Emitted
// exactly once per session, at stop or termination. Delivery failure is the
// sink's concern; the engine does not retry.
func (s *Session) dispatchEvent(ev *SecurityEvent) {
	for _, sink := range s.sinks {
		go func(sink EventSink) {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := sink.RecordEvent(ctx, ev); err != nil {
				metrics.SinkDeliveries.WithLabelValues(sink.Name(), "failure").Inc()
				logging.Error().Err(err).Str("sink", sink.Name()).Msg("event delivery failed")
				return
			}
			metrics.SinkDeliveries.WithLabelValues(sink.Name(), "success").Inc()
		}(sink)
	}
}
