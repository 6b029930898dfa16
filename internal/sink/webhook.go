// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/proctor"
)

// payloadSource identifies this engine in outbound payloads.
const payloadSource = "invigilo"

// WebhookSink forwards violations and security events to an HTTP endpoint.
// A token-bucket limiter smooths delivery and a circuit breaker sheds load
// from an endpoint that keeps failing; while the breaker is open, deliveries
// fail fast instead of tying up dispatch goroutines.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout bounds a single delivery attempt. Defaults to 10s.
	Timeout time.Duration `json:"timeout"`

	// RatePerSecond and Burst shape the token bucket. Defaults: 5/s, burst 10.
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold uint32 `json:"failure_threshold"`

	// OpenTimeout is how long the breaker stays open before probing again.
	// Defaults to 30s.
	OpenTimeout time.Duration `json:"open_timeout"`
}

// WebhookPayload is the JSON envelope delivered to the endpoint. Exactly one
// of Violation and Event is set, matching EventType.
type WebhookPayload struct {
	EventType string                 `json:"event_type"` // violation, security_event
	SessionID string                 `json:"session_id"`
	Violation *proctor.Violation     `json:"violation,omitempty"`
	Event     *proctor.SecurityEvent `json:"event,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

// NewWebhookSink creates the webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	failures := cfg.FailureThreshold
	if failures == 0 {
		failures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "webhook-sink",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("sink", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook breaker state change")
		},
	})

	return &WebhookSink{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		breaker: breaker,
	}
}

// Name implements proctor.EventSink.
func (s *WebhookSink) Name() string { return "webhook" }

// RecordViolation implements proctor.EventSink.
func (s *WebhookSink) RecordViolation(ctx context.Context, sessionID string, v proctor.Violation) error {
	return s.deliver(ctx, WebhookPayload{
		EventType: "violation",
		SessionID: sessionID,
		Violation: &v,
		Timestamp: time.Now(),
		Source:    payloadSource,
	})
}

// RecordEvent implements proctor.EventSink.
func (s *WebhookSink) RecordEvent(ctx context.Context, ev *proctor.SecurityEvent) error {
	return s.deliver(ctx, WebhookPayload{
		EventType: "security_event",
		SessionID: ev.SessionID,
		Event:     ev,
		Timestamp: time.Now(),
		Source:    payloadSource,
	})
}

// BreakerState exposes the breaker state for the ops surface.
func (s *WebhookSink) BreakerState() string {
	return s.breaker.State().String()
}

func (s *WebhookSink) deliver(ctx context.Context, payload WebhookPayload) error {
	if s.url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, body)
	})
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
