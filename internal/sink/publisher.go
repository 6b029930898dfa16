// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package sink

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/invigilo/invigilo/internal/proctor"
)

// Default topics for the publisher sink.
const (
	TopicViolations = "proctor.violations"
	TopicEvents     = "proctor.events"
)

// PublisherSink fans violations and security events out over a Watermill
// publisher. The host decides the transport; the in-process GoChannel pub/sub
// is the usual choice, feeding live dashboards and recorders without the
// engine knowing about them.
type PublisherSink struct {
	publisher      message.Publisher
	violationTopic string
	eventTopic     string
}

// PublisherConfig configures the sink's topics. Empty fields get the package
// defaults.
type PublisherConfig struct {
	ViolationTopic string `json:"violation_topic"`
	EventTopic     string `json:"event_topic"`
}

// NewPublisherSink wraps an existing publisher. The caller retains ownership
// of the publisher and closes it after the session is done.
func NewPublisherSink(pub message.Publisher, cfg PublisherConfig) *PublisherSink {
	violationTopic := cfg.ViolationTopic
	if violationTopic == "" {
		violationTopic = TopicViolations
	}
	eventTopic := cfg.EventTopic
	if eventTopic == "" {
		eventTopic = TopicEvents
	}
	return &PublisherSink{
		publisher:      pub,
		violationTopic: violationTopic,
		eventTopic:     eventTopic,
	}
}

// Name implements proctor.EventSink.
func (s *PublisherSink) Name() string { return "publisher" }

// RecordViolation implements proctor.EventSink. The violation ID doubles as
// the message UUID so downstream consumers can deduplicate.
func (s *PublisherSink) RecordViolation(ctx context.Context, sessionID string, v proctor.Violation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	msg := message.NewMessage(v.ID, data)
	msg.Metadata.Set("session_id", sessionID)
	msg.Metadata.Set("category", string(v.Category))
	msg.Metadata.Set("severity", string(v.Severity))

	return s.publisher.Publish(s.violationTopic, msg)
}

// RecordEvent implements proctor.EventSink.
func (s *PublisherSink) RecordEvent(ctx context.Context, ev *proctor.SecurityEvent) error {
	data, err := ev.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(ev.ID, data)
	msg.Metadata.Set("session_id", ev.SessionID)
	msg.Metadata.Set("risk_level", string(ev.RiskLevel))
	if ev.Terminated {
		msg.Metadata.Set("terminated", "true")
	}

	return s.publisher.Publish(s.eventTopic, msg)
}
