// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// Package sink implements the delivery backends for accepted violations and
// terminal security events: an embedded BadgerDB audit store, an outbound
// webhook with circuit breaker and rate limiting, and a Watermill publisher
// for in-process fan-out.
//
// Sinks are passive. The session dispatches to them asynchronously and never
// retries; a sink that wants durability under failure owns that itself (the
// webhook sink's breaker exists to shed load from a dead endpoint, not to
// queue for it).
package sink
