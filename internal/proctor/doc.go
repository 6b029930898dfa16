// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// Package proctor implements the violation-aggregation and session-termination
// core of the proctoring engine.
//
// The data flow is: detector adapters push Observations into a Session; the
// Aggregator debounces and rate-limits them into immutable Violations; the
// risk model derives a RiskLevel from the violation set; the TerminationPolicy
// decides, at most once, whether the session must end. The Session owns the
// lifecycle (uninitialized -> active -> stopped | terminated), exposes a
// copy-on-read snapshot, and fans violations and the terminal SecurityEvent
// out to event sinks without ever blocking on them.
//
// All mutating paths are serialized behind a single mutex inside Session.
// The Aggregator and TerminationPolicy are deliberately lock-free and must
// only be driven through Session (or single-threaded tests).
package proctor
