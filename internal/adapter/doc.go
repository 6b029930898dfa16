// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// Package adapter contains the detector adapters that feed the proctoring
// engine: camera presence (face), microphone anomaly (voice), window focus,
// and the reported-event inlet.
//
// Adapters are deliberately thin. Classification is a black box behind the
// probe interfaces (FrameProbe, AudioProbe, FocusProbe); an adapter owns its
// probe handle exclusively, samples it on its own cadence, and pushes plain
// observations at the engine. Swapping a classifier never touches the
// engine, and a probe that fails to acquire degrades the session instead of
// failing it.
package adapter
