// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the strand engine.
//
// It contains:
//   - Atomic file writing with fsync, used by the config and snapshot layers
//     so a crash never leaves a half-written file behind.
//   - Rune-safe string truncation for labels and previews.
//
// Nothing in this package knows about the backend protocol or the session
// state machine; it must stay dependency-free.
package util
