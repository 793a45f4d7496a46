// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package power keeps the machine awake while a model reply is streaming.
//
// A long local generation looks idle to the OS: no input, little foreground
// CPU from this process. Without an inhibitor the machine can sleep mid-turn
// and the stream dies. Acquire takes a platform inhibitor and returns a
// Token; releasing the token, exactly once per turn, drops the inhibitor.
//
// Platform backends: caffeinate on macOS, systemd-inhibit on Linux,
// SetThreadExecutionState on Windows. When no backend is available Acquire
// degrades to a no-op token rather than failing the turn.
package power
