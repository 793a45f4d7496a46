// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives one conversation turn at a time against the backend.
//
// The Controller is a small state machine: Idle, Submitting (request sent, no
// event yet), Receiving (events arriving), and Cancelling (stop requested,
// stream not yet wound down). At most one turn is in flight per controller;
// Submit while busy is rejected rather than queued.
//
// Streamed content is never lost. Whatever ends a turn, whether completion,
// failure, or user cancel, any accumulated partial reply is promoted into the
// transcript with an origin mark saying how the turn ended. A turn that
// produced nothing leaves no trace beyond the user's message.
package session
