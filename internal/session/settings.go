// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// Settings is the controller's read-only view of user preferences. Reads
// happen at submit time, so a live config reload affects the next turn, not
// the one in flight.
type Settings interface {
	// DefaultModel is the model used when a turn does not name one.
	DefaultModel() string

	// StayAwakeEnabled controls whether a sleep inhibitor is held while a
	// reply streams.
	StayAwakeEnabled() bool

	// AutoRetrievalEnabled controls whether document retrieval is requested
	// for turns that do not set it explicitly.
	AutoRetrievalEnabled() bool
}

// StaticSettings is a fixed Settings value for tests and defaults.
type StaticSettings struct {
	Model     string
	StayAwake bool
	Retrieval bool
}

func (s StaticSettings) DefaultModel() string       { return s.Model }
func (s StaticSettings) StayAwakeEnabled() bool     { return s.StayAwake }
func (s StaticSettings) AutoRetrievalEnabled() bool { return s.Retrieval }
