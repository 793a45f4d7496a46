// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for the model-serving sequences API.
package backend

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// MessagePayload is a message as sent to or received from the backend.
type MessagePayload struct {
	Role    string `json:"role,omitempty"` // "user", "assistant", "error"
	Content string `json:"content"`
}

// GenerationOptions carries per-request inference parameters.
type GenerationOptions struct {
	Temperature float64 `json:"temperature,omitempty"` // 0.0-2.0
	TopP        float64 `json:"top_p,omitempty"`       // 0.0-1.0
	MaxTokens   int     `json:"max_tokens,omitempty"`  // 0 = backend default
	Retrieval   bool    `json:"retrieval,omitempty"`   // enable document retrieval
}

// CreateSequenceRequest is the body for POST /sequences.
type CreateSequenceRequest struct {
	Message MessagePayload `json:"message"`
	Model   string         `json:"model,omitempty"`
}

// CreateSequenceResponse is the reply to POST /sequences.
type CreateSequenceResponse struct {
	SequenceID int64 `json:"sequence_id"`
}

// ContinueRequest is the body for POST /sequences/{id}/continue.
type ContinueRequest struct {
	Model   string             `json:"model,omitempty"`
	Options *GenerationOptions `json:"options,omitempty"`
}

// ExtendRequest is the body for POST /sequences/{id}/extend.
type ExtendRequest struct {
	Message MessagePayload     `json:"message"`
	Model   string             `json:"model,omitempty"`
	Options *GenerationOptions `json:"options,omitempty"`
}

// ListSequencesOptions are the filters for GET /sequences.
type ListSequencesOptions struct {
	// Limit caps the number of returned sequences (0 = backend default).
	Limit int

	// LookbackDays restricts results to sequences updated within the last N
	// days (0 = no restriction).
	LookbackDays int

	// PinnedOnly returns only pinned sequences.
	PinnedOnly bool
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// MessageRecord is a persisted message as returned by the backend.
type MessageRecord struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SequenceRecord is a persisted sequence as returned by the backend.
type SequenceRecord struct {
	SequenceID int64           `json:"sequence_id"`
	Label      string          `json:"label,omitempty"`
	Pinned     bool            `json:"pinned,omitempty"`
	IsLeaf     *bool           `json:"is_leaf,omitempty"` // absent when unknown
	Model      string          `json:"model,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Messages   []MessageRecord `json:"messages"`
}

// ListSequencesResponse is the reply to GET /sequences.
type ListSequencesResponse struct {
	Sequences []SequenceRecord `json:"sequences"`
}

// =============================================================================
// DISCOVERY TYPES
// =============================================================================

// ProviderRecord is a discovered inference provider.
type ProviderRecord struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DiscoverResponse is the reply to GET /providers/any/.discover.
type DiscoverResponse struct {
	Providers []ProviderRecord `json:"providers"`
}

// ModelRecord is a discovered model with optional usage statistics.
type ModelRecord struct {
	ID           string    `json:"id"`           // server identifier
	DisplayName  string    `json:"display_name"` // human-readable identifier
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	ProviderType string    `json:"provider_type"`
	ProviderID   string    `json:"provider_id"`

	// Usage statistics, absent until the backend has observed traffic.
	TokensPerSec float64 `json:"tokens_per_sec,omitempty"`
	RecentEvents int     `json:"recent_events,omitempty"`
}

// ListModelsResponse is the reply to GET /providers/any/any/models.
type ListModelsResponse struct {
	Models []ModelRecord `json:"models"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamEvent is one decoded event from a continue/extend stream.
// Any subset of the fields may be present on a given event.
type StreamEvent struct {
	// Status is free text displayed verbatim by the UI ("thinking...",
	// "searching documents", ...).
	Status string `json:"status,omitempty"`

	// Message carries an appended content fragment.
	Message *EventMessage `json:"message,omitempty"`

	// Done marks the final event of the stream.
	Done bool `json:"done,omitempty"`

	// NewSequenceID, when non-zero on a done event, reports that the
	// conversation now lives under a different persisted identity.
	NewSequenceID int64 `json:"new_sequence_id,omitempty"`

	// Stats is not part of the wire format; the stream reader stamps its
	// timing measurements onto the final event.
	Stats *StreamStats `json:"-"`
}

// Content returns the fragment carried by this event, or "".
func (e *StreamEvent) Content() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Content
}

// EventMessage is the message fragment inside a stream event.
type EventMessage struct {
	Content string `json:"content"`
}

// StreamChunk is the channel form of a stream event. The final chunk has
// either Done set or Err set, never both.
type StreamChunk struct {
	Event StreamEvent
	Err   error
}

// =============================================================================
// WIRE ERRORS
// =============================================================================

// apiError is the error body the backend returns on non-2xx responses.
type apiError struct {
	Error string `json:"error"`
}
