// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// =============================================================================
// ORIGIN
// =============================================================================

// Origin records how an assistant message came to exist. A message promoted
// from an interrupted stream is kept but marked, so the UI can distinguish a
// complete answer from a fragment.
type Origin int

const (
	// OriginComplete marks a reply whose stream finished normally.
	OriginComplete Origin = iota

	// OriginErrored marks a partial reply preserved after a stream failure.
	OriginErrored

	// OriginCanceled marks a partial reply preserved after the user stopped
	// the turn.
	OriginCanceled
)

func (o Origin) String() string {
	switch o {
	case OriginComplete:
		return "complete"
	case OriginErrored:
		return "errored"
	case OriginCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single completed message in a sequence.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Origin    Origin    `json:"origin,omitempty"`
	Model     string    `json:"model,omitempty"`

	// Timing measured while this message streamed in. Zero on user and
	// error messages.
	TTFT            time.Duration `json:"ttft,omitempty"`
	TokensPerSecond float64       `json:"tokens_per_second,omitempty"`
}

// NewUserMessage creates a user message timestamped now.
func NewUserMessage(content string) *Message {
	return &Message{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewErrorMessage creates an error-role message describing a failed turn.
// Error messages are part of the transcript, not transient status text.
func NewErrorMessage(description string) *Message {
	return &Message{
		Role:      RoleError,
		Content:   description,
		CreatedAt: time.Now(),
	}
}

// IsPartial reports whether this message is a preserved fragment rather than
// a complete reply.
func (m *Message) IsPartial() bool {
	return m.Role == RoleAssistant && m.Origin != OriginComplete
}

// =============================================================================
// PENDING RESPONSE
// =============================================================================

// PendingResponse accumulates an in-flight model reply, fragment by fragment.
// It is owned by a single streaming turn and is not safe for concurrent use.
type PendingResponse struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content strings.Builder

	model      string
	startedAt  time.Time
	firstToken time.Time
	fragments  int
}

// NewPendingResponse creates an empty pending response for a turn.
func NewPendingResponse(model string) *PendingResponse {
	return &PendingResponse{
		model:     model,
		startedAt: time.Now(),
	}
}

// Append adds a content fragment in arrival order.
func (p *PendingResponse) Append(fragment string) {
	if fragment == "" {
		return
	}
	if p.firstToken.IsZero() {
		p.firstToken = time.Now()
	}
	p.content.WriteString(fragment)
	p.fragments++
}

// Content returns everything accumulated so far.
func (p *PendingResponse) Content() string {
	return p.content.String()
}

// Len returns the accumulated length in bytes.
func (p *PendingResponse) Len() int {
	return p.content.Len()
}

// Promote converts the accumulated content into a Message with the given
// origin. Returns ok=false when nothing was accumulated; an empty pending
// response never becomes a message, whatever ended the turn.
func (p *PendingResponse) Promote(origin Origin) (*Message, bool) {
	if p.content.Len() == 0 {
		return nil, false
	}
	return &Message{
		Role:            RoleAssistant,
		Content:         p.content.String(),
		CreatedAt:       time.Now(),
		Origin:          origin,
		Model:           p.model,
		TTFT:            p.TTFT(),
		TokensPerSecond: p.FragmentsPerSecond(),
	}, true
}

// TTFT returns the time from turn start to the first content fragment, or 0
// when no content has arrived.
func (p *PendingResponse) TTFT() time.Duration {
	if p.firstToken.IsZero() {
		return 0
	}
	return p.firstToken.Sub(p.startedAt)
}

// FragmentsPerSecond returns the observed fragment arrival rate.
func (p *PendingResponse) FragmentsPerSecond() float64 {
	if p.firstToken.IsZero() {
		return 0
	}
	elapsed := time.Since(p.firstToken).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.fragments) / elapsed
}
