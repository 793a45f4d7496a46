// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/ehallam/strand/internal/backend"
)

// =============================================================================
// SEQUENCE
// =============================================================================

// Sequence holds one conversation with its history and metadata.
//
// A sequence starts life unsaved (ServerID 0) and acquires its server
// identity on the first successful submission. After a fork the same
// in-memory Sequence is re-pointed at a new server identity wholesale.
type Sequence struct {
	// ServerID is the backend's identifier, 0 while unsaved.
	ServerID int64 `json:"server_id"`

	Label  string `json:"label,omitempty"`
	Pinned bool   `json:"pinned,omitempty"`

	// Leaf is nil when the backend has not reported branch position.
	Leaf *bool `json:"leaf,omitempty"`

	// Model is the model used for the most recent turn.
	Model string `json:"model,omitempty"`

	Messages []*Message `json:"messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSequence creates an empty unsaved sequence.
func NewSequence() *Sequence {
	now := time.Now()
	return &Sequence{
		Messages:  make([]*Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Saved reports whether the sequence has a server identity.
func (s *Sequence) Saved() bool {
	return s.ServerID != 0
}

// Append adds a message to the history and bumps the update time.
func (s *Sequence) Append(msg *Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// LastMessage returns the most recent message, or nil for an empty sequence.
func (s *Sequence) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// MessageCount returns the number of messages in the sequence.
func (s *Sequence) MessageCount() int {
	return len(s.Messages)
}

// Adopt replaces this sequence's identity and history with the server's
// record. Used after a fork: local guesses about the transcript are
// discarded in favor of the authoritative copy.
func (s *Sequence) Adopt(rec *backend.SequenceRecord) {
	adopted := SequenceFromRecord(rec)
	*s = *adopted
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// SequenceFromRecord builds a Sequence from a backend record.
func SequenceFromRecord(rec *backend.SequenceRecord) *Sequence {
	seq := &Sequence{
		ServerID:  rec.SequenceID,
		Label:     rec.Label,
		Pinned:    rec.Pinned,
		Leaf:      rec.IsLeaf,
		Model:     rec.Model,
		Messages:  make([]*Message, 0, len(rec.Messages)),
		UpdatedAt: rec.UpdatedAt,
	}
	for _, m := range rec.Messages {
		seq.Messages = append(seq.Messages, &Message{
			Role:      Role(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	if len(rec.Messages) > 0 {
		seq.CreatedAt = rec.Messages[0].CreatedAt
	} else {
		seq.CreatedAt = rec.UpdatedAt
	}
	return seq
}

// ToRecord converts the sequence back to a backend record for local
// snapshotting.
func (s *Sequence) ToRecord() backend.SequenceRecord {
	rec := backend.SequenceRecord{
		SequenceID: s.ServerID,
		Label:      s.Label,
		Pinned:     s.Pinned,
		IsLeaf:     s.Leaf,
		Model:      s.Model,
		UpdatedAt:  s.UpdatedAt,
		Messages:   make([]backend.MessageRecord, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		rec.Messages = append(rec.Messages, backend.MessageRecord{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return rec
}
