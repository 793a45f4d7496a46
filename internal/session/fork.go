// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/ehallam/strand/internal/backend"
	"github.com/ehallam/strand/internal/model"
)

// ForkResolver fetches the authoritative state of a forked sequence.
//
// When the backend reports a new sequence id on a done event, the server has
// rehomed the conversation under a fresh identity, typically because the user
// extended from a non-leaf point and the branch was materialized as its own
// sequence. The local transcript is then a guess; the resolver fetches the
// server's copy so the session can adopt it wholesale.
type ForkResolver struct {
	client *backend.Client
}

// NewForkResolver creates a resolver over the given client.
func NewForkResolver(client *backend.Client) *ForkResolver {
	return &ForkResolver{client: client}
}

// Resolve fetches the sequence now living under newID.
func (r *ForkResolver) Resolve(ctx context.Context, newID int64) (*model.Sequence, error) {
	rec, err := r.client.GetSequence(ctx, newID)
	if err != nil {
		return nil, err
	}
	return model.SequenceFromRecord(rec), nil
}
