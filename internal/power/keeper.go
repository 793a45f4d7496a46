// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package power

import (
	"sync"
)

// =============================================================================
// KEEPER
// =============================================================================

// Keeper hands out stay-awake tokens. One Keeper is shared by all session
// controllers; each streaming turn holds at most one token.
type Keeper struct {
	// inhibit starts a platform inhibitor and returns its release func.
	// Swappable for tests.
	inhibit func(reason string) (release func(), err error)
}

// NewKeeper creates a keeper using the platform inhibitor.
func NewKeeper() *Keeper {
	return &Keeper{inhibit: platformInhibit}
}

// Acquire starts an inhibitor and returns a token for it. The reason string
// is surfaced by OS tooling that lists active sleep inhibitors.
func (k *Keeper) Acquire(reason string) (*Token, error) {
	release, err := k.inhibit(reason)
	if err != nil {
		return nil, err
	}
	return &Token{release: release}, nil
}

// =============================================================================
// TOKEN
// =============================================================================

// Token represents one held sleep inhibitor. Release is idempotent; every
// exit path of a turn may call it without double-dropping.
type Token struct {
	once    sync.Once
	release func()
}

// Release drops the inhibitor. Safe to call more than once.
func (t *Token) Release() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}
