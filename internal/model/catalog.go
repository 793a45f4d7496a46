// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehallam/strand/internal/backend"
)

// =============================================================================
// CATALOG RECORDS
// =============================================================================

// Provider is a discovered inference provider.
type Provider struct {
	Type string
	ID   string
}

// Model is a catalog entry for one discovered model.
type Model struct {
	// ClientToken is a client-generated stable handle for this entry. The
	// server identifier can change across discovery rounds; the token does
	// not, so UI selections survive a refresh.
	ClientToken string

	ServerID     string
	DisplayName  string
	ProviderType string
	ProviderID   string
	FirstSeen    time.Time
	LastSeen     time.Time

	// Usage statistics, zero until observed.
	TokensPerSec float64
	RecentEvents int
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog holds the discovered providers and models. Safe for concurrent use;
// readers get copies, never internal slices.
type Catalog struct {
	mu        sync.RWMutex
	providers []Provider
	models    []Model
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// ReplaceProviders swaps in a fresh discovery result.
func (c *Catalog) ReplaceProviders(records []backend.ProviderRecord) {
	providers := make([]Provider, 0, len(records))
	for _, r := range records {
		providers = append(providers, Provider{Type: r.Type, ID: r.ID})
	}

	c.mu.Lock()
	c.providers = providers
	c.mu.Unlock()
}

// ReplaceModels swaps in a fresh model listing. Entries whose server
// identifier matches an existing entry keep their ClientToken; new entries
// get a fresh one.
func (c *Catalog) ReplaceModels(records []backend.ModelRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := make(map[string]string, len(c.models))
	for _, m := range c.models {
		existing[m.ServerID] = m.ClientToken
	}

	models := make([]Model, 0, len(records))
	for _, r := range records {
		token, ok := existing[r.ID]
		if !ok {
			token = uuid.New().String()
		}
		models = append(models, Model{
			ClientToken:  token,
			ServerID:     r.ID,
			DisplayName:  r.DisplayName,
			ProviderType: r.ProviderType,
			ProviderID:   r.ProviderID,
			FirstSeen:    r.FirstSeen,
			LastSeen:     r.LastSeen,
			TokensPerSec: r.TokensPerSec,
			RecentEvents: r.RecentEvents,
		})
	}
	c.models = models
}

// Providers returns a copy of the current provider list.
func (c *Catalog) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Models returns a copy of the current model list.
func (c *Catalog) Models() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// ModelByToken looks up a model by its client token.
func (c *Catalog) ModelByToken(token string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.models {
		if m.ClientToken == token {
			return m, true
		}
	}
	return Model{}, false
}

// ModelByDisplayName looks up a model by its human-readable identifier.
func (c *Catalog) ModelByDisplayName(name string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.models {
		if m.DisplayName == name {
			return m, true
		}
	}
	return Model{}, false
}
