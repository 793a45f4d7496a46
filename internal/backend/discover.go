// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"time"
)

// =============================================================================
// DISCOVERY
// =============================================================================

// DiscoverProviders asks the backend to probe for every reachable inference
// provider and returns the set it found.
func (c *Client) DiscoverProviders(ctx context.Context) ([]ProviderRecord, error) {
	var result DiscoverResponse
	if err := c.getJSON(ctx, "/providers/any/.discover", &result); err != nil {
		return nil, err
	}
	return result.Providers, nil
}

// ListModels fetches the model catalog across all known providers.
func (c *Client) ListModels(ctx context.Context) ([]ModelRecord, error) {
	var result ListModelsResponse
	if err := c.getJSON(ctx, "/providers/any/any/models", &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// =============================================================================
// RETRY-UNTIL-SUCCESS
// =============================================================================

// DiscoverProvidersUntil retries provider discovery until an attempt succeeds
// or the context is done. Each attempt is a fresh request; failures are
// swallowed because at startup the backend may still be binding its port.
func (c *Client) DiscoverProvidersUntil(ctx context.Context) ([]ProviderRecord, error) {
	return retryUntil(ctx, c.config.AttemptInterval, func() ([]ProviderRecord, error) {
		return c.DiscoverProviders(ctx)
	})
}

// ListModelsUntil retries the model listing until an attempt succeeds or the
// context is done.
func (c *Client) ListModelsUntil(ctx context.Context) ([]ModelRecord, error) {
	return retryUntil(ctx, c.config.AttemptInterval, func() ([]ModelRecord, error) {
		return c.ListModels(ctx)
	})
}

// retryUntil runs fn until it succeeds, pausing interval between attempts.
// The only terminal failure is context cancellation.
func retryUntil[T any](ctx context.Context, interval time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}
}
