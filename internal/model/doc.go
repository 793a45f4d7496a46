// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sequences and messages.
//
// This package defines the core domain types used throughout the application
// for representing conversation sequences, streamed responses, and the
// provider/model catalog.
//
// # Key Types
//
//   - Sequence: a conversation, optionally persisted server-side
//   - Message: a single completed message with role and origin
//   - PendingResponse: an in-flight model reply accumulating fragments
//   - Catalog: the discovered providers and models, with client tokens
//   - BucketCache: day-bucket labels for grouping sequences by recency
package model
