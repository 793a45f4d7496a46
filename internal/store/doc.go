// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides a local sqlite snapshot of the backend's sequence
// listing.
//
// The backend owns the data; the snapshot only makes the sequence list
// available instantly at startup and when the backend is down. Each refresh
// replaces the snapshot wholesale, so the store never merges and never
// diverges from the last listing it saw.
package store
