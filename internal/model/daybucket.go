// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// DAY BUCKETS
// =============================================================================

// Day-bucket labels for the recency groups the sequence list is sorted into.
const (
	BucketToday     = "Today"
	BucketYesterday = "Yesterday"
	BucketWeek      = "Previous 7 Days"
	BucketMonth     = "Previous 30 Days"
)

// BucketCache maps a timestamp's calendar day to its display bucket. Label
// computation walks the calendar, so results are memoized per day. The cache
// is keyed by day; cardinality is bounded by the sequence history's age.
type BucketCache struct {
	mu     sync.Mutex
	now    func() time.Time
	labels map[string]string
}

// NewBucketCache creates an empty bucket cache.
func NewBucketCache() *BucketCache {
	return &BucketCache{
		now:    time.Now,
		labels: make(map[string]string),
	}
}

// Label returns the display bucket for a timestamp.
func (b *BucketCache) Label(t time.Time) string {
	key := t.Format("2006-01-02")

	b.mu.Lock()
	defer b.mu.Unlock()

	if label, ok := b.labels[key]; ok {
		return label
	}
	label := b.compute(t)
	b.labels[key] = label
	return label
}

// Reset clears memoized labels. Called when the calendar day rolls over,
// since every relative label shifts.
func (b *BucketCache) Reset() {
	b.mu.Lock()
	b.labels = make(map[string]string)
	b.mu.Unlock()
}

// compute derives the bucket for t. Caller holds the lock.
func (b *BucketCache) compute(t time.Time) string {
	now := b.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	switch days := int(today.Sub(day).Hours() / 24); {
	case days <= 0:
		return BucketToday
	case days == 1:
		return BucketYesterday
	case days <= 7:
		return BucketWeek
	case days <= 30:
		return BucketMonth
	case t.Year() == now.Year():
		return t.Format("January")
	default:
		return t.Format("2006")
	}
}
