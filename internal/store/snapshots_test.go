// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ehallam/strand/internal/backend"
)

func openTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sequences.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id int64, label string, pinned bool, updated time.Time) backend.SequenceRecord {
	return backend.SequenceRecord{
		SequenceID: id,
		Label:      label,
		Pinned:     pinned,
		Model:      "llama3",
		UpdatedAt:  updated,
		Messages: []backend.MessageRecord{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	}
}

func TestSnapshotStore_ReplaceAndLoad(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().Truncate(time.Second)
	err := s.ReplaceAll([]backend.SequenceRecord{
		record(1, "older", false, now.Add(-time.Hour)),
		record(2, "newer", true, now),
	})
	if err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	records, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].SequenceID != 2 {
		t.Errorf("ordering: first record = %d, want newest", records[0].SequenceID)
	}
	if len(records[0].Messages) != 2 {
		t.Errorf("payload lost messages: %d", len(records[0].Messages))
	}
}

func TestSnapshotStore_ReplaceIsWholesale(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if err := s.ReplaceAll([]backend.SequenceRecord{
		record(1, "a", false, now),
		record(2, "b", false, now),
		record(3, "c", false, now),
	}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	// The next listing no longer contains 1 and 3.
	if err := s.ReplaceAll([]backend.SequenceRecord{
		record(2, "b renamed", false, now),
	}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	records, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (stale rows must not survive)", len(records))
	}
	if records[0].Label != "b renamed" {
		t.Errorf("Label = %q", records[0].Label)
	}
}

func TestSnapshotStore_LoadPinned(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if err := s.ReplaceAll([]backend.SequenceRecord{
		record(1, "plain", false, now),
		record(2, "kept", true, now),
	}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	pinned, err := s.LoadPinned()
	if err != nil {
		t.Fatalf("LoadPinned: %v", err)
	}
	if len(pinned) != 1 || pinned[0].SequenceID != 2 {
		t.Errorf("pinned = %+v", pinned)
	}
}

func TestSnapshotStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequences.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.ReplaceAll([]backend.SequenceRecord{
		record(7, "persisted", false, time.Now()),
	}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestSnapshotStore_EmptyState(t *testing.T) {
	s := openTestStore(t)

	records, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}

	last, err := s.LastUpdated()
	if err != nil {
		t.Fatalf("LastUpdated: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("LastUpdated = %v, want zero", last)
	}
}
