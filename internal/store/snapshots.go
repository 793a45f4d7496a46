// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ehallam/strand/internal/backend"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS sequences (
	sequence_id INTEGER PRIMARY KEY,
	label       TEXT NOT NULL DEFAULT '',
	pinned      INTEGER NOT NULL DEFAULT 0,
	model       TEXT NOT NULL DEFAULT '',
	updated_at  INTEGER NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sequences_updated ON sequences(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_sequences_pinned ON sequences(pinned);
`

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// SnapshotStore caches the backend's sequence listing in sqlite.
type SnapshotStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	// A single local client; one connection avoids sqlite write contention.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SnapshotStore{db: db}, nil
}

// Close releases the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// ReplaceAll swaps the snapshot for a fresh listing, in one transaction.
func (s *SnapshotStore) ReplaceAll(records []backend.SequenceRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sequences"); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sequences (sequence_id, label, pinned, model, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode sequence %d: %w", rec.SequenceID, err)
		}

		pinned := 0
		if rec.Pinned {
			pinned = 1
		}

		if _, err := stmt.Exec(rec.SequenceID, rec.Label, pinned, rec.Model,
			rec.UpdatedAt.Unix(), string(payload)); err != nil {
			return fmt.Errorf("failed to insert sequence %d: %w", rec.SequenceID, err)
		}
	}

	return tx.Commit()
}

// LoadAll returns the snapshot, newest first.
func (s *SnapshotStore) LoadAll() ([]backend.SequenceRecord, error) {
	rows, err := s.db.Query("SELECT payload FROM sequences ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var records []backend.SequenceRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		var rec backend.SequenceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// A corrupt row is dropped on the next ReplaceAll; skip it.
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadPinned returns only the pinned sequences, newest first.
func (s *SnapshotStore) LoadPinned() ([]backend.SequenceRecord, error) {
	rows, err := s.db.Query("SELECT payload FROM sequences WHERE pinned = 1 ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var records []backend.SequenceRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		var rec backend.SequenceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of snapshotted sequences.
func (s *SnapshotStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sequences").Scan(&n)
	return n, err
}

// LastUpdated returns the newest update time in the snapshot, zero when the
// snapshot is empty.
func (s *SnapshotStore) LastUpdated() (time.Time, error) {
	var unix sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(updated_at) FROM sequences").Scan(&unix)
	if err != nil {
		return time.Time{}, err
	}
	if !unix.Valid || unix.Int64 == 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix.Int64, 0), nil
}
