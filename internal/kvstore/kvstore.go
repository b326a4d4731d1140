// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides the synchronous durable key-value primitive that
// backs local persistence.
//
// The store has a finite capacity budget. When a write would exceed it, the
// store first truncates the oldest entries in log-like namespaces (keys under
// the "log/" prefix) to make room; entries outside those namespaces are never
// dropped to satisfy a write. Only when truncation cannot free enough space
// does a write fail with ErrCapacityExceeded.
package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultCapacity is the default storage budget in bytes.
const DefaultCapacity = 8 * 1024 * 1024

// truncatePrefix marks the namespace the store may truncate under pressure.
const truncatePrefix = "log/"

// ErrCapacityExceeded is returned when a write cannot fit even after
// truncating the log-like namespaces.
var ErrCapacityExceeded = errors.New("storage capacity exceeded")

// =============================================================================
// STORE
// =============================================================================

// Store is a synchronous key-value store backed by SQLite.
// Every Set persists before returning; a Get immediately after a Set always
// observes that Set.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	capacity int64
}

// Open opens (or creates) a store at the given path. A capacity of 0 uses
// DefaultCapacity.
func Open(path string, capacity int64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{db: db, capacity: capacity}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// READS
// =============================================================================

// Get returns the value for key. The second return is false when the key is
// absent.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying key %q: %w", key, err)
	}
	return value, true, nil
}

// Keys returns all keys with the given prefix, oldest first.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM kv WHERE key LIKE ? || '%' ORDER BY updated_at ASC`, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Usage returns the current stored size in bytes.
func (s *Store) Usage() (int64, error) {
	var usage sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(LENGTH(key) + LENGTH(value)) FROM kv`).Scan(&usage)
	if err != nil {
		return 0, fmt.Errorf("computing usage: %w", err)
	}
	return usage.Int64, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Set writes key to value, synchronously persisting before returning.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := int64(len(key) + len(value))
	if needed > s.capacity {
		return fmt.Errorf("value for %q: %w", key, ErrCapacityExceeded)
	}

	if err := s.ensureRoom(key, needed); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		REPLACE INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
	`, key, value, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

// ensureRoom frees space for a pending write by truncating the oldest
// log-namespace entries. Caller holds the mutex.
func (s *Store) ensureRoom(key string, needed int64) error {
	usage, err := s.usageExcluding(key)
	if err != nil {
		return err
	}
	if usage+needed <= s.capacity {
		return nil
	}

	// Truncate oldest log entries until the write fits.
	rows, err := s.db.Query(`
		SELECT key, LENGTH(key) + LENGTH(value) FROM kv
		WHERE key LIKE ? || '%' AND key != ?
		ORDER BY updated_at ASC
	`, truncatePrefix, key)
	if err != nil {
		return fmt.Errorf("listing truncatable keys: %w", err)
	}
	type victim struct {
		key  string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.key, &v.size); err != nil {
			rows.Close()
			return fmt.Errorf("scanning truncatable key: %w", err)
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range victims {
		if usage+needed <= s.capacity {
			break
		}
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, v.key); err != nil {
			return fmt.Errorf("truncating key %q: %w", v.key, err)
		}
		usage -= v.size
	}

	if usage+needed > s.capacity {
		return fmt.Errorf("key %q needs %d bytes: %w", key, needed, ErrCapacityExceeded)
	}
	return nil
}

// usageExcluding computes usage without the row about to be replaced.
func (s *Store) usageExcluding(key string) (int64, error) {
	var usage sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(LENGTH(key) + LENGTH(value)) FROM kv WHERE key != ?`, key).Scan(&usage)
	if err != nil {
		return 0, fmt.Errorf("computing usage: %w", err)
	}
	return usage.Int64, nil
}
