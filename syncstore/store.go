// Package syncstore provides the durable key-value store backing the
// Karatapp offline sync engine. Every cached entity, queued operation and
// sync flag lives here; higher layers never keep a second authoritative
// copy in memory.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("syncstore: key not found")

// StorageError wraps an underlying persistence failure. Callers treat a
// StorageError the same as a cache miss and fall back to the remote source.
type StorageError struct {
	Op  string // "get", "set", "delete", "keys"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("syncstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is a persistent, process-wide, string-keyed byte store backed by a
// single SQLite table. A successful Set survives process restart. Individual
// key writes are serialized; no multi-key atomicity is offered because each
// entity and the operation queue are independently keyed.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // serialize writes to avoid SQLite busy errors
}

// Open opens (creating if needed) a store at the given SQLite path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewMemory opens a private in-memory store, used by tests. The shared
// cache keeps the database alive across the connection pool.
func NewMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	return Open(dsn)
}

func (s *Store) init() error {
	// WAL keeps readers unblocked while the sync loop writes.
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	value, err := decodeValue(raw)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	return value, nil
}

// Set durably stores value under key, overwriting any previous value.
func (s *Store) Set(key string, value []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	raw := encodeValue(value)
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, raw)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Keys returns all keys with the given prefix in lexicographic order.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM kv WHERE key >= ? ORDER BY key`, prefix)
	if err != nil {
		return nil, &StorageError{Op: "keys", Key: prefix, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &StorageError{Op: "keys", Key: prefix, Err: err}
		}
		if !strings.HasPrefix(k, prefix) {
			// Ordered scan: the first non-prefix key sorts after every key
			// that carries the prefix, including ones with high bytes.
			break
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "keys", Key: prefix, Err: err}
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
