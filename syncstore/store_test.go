// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	value := []byte(`{"id":"kata-1","name":"Heian Shodan"}`)
	require.NoError(t, store.Set("cache:kata:kata-1", value))

	got, err := store.Get("cache:kata:kata-1")
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("no-such-key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetOverwrites(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set("k", []byte("first")))
	require.NoError(t, store.Set("k", []byte("second")))

	got, err := store.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestDelete(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set("k", []byte("v")))
	require.NoError(t, store.Delete("k"))

	_, err = store.Get("k")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete("k"))
}

func TestKeysPrefixScan(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	for _, key := range []string{
		"cache:kata:1", "cache:kata:2", "cache:ohyo:1", "queue:operations",
	} {
		require.NoError(t, store.Set(key, []byte("x")))
	}

	keys, err := store.Keys("cache:kata:")
	require.NoError(t, err)
	require.Equal(t, []string{"cache:kata:1", "cache:kata:2"}, keys)

	keys, err = store.Keys("cache:")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for _, k := range keys {
		if !strings.HasPrefix(k, "cache:") {
			t.Fatalf("unexpected key %q in prefix scan", k)
		}
	}
}

// Keys whose suffix starts with a high byte still fall inside the prefix
// range; ids are opaque strings and nothing guarantees ASCII.
func TestKeysPrefixScanHighBytes(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	for _, key := range []string{
		"cache:kata:a", "cache:kata:\xff\x01", "cache:ohyo:1",
	} {
		require.NoError(t, store.Set(key, []byte("x")))
	}

	keys, err := store.Keys("cache:kata:")
	require.NoError(t, err)
	require.Equal(t, []string{"cache:kata:a", "cache:kata:\xff\x01"}, keys)
}

func TestSetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("sync:comprehensiveCacheCompleted", []byte("true")))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("sync:comprehensiveCacheCompleted")
	require.NoError(t, err)
	require.Equal(t, []byte("true"), got)
}

func TestLargeValueCompression(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	// Highly repetitive payload, the shape a cached entity list has.
	value := bytes.Repeat([]byte(`{"id":"kata","like_count":0},`), 2000)
	require.NoError(t, store.Set("cache:kata:all", value))

	got, err := store.Get("cache:kata:all")
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestEmptyValueRoundTrip(t *testing.T) {
	store, err := NewMemory()
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set("k", []byte{}))
	got, err := store.Get("k")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStorageErrorUnwraps(t *testing.T) {
	inner := errors.New("disk on fire")
	err := &StorageError{Op: "set", Key: "k", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "set")
	require.Contains(t, err.Error(), "k")
}
