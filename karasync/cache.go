// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anne-LindedeGroot/Karatapp-sub006/syncstore"
)

// EntityCache maps each entity type to cached records with a lastSynced
// timestamp and a validity window. All reads are pure local reads; nothing
// in this layer ever touches the network, and Put is last-write-wins by
// fetch time; merge logic lives in the resolver, one layer up.
type EntityCache struct {
	store  *syncstore.Store
	cfg    *Config
	clock  func() time.Time
	logger *slog.Logger
}

// NewEntityCache creates a cache over the given store.
func NewEntityCache(store *syncstore.Store, cfg *Config, logger *slog.Logger) *EntityCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityCache{store: store, cfg: cfg, clock: time.Now, logger: logger}
}

// GetValid returns the cached entity if present and inside its validity
// window, or nil. Storage failures degrade to a miss.
func (c *EntityCache) GetValid(t EntityType, id string) (*CachedEntity, error) {
	entity, err := c.load(t, id)
	if err != nil || entity == nil {
		return nil, err
	}
	if !entity.ValidAt(c.clock(), c.cfg.TTLFor(t)) {
		return nil, nil
	}
	return entity, nil
}

// GetAny returns the cached entity regardless of TTL, with a stale flag.
// Used as last-resort fallback when the remote is unreachable.
func (c *EntityCache) GetAny(t EntityType, id string) (entity *CachedEntity, stale bool, err error) {
	entity, err = c.load(t, id)
	if err != nil || entity == nil {
		return nil, false, err
	}
	return entity, !entity.ValidAt(c.clock(), c.cfg.TTLFor(t)), nil
}

// GetValidList returns all non-expired entries of a type, or nil if none.
func (c *EntityCache) GetValidList(t EntityType) ([]CachedEntity, error) {
	all, err := c.loadAll(t)
	if err != nil {
		return nil, err
	}
	now := c.clock()
	ttl := c.cfg.TTLFor(t)
	var valid []CachedEntity
	for _, e := range all {
		if e.ValidAt(now, ttl) {
			valid = append(valid, e)
		}
	}
	return valid, nil
}

// GetAnyList returns every cached entry of a type with a flag reporting
// whether any of them is expired. Offline callers prefer a stale list over
// a hard miss.
func (c *EntityCache) GetAnyList(t EntityType) (entities []CachedEntity, stale bool, err error) {
	all, err := c.loadAll(t)
	if err != nil {
		return nil, false, err
	}
	now := c.clock()
	ttl := c.cfg.TTLFor(t)
	for _, e := range all {
		if !e.ValidAt(now, ttl) {
			stale = true
		}
	}
	return all, stale, nil
}

// Put stores an entity, stamping LastSynced with the current time and
// clearing NeedsSync. Existing entries are overwritten unconditionally.
func (c *EntityCache) Put(t EntityType, id string, payload json.RawMessage) error {
	return c.write(&CachedEntity{
		ID:         id,
		Type:       t,
		Payload:    payload,
		LastSynced: c.clock(),
	})
}

// PutList stores a freshly fetched list, overwriting per entry.
func (c *EntityCache) PutList(t EntityType, entities []CachedEntity) error {
	now := c.clock()
	for i := range entities {
		e := entities[i]
		e.Type = t
		e.LastSynced = now
		e.NeedsSync = false
		if err := c.write(&e); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate removes an entity, typically after the orchestrator observed a
// not-found from the remote.
func (c *EntityCache) Invalidate(t EntityType, id string) error {
	return c.store.Delete(cacheKey(t, id))
}

// ApplyOptimistic mutates the cached payload in place and flags the entry as
// needing sync. This is the first half of the two-phase optimistic contract;
// Reconcile (or Invalidate on permanent failure) is the second.
func (c *EntityCache) ApplyOptimistic(t EntityType, id string, mutate func(payload json.RawMessage) (json.RawMessage, error)) error {
	entity, err := c.load(t, id)
	if err != nil {
		return err
	}
	if entity == nil {
		return fmt.Errorf("cannot apply optimistic update, %s/%s not cached", t, id)
	}
	mutated, err := mutate(entity.Payload)
	if err != nil {
		return fmt.Errorf("optimistic mutation for %s/%s failed: %w", t, id, err)
	}
	entity.Payload = mutated
	entity.NeedsSync = true
	return c.write(entity)
}

// MarkNeedsSync flags an entry as carrying unsynchronized local state without
// touching its payload.
func (c *EntityCache) MarkNeedsSync(t EntityType, id string) error {
	entity, err := c.load(t, id)
	if err != nil {
		return err
	}
	if entity == nil {
		return fmt.Errorf("cannot mark %s/%s, not cached", t, id)
	}
	entity.NeedsSync = true
	return c.write(entity)
}

// Reconcile replaces the cached payload with the authoritative remote state,
// stamping LastSynced and clearing NeedsSync.
func (c *EntityCache) Reconcile(t EntityType, id string, payload json.RawMessage) error {
	return c.Put(t, id, payload)
}

func (c *EntityCache) load(t EntityType, id string) (*CachedEntity, error) {
	raw, err := c.store.Get(cacheKey(t, id))
	if errors.Is(err, syncstore.ErrNotFound) {
		return nil, nil
	}
	var storageErr *syncstore.StorageError
	if errors.As(err, &storageErr) {
		c.logger.Warn("cache read failed, treating as miss", "type", t, "id", id, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entity CachedEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode cached %s/%s: %w", t, id, err)
	}
	return &entity, nil
}

func (c *EntityCache) loadAll(t EntityType) ([]CachedEntity, error) {
	keys, err := c.store.Keys(cachePrefix(t))
	if err != nil {
		var storageErr *syncstore.StorageError
		if errors.As(err, &storageErr) {
			c.logger.Warn("cache scan failed, treating as miss", "type", t, "error", err)
			return nil, nil
		}
		return nil, err
	}
	entities := make([]CachedEntity, 0, len(keys))
	for _, key := range keys {
		raw, err := c.store.Get(key)
		if err != nil {
			continue // deleted between scan and read
		}
		var entity CachedEntity
		if err := json.Unmarshal(raw, &entity); err != nil {
			return nil, fmt.Errorf("failed to decode cached entry %s: %w", key, err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (c *EntityCache) write(entity *CachedEntity) error {
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode cached %s/%s: %w", entity.Type, entity.ID, err)
	}
	return c.store.Set(cacheKey(entity.Type, entity.ID), raw)
}
