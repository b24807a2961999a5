// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Anne-LindedeGroot/Karatapp-sub006/syncstore"
	"github.com/google/uuid"
)

// Resolver decides the winner of a detected conflict.
type Resolver interface {
	// Resolve returns the winning state and auto=true when the conflict can
	// be settled by policy, or auto=false to persist it for manual user
	// choice.
	Resolve(conflict *Conflict) (winner json.RawMessage, resolution Resolution, auto bool, err error)
}

// interactionState is the slice of an entity payload that reaction
// operations can affect. Detection only compares these fields so an
// unrelated change (say, a description edit) never blocks a like replay.
type interactionState struct {
	IsLiked      bool      `json:"is_liked"`
	IsDisliked   bool      `json:"is_disliked"`
	LikeCount    int       `json:"like_count"`
	DislikeCount int       `json:"dislike_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// commentState is the slice a comment mutation can affect.
type commentState struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DetectConflict compares the operation's base-state snapshot against the
// remote state fetched immediately before replay. It is a pure function of
// its inputs: identical snapshots always produce the same verdict.
// Returns nil when the remote still matches what the operation assumed.
func DetectConflict(op *QueuedOperation, remote *CachedEntity) (*Conflict, error) {
	if len(op.BaseState) == 0 {
		return nil, nil // creates carry no base state and never conflict
	}
	if remote == nil {
		return nil, nil // vanished target is a not-found, not a conflict
	}

	diverged := false
	switch op.Type {
	case OpSetLike, OpSetDislike:
		var base, current interactionState
		if err := json.Unmarshal(op.BaseState, &base); err != nil {
			return nil, fmt.Errorf("failed to decode base state for %s: %w", op.ID, err)
		}
		if err := json.Unmarshal(remote.Payload, &current); err != nil {
			return nil, fmt.Errorf("failed to decode remote state for %s: %w", op.ID, err)
		}
		diverged = base.IsLiked != current.IsLiked || base.IsDisliked != current.IsDisliked
	case OpUpdateComment, OpDeleteComment:
		var base, current commentState
		if err := json.Unmarshal(op.BaseState, &base); err != nil {
			return nil, fmt.Errorf("failed to decode base state for %s: %w", op.ID, err)
		}
		if err := json.Unmarshal(remote.Payload, &current); err != nil {
			return nil, fmt.Errorf("failed to decode remote state for %s: %w", op.ID, err)
		}
		diverged = base.Content != current.Content ||
			(!base.UpdatedAt.IsZero() && !base.UpdatedAt.Equal(current.UpdatedAt))
	default:
		diverged = !bytes.Equal(op.BaseState, remote.Payload)
	}

	if !diverged {
		return nil, nil
	}
	return &Conflict{
		ID:          uuid.NewString(),
		OperationID: op.ID,
		OpType:      op.Type,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		LocalState:  op.BaseState,
		RemoteState: remote.Payload,
	}, nil
}

// DefaultResolver applies last-write-wins by server timestamp for reaction
// state and refuses to auto-resolve free-text comment edits.
type DefaultResolver struct {
	// Clock stamps the local side for LWW comparison; nil means time.Now.
	Clock func() time.Time
}

// Resolve implements Resolver.
func (r *DefaultResolver) Resolve(conflict *Conflict) (json.RawMessage, Resolution, bool, error) {
	switch conflict.OpType {
	case OpSetLike, OpSetDislike:
		// Counters and reaction flags: last write wins by server timestamp.
		// The remote snapshot carries the other writer's timestamp; the
		// local operation's intent is "now", so local wins unless the remote
		// write is newer than the moment we are resolving.
		var remote interactionState
		if err := json.Unmarshal(conflict.RemoteState, &remote); err != nil {
			return nil, ResolutionNone, false, fmt.Errorf("failed to decode remote state: %w", err)
		}
		now := time.Now()
		if r.Clock != nil {
			now = r.Clock()
		}
		if remote.UpdatedAt.After(now) {
			return conflict.RemoteState, ResolutionKeepRemote, true, nil
		}
		return conflict.LocalState, ResolutionKeepLocal, true, nil
	default:
		// Free-text edits are surfaced for manual choice, never merged
		// silently.
		return nil, ResolutionNone, false, nil
	}
}

// ConflictLog persists unresolved conflicts per entity so UI state holders
// can show a banner before allowing further edits.
type ConflictLog struct {
	store  *syncstore.Store
	logger *slog.Logger
	mu     sync.Mutex
	clock  func() time.Time
}

// NewConflictLog creates a conflict log over the given store.
func NewConflictLog(store *syncstore.Store, logger *slog.Logger) *ConflictLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictLog{store: store, logger: logger, clock: time.Now}
}

// Record persists a freshly detected conflict.
func (l *ConflictLog) Record(conflict *Conflict) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = l.clock()
	}
	conflicts, err := l.loadLocked(conflict.EntityType, conflict.EntityID)
	if err != nil {
		return err
	}
	conflicts = append(conflicts, *conflict)
	return l.saveLocked(conflict.EntityType, conflict.EntityID, conflicts)
}

// UnresolvedFor returns the unresolved conflicts for an entity.
func (l *ConflictLog) UnresolvedFor(t EntityType, id string) ([]Conflict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conflicts, err := l.loadLocked(t, id)
	if err != nil {
		return nil, err
	}
	var open []Conflict
	for _, c := range conflicts {
		if !c.Resolved {
			open = append(open, c)
		}
	}
	return open, nil
}

// UnresolvedCount counts unresolved conflicts across all entities.
func (l *ConflictLog) UnresolvedCount() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.store.Keys(conflictPrefix())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		raw, err := l.store.Get(key)
		if err != nil {
			continue
		}
		var conflicts []Conflict
		if err := json.Unmarshal(raw, &conflicts); err != nil {
			return 0, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		for _, c := range conflicts {
			if !c.Resolved {
				count++
			}
		}
	}
	return count, nil
}

// Resolve marks a conflict resolved with the user's (or policy's) choice and
// returns the updated conflict.
func (l *ConflictLog) Resolve(t EntityType, entityID, conflictID string, resolution Resolution) (*Conflict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conflicts, err := l.loadLocked(t, entityID)
	if err != nil {
		return nil, err
	}
	for i := range conflicts {
		if conflicts[i].ID != conflictID {
			continue
		}
		conflicts[i].Resolved = true
		conflicts[i].Resolution = resolution
		if err := l.saveLocked(t, entityID, conflicts); err != nil {
			return nil, err
		}
		resolved := conflicts[i]
		return &resolved, nil
	}
	return nil, fmt.Errorf("conflict %s not found for %s/%s", conflictID, t, entityID)
}

func (l *ConflictLog) loadLocked(t EntityType, id string) ([]Conflict, error) {
	raw, err := l.store.Get(conflictKey(t, id))
	if errors.Is(err, syncstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var conflicts []Conflict
	if err := json.Unmarshal(raw, &conflicts); err != nil {
		return nil, fmt.Errorf("failed to decode conflicts for %s/%s: %w", t, id, err)
	}
	return conflicts, nil
}

func (l *ConflictLog) saveLocked(t EntityType, id string, conflicts []Conflict) error {
	raw, err := json.Marshal(conflicts)
	if err != nil {
		return fmt.Errorf("failed to encode conflicts for %s/%s: %w", t, id, err)
	}
	return l.store.Set(conflictKey(t, id), raw)
}
