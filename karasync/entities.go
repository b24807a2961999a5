// Package karasync implements the offline-first synchronization engine for
// the Karatapp mobile client: a TTL-bounded entity cache, a durable queue of
// pending mutations, a conflict resolver and the orchestrator that drains
// the queue against the remote backend once connectivity returns.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"encoding/json"
	"fmt"
	"time"
)

// CachedEntity is the envelope every cached record is stored in. Payload
// holds the entity-specific JSON (Kata, Ohyo, ForumPost or
// CommentInteraction).
type CachedEntity struct {
	ID         string          `json:"id"`
	Type       EntityType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	LastSynced time.Time       `json:"last_synced"`
	NeedsSync  bool            `json:"needs_sync"`
}

// ValidAt reports whether the entry is still inside its validity window.
func (e *CachedEntity) ValidAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastSynced) < ttl
}

// Kata is a form in the training catalog.
type Kata struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	VideoURL     string `json:"video_url,omitempty"`
	LikeCount    int    `json:"like_count"`
	DislikeCount int    `json:"dislike_count"`
	IsLiked      bool   `json:"is_liked"`
	IsDisliked   bool   `json:"is_disliked"`
}

// Ohyo is an application form; it shares the kata interaction shape.
type Ohyo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	VideoURL     string `json:"video_url,omitempty"`
	LikeCount    int    `json:"like_count"`
	DislikeCount int    `json:"dislike_count"`
	IsLiked      bool   `json:"is_liked"`
	IsDisliked   bool   `json:"is_disliked"`
}

// ForumPost is a community post.
type ForumPost struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	AuthorID     string    `json:"author_id"`
	CreatedAt    time.Time `json:"created_at"`
	CommentCount int       `json:"comment_count"`
}

// Comment is a comment on a kata, ohyo or forum post.
type Comment struct {
	ID           string     `json:"id"`
	ParentID     string     `json:"parent_id,omitempty"`
	TargetType   EntityType `json:"target_type"`
	TargetID     string     `json:"target_id"`
	AuthorID     string     `json:"author_id"`
	Content      string     `json:"content"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LikeCount    int        `json:"like_count"`
	DislikeCount int        `json:"dislike_count"`
}

// QueuedOperation is a durable pending mutation, created while offline or
// speculatively for optimistic UI. Operations targeting the same entity are
// replayed in creation order.
type QueuedOperation struct {
	ID         string          `json:"id"`
	Type       OpType          `json:"type"`
	Status     OpStatus        `json:"status"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	UserID     string          `json:"user_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	// BaseState snapshots the entity payload the operation assumed at
	// enqueue time; the resolver compares it against the remote state
	// fetched immediately before replay.
	BaseState json.RawMessage `json:"base_state,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OperationID derives the deterministic id for an operation so that a retry
// that actually succeeded server-side but failed to acknowledge locally does
// not double-apply. Creates pass a client-generated tempID to distinguish
// repeated adds against the same target.
func OperationID(op OpType, entityType EntityType, entityID, tempID string) string {
	id := fmt.Sprintf("%s:%s:%s", op, entityType, entityID)
	if tempID != "" {
		id += ":" + tempID
	}
	return id
}

// AddCommentData is the payload for OpAddComment.
type AddCommentData struct {
	TempID   string `json:"temp_id"`
	ParentID string `json:"parent_id,omitempty"`
	Content  string `json:"content"`
}

// UpdateCommentData is the payload for OpUpdateComment.
type UpdateCommentData struct {
	Content string `json:"content"`
}

// SetReactionData is the payload for OpSetLike and OpSetDislike. Target is
// the absolute state to set, never a flip.
type SetReactionData struct {
	Target bool `json:"target"`
}

// Conflict associates a queued operation with the divergent remote state
// discovered at sync time. It stays unresolved until auto-resolved by policy
// or explicitly acknowledged by the user.
type Conflict struct {
	ID          string          `json:"id"`
	OperationID string          `json:"operation_id"`
	OpType      OpType          `json:"op_type"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	LocalState  json.RawMessage `json:"local_state"`
	RemoteState json.RawMessage `json:"remote_state"`
	DetectedAt  time.Time       `json:"detected_at"`
	Resolved    bool            `json:"resolved"`
	Resolution  Resolution      `json:"resolution,omitempty"`
}

// SyncState is the observable process-wide sync status published to UI
// state holders. Only ComprehensiveCacheCompleted and LastFullSyncAt are
// durable; everything else is rebuilt each process.
type SyncState struct {
	Ready                       bool      `json:"ready"`
	IsSyncing                   bool      `json:"is_syncing"`
	LastSyncSuccess             bool      `json:"last_sync_success"`
	LastFullSyncAt              time.Time `json:"last_full_sync_at"`
	ComprehensiveCacheCompleted bool      `json:"comprehensive_cache_completed"`
	PendingOperations           int       `json:"pending_operations"`
	DeadLetters                 int       `json:"dead_letters"`
	UnresolvedConflicts         int       `json:"unresolved_conflicts"`
}
