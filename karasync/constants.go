// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

// EntityType identifies a syncable domain entity class.
type EntityType string

const (
	EntityKata               EntityType = "kata"
	EntityOhyo               EntityType = "ohyo"
	EntityForumPost          EntityType = "forum_post"
	EntityCommentInteraction EntityType = "comment_interaction"
)

// AllEntityTypes lists every syncable type in cache-refresh order.
var AllEntityTypes = []EntityType{
	EntityKata,
	EntityOhyo,
	EntityForumPost,
	EntityCommentInteraction,
}

// OpType identifies a queued mutation kind.
//
// Reactions are modeled as set-to-state operations rather than toggles so
// that replaying an acknowledged-but-unconfirmed mutation cannot flip the
// state twice. Call sites that want a toggle affordance read the cached
// state and enqueue the inverse.
type OpType string

const (
	OpAddComment    OpType = "add-comment"
	OpUpdateComment OpType = "update-comment"
	OpDeleteComment OpType = "delete-comment"
	OpSetLike       OpType = "set-like"
	OpSetDislike    OpType = "set-dislike"
)

// OpStatus is the lifecycle state of a queued operation.
type OpStatus string

const (
	StatusPending    OpStatus = "pending"
	StatusSyncing    OpStatus = "syncing"
	StatusCompleted  OpStatus = "completed"
	StatusFailed     OpStatus = "failed"
	StatusDeadLetter OpStatus = "dead_letter"
)

// Resolution is the outcome picked for a conflict.
type Resolution string

const (
	ResolutionNone       Resolution = ""
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepRemote Resolution = "keep_remote"
)

// Persisted key layout in the syncstore.
const (
	keyQueueOperations  = "queue:operations"
	keyQueueDeadLetters = "queue:deadletters"
	keyComprehensive    = "sync:comprehensiveCacheCompleted"
	keyLastFullSync     = "sync:lastFullSyncAt"
)

func cacheKey(t EntityType, id string) string { return "cache:" + string(t) + ":" + id }

func cachePrefix(t EntityType) string { return "cache:" + string(t) + ":" }

func conflictKey(t EntityType, id string) string { return "conflicts:" + string(t) + ":" + id }

func conflictPrefix() string { return "conflicts:" }
