// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Anne-LindedeGroot/Karatapp-sub006/syncstore"
)

// OperationQueue is the ordered, durable list of pending mutations. The
// whole queue is serialized under a single key; the store is the single
// source of truth and the queue keeps no second in-memory copy between
// calls, so a process restart can never diverge from persisted state.
//
// Operations targeting the same entity are replayed in creation order.
// Operations targeting different entities carry no ordering guarantee.
type OperationQueue struct {
	store  *syncstore.Store
	logger *slog.Logger
	mu     sync.Mutex
	clock  func() time.Time
}

// NewOperationQueue creates a queue over the given store.
func NewOperationQueue(store *syncstore.Store, logger *slog.Logger) *OperationQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationQueue{store: store, logger: logger, clock: time.Now}
}

// Enqueue appends an operation with StatusPending, coalescing against
// earlier pending work on the same entity:
//
//   - a reaction replaces an earlier pending reaction of the same kind
//     (only the final target state matters);
//   - an update folds its content into a pending add for the same comment;
//   - a delete cancels a pending add outright (the server never needs to
//     hear about a comment that was created and removed while offline).
func (q *OperationQueue) Enqueue(op *QueuedOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return err
	}

	op.Status = StatusPending
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.clock()
	}

	switch op.Type {
	case OpSetLike, OpSetDislike:
		for i := range ops {
			if ops[i].ID == op.ID && ops[i].Status == StatusPending {
				ops[i].Data = op.Data
				return q.saveLocked(keyQueueOperations, ops)
			}
		}
	case OpUpdateComment:
		for i := range ops {
			if ops[i].Type == OpAddComment && ops[i].EntityID == op.EntityID &&
				ops[i].EntityType == op.EntityType && ops[i].Status == StatusPending {
				var add AddCommentData
				if err := json.Unmarshal(ops[i].Data, &add); err != nil {
					return fmt.Errorf("failed to decode pending add for coalescing: %w", err)
				}
				var upd UpdateCommentData
				if err := json.Unmarshal(op.Data, &upd); err != nil {
					return fmt.Errorf("failed to decode update for coalescing: %w", err)
				}
				add.Content = upd.Content
				merged, err := json.Marshal(add)
				if err != nil {
					return fmt.Errorf("failed to encode coalesced add: %w", err)
				}
				ops[i].Data = merged
				return q.saveLocked(keyQueueOperations, ops)
			}
		}
	case OpDeleteComment:
		for i := range ops {
			if ops[i].Type == OpAddComment && ops[i].EntityID == op.EntityID &&
				ops[i].EntityType == op.EntityType && ops[i].Status == StatusPending {
				remaining := append(ops[:i:i], ops[i+1:]...)
				return q.saveLocked(keyQueueOperations, remaining)
			}
		}
	}

	ops = append(ops, *op)
	return q.saveLocked(keyQueueOperations, ops)
}

// NextPending returns the oldest pending operation, optionally restricted to
// the given entity types. Returns nil when nothing is pending.
func (q *OperationQueue) NextPending(filter ...EntityType) (*QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		if ops[i].Status != StatusPending {
			continue
		}
		if len(filter) > 0 && !containsType(filter, ops[i].EntityType) {
			continue
		}
		op := ops[i]
		return &op, nil
	}
	return nil, nil
}

// Snapshot returns a copy of the queue in stored order.
func (q *OperationQueue) Snapshot() ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked(keyQueueOperations)
}

// PendingFor returns all pending operations for an entity in creation order.
func (q *OperationQueue) PendingFor(t EntityType, id string) ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return nil, err
	}
	var out []QueuedOperation
	for _, op := range ops {
		if op.EntityType == t && op.EntityID == id && op.Status == StatusPending {
			out = append(out, op)
		}
	}
	return out, nil
}

// MarkSyncing transitions an operation to StatusSyncing.
func (q *OperationQueue) MarkSyncing(id string) error {
	return q.transition(id, func(op *QueuedOperation) {
		op.Status = StatusSyncing
	})
}

// MarkPending returns an operation to StatusPending, e.g. after a failed
// conflict check where nothing may be applied blindly.
func (q *OperationQueue) MarkPending(id string) error {
	return q.transition(id, func(op *QueuedOperation) {
		op.Status = StatusPending
	})
}

// MarkCompleted removes a completed operation from the queue. Only
// completion (or explicit user discard) ever removes a queued mutation.
func (q *OperationQueue) MarkCompleted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].ID == id {
			return q.saveLocked(keyQueueOperations, append(ops[:i:i], ops[i+1:]...))
		}
	}
	return fmt.Errorf("operation %s not found", id)
}

// MarkFailed records a failure, incrementing the durable attempt counter.
// With retry budget remaining the operation returns to StatusPending; once
// the budget is exhausted it moves to the dead-letter list for user review
// and deadLettered is true.
func (q *OperationQueue) MarkFailed(id string, cause error, retryBudget int) (deadLettered bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return false, err
	}
	for i := range ops {
		if ops[i].ID != id {
			continue
		}
		ops[i].Attempts++
		if cause != nil {
			ops[i].LastError = cause.Error()
		}
		if ops[i].Attempts >= retryBudget {
			dead := ops[i]
			dead.Status = StatusDeadLetter
			if err := q.appendDeadLetterLocked(dead); err != nil {
				return false, err
			}
			q.logger.Warn("operation moved to dead-letter",
				"op", dead.ID, "type", dead.Type, "attempts", dead.Attempts, "error", dead.LastError)
			return true, q.saveLocked(keyQueueOperations, append(ops[:i:i], ops[i+1:]...))
		}
		ops[i].Status = StatusPending
		return false, q.saveLocked(keyQueueOperations, ops)
	}
	return false, fmt.Errorf("operation %s not found", id)
}

// DeadLetter moves an operation to the dead-letter list immediately,
// bypassing the retry budget. Used for permanent failures.
func (q *OperationQueue) DeadLetter(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].ID != id {
			continue
		}
		dead := ops[i]
		dead.Status = StatusDeadLetter
		if cause != nil {
			dead.LastError = cause.Error()
		}
		if err := q.appendDeadLetterLocked(dead); err != nil {
			return err
		}
		return q.saveLocked(keyQueueOperations, append(ops[:i:i], ops[i+1:]...))
	}
	return fmt.Errorf("operation %s not found", id)
}

// DeadLetters returns operations held for user review.
func (q *OperationQueue) DeadLetters() ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked(keyQueueDeadLetters)
}

// RetryDeadLetter moves a dead-lettered operation back into the queue with a
// fresh retry budget.
func (q *OperationQueue) RetryDeadLetter(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dead, err := q.loadLocked(keyQueueDeadLetters)
	if err != nil {
		return err
	}
	for i := range dead {
		if dead[i].ID != id {
			continue
		}
		op := dead[i]
		op.Status = StatusPending
		op.Attempts = 0
		op.LastError = ""
		ops, err := q.loadLocked(keyQueueOperations)
		if err != nil {
			return err
		}
		if err := q.saveLocked(keyQueueOperations, append(ops, op)); err != nil {
			return err
		}
		return q.saveLocked(keyQueueDeadLetters, append(dead[:i:i], dead[i+1:]...))
	}
	return fmt.Errorf("dead-letter %s not found", id)
}

// Discard drops an operation from either the queue or the dead-letter list.
// This is the only path besides completion that loses a queued mutation, and
// it is always an explicit user choice.
func (q *OperationQueue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, key := range []string{keyQueueOperations, keyQueueDeadLetters} {
		ops, err := q.loadLocked(key)
		if err != nil {
			return err
		}
		for i := range ops {
			if ops[i].ID == id {
				return q.saveLocked(key, append(ops[:i:i], ops[i+1:]...))
			}
		}
	}
	return fmt.Errorf("operation %s not found", id)
}

// Len returns the number of queued (non-dead-letter) operations.
func (q *OperationQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (q *OperationQueue) transition(id string, apply func(*QueuedOperation)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.loadLocked(keyQueueOperations)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].ID == id {
			apply(&ops[i])
			return q.saveLocked(keyQueueOperations, ops)
		}
	}
	return fmt.Errorf("operation %s not found", id)
}

func (q *OperationQueue) appendDeadLetterLocked(op QueuedOperation) error {
	dead, err := q.loadLocked(keyQueueDeadLetters)
	if err != nil {
		return err
	}
	return q.saveLocked(keyQueueDeadLetters, append(dead, op))
}

func (q *OperationQueue) loadLocked(key string) ([]QueuedOperation, error) {
	raw, err := q.store.Get(key)
	if errors.Is(err, syncstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ops []QueuedOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return ops, nil
}

func (q *OperationQueue) saveLocked(key string, ops []QueuedOperation) error {
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return q.store.Set(key, raw)
}

func containsType(types []EntityType, t EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
