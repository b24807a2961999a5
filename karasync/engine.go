// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anne-LindedeGroot/Karatapp-sub006/syncstore"
	"github.com/google/uuid"
)

// ErrConflictPending is returned by mutating entry points while an entity
// has unresolved conflicts; the user must pick a winner before editing
// further.
var ErrConflictPending = errors.New("karasync: entity has unresolved conflicts")

// Engine is the sync orchestrator. It owns the cache, queue, conflict log
// and resolver, drains queued mutations against the remote data source and
// refreshes the entity cache. One Engine per app instance, built by the
// composition root with explicit dependencies, no ambient globals.
type Engine struct {
	store        *syncstore.Store
	cache        *EntityCache
	queue        *OperationQueue
	conflicts    *ConflictLog
	resolver     Resolver
	remote       RemoteDataSource
	connectivity ConnectivitySignal
	dataPolicy   DataUsagePolicy
	cfg          *Config
	logger       *slog.Logger
	clock        func() time.Time
	sleep        func(context.Context, time.Duration) error

	ready     atomic.Bool
	isSyncing atomic.Bool // re-entrant trigger guard; in-flight cycle completes
	trigger   chan struct{}

	stateMu     sync.Mutex
	state       SyncState
	subscribers []chan SyncState
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithResolver replaces the default last-write-wins resolver.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithClock injects a clock, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine wires the orchestrator. The engine is Uninitialized until Init
// runs; entry points fail fast with ErrNotReady instead of speculatively
// catching panics from half-built services.
func NewEngine(store *syncstore.Store, remote RemoteDataSource, connectivity ConnectivitySignal,
	dataPolicy DataUsagePolicy, cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		store:        store,
		remote:       remote,
		connectivity: connectivity,
		dataPolicy:   dataPolicy,
		cfg:          cfg,
		logger:       slog.Default(),
		clock:        time.Now,
		sleep:        sleepWithContext,
		trigger:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = NewEntityCache(store, cfg, e.logger)
	e.cache.clock = e.clock
	e.queue = NewOperationQueue(store, e.logger)
	e.queue.clock = e.clock
	e.conflicts = NewConflictLog(store, e.logger)
	e.conflicts.clock = e.clock
	if e.resolver == nil {
		e.resolver = &DefaultResolver{Clock: e.clock}
	}
	return e
}

// Cache exposes the entity cache for UI state holders (read path).
func (e *Engine) Cache() *EntityCache { return e.cache }

// Queue exposes the operation queue, mainly for dead-letter review.
func (e *Engine) Queue() *OperationQueue { return e.queue }

// Conflicts exposes the conflict log for banner display.
func (e *Engine) Conflicts() *ConflictLog { return e.conflicts }

// Init loads durable sync flags and transitions the engine to Ready.
func (e *Engine) Init(ctx context.Context) error {
	state := SyncState{Ready: true}

	if raw, err := e.store.Get(keyComprehensive); err == nil {
		state.ComprehensiveCacheCompleted = string(raw) == "true"
	} else if !errors.Is(err, syncstore.ErrNotFound) {
		return fmt.Errorf("failed to load comprehensive cache flag: %w", err)
	}
	if raw, err := e.store.Get(keyLastFullSync); err == nil {
		if unix, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			state.LastFullSyncAt = time.Unix(unix, 0).UTC()
		}
	} else if !errors.Is(err, syncstore.ErrNotFound) {
		return fmt.Errorf("failed to load last full sync timestamp: %w", err)
	}

	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()
	e.ready.Store(true)
	e.refreshCounts()
	return nil
}

// Ready reports whether Init has completed.
func (e *Engine) Ready() bool { return e.ready.Load() }

// State returns a snapshot of the observable sync state.
func (e *Engine) State() SyncState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Subscribe returns a channel that receives state snapshots after every
// change. Slow consumers miss intermediate snapshots rather than blocking
// the sync loop.
func (e *Engine) Subscribe() <-chan SyncState {
	ch := make(chan SyncState, 1)
	e.stateMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.stateMu.Unlock()
	return ch
}

// Start runs the background sync loop until ctx is cancelled. Each tick (or
// TriggerSync call) runs one cycle; cycles are skipped entirely while
// offline and never overlap.
func (e *Engine) Start(ctx context.Context) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	go func() {
		ticker := time.NewTicker(e.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-e.trigger:
			}
			if err := e.syncCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("sync cycle failed", "error", err)
			}
		}
	}()
	return nil
}

// TriggerSync requests an on-demand cycle (app resume, user refresh,
// connectivity regained). Non-blocking; coalesces with a pending trigger.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// syncCycle runs one pass of the state machine:
// Idle → CheckingConnectivity → DrainingQueue → RefreshingCache → Idle.
func (e *Engine) syncCycle(ctx context.Context) error {
	if !e.isSyncing.CompareAndSwap(false, true) {
		return nil // a cycle is already in flight; let it complete
	}
	defer e.isSyncing.Store(false)

	if !e.connectivity.Connected() {
		e.logger.Debug("sync cycle skipped, offline")
		return nil
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	drainErr := e.drainQueue(ctx)
	refreshErr := e.refreshCache(ctx, AllEntityTypes)

	success := drainErr == nil && refreshErr == nil
	e.setLastSyncSuccess(success)
	e.refreshCounts()
	if drainErr != nil {
		return drainErr
	}
	return refreshErr
}

// FullSync drains the entire queue and refreshes every entity type, each
// with independent failure isolation, then records the durable full-sync
// timestamp.
func (e *Engine) FullSync(ctx context.Context) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	if !e.isSyncing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.isSyncing.Store(false)

	if !e.connectivity.Connected() {
		return nil
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	drainErr := e.drainQueue(ctx)
	refreshErr := e.refreshCache(ctx, AllEntityTypes)

	now := e.clock()
	if err := e.store.Set(keyLastFullSync, []byte(strconv.FormatInt(now.Unix(), 10))); err != nil {
		e.logger.Warn("failed to persist full sync timestamp", "error", err)
	}
	e.stateMu.Lock()
	e.state.LastFullSyncAt = now
	e.stateMu.Unlock()

	e.setLastSyncSuccess(drainErr == nil && refreshErr == nil)
	e.refreshCounts()
	if drainErr != nil {
		return drainErr
	}
	return refreshErr
}

// ComprehensiveCache runs the one-time warm-up: fetch and cache every entity
// of every type plus their paginated comment sets. Gated by the durable
// completion flag (unless force) and by the data-usage policy.
func (e *Engine) ComprehensiveCache(ctx context.Context, force bool) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	if !force && e.State().ComprehensiveCacheCompleted {
		return nil
	}
	if !e.connectivity.Connected() {
		return nil
	}
	if !e.dataPolicy.AllowsBulkData() {
		e.logger.Info("comprehensive cache skipped by data usage policy")
		return nil
	}

	for _, t := range AllEntityTypes {
		entities, err := e.fetchAll(ctx, t)
		if err != nil {
			return fmt.Errorf("comprehensive cache for %s failed: %w", t, err)
		}
		if err := e.cache.PutList(t, entities); err != nil {
			return err
		}
		if t == EntityCommentInteraction {
			continue // comments are warmed per parent below
		}
		for i := range entities {
			if err := e.warmComments(ctx, t, entities[i].ID); err != nil {
				return fmt.Errorf("comment warm-up for %s/%s failed: %w", t, entities[i].ID, err)
			}
		}
	}

	if err := e.store.Set(keyComprehensive, []byte("true")); err != nil {
		return fmt.Errorf("failed to persist comprehensive cache flag: %w", err)
	}
	e.stateMu.Lock()
	e.state.ComprehensiveCacheCompleted = true
	e.stateMu.Unlock()
	e.publish()
	return nil
}

func (e *Engine) warmComments(ctx context.Context, t EntityType, id string) error {
	for page := 0; ; page++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		comments, err := e.remote.FetchComments(callCtx, t, id, page, e.cfg.CommentPageSize)
		cancel()
		if err != nil {
			return err
		}
		for i := range comments {
			payload, err := json.Marshal(&comments[i])
			if err != nil {
				return fmt.Errorf("failed to encode comment %s: %w", comments[i].ID, err)
			}
			if err := e.cache.Put(EntityCommentInteraction, comments[i].ID, payload); err != nil {
				return err
			}
		}
		if len(comments) < e.cfg.CommentPageSize {
			return nil
		}
	}
}

// drainQueue replays pending operations FIFO per entity. A single
// operation's permanent failure never halts the drain; it is dead-lettered
// and the loop continues.
func (e *Engine) drainQueue(ctx context.Context) error {
	skip := map[string]bool{} // entities parked this cycle (conflict or requeue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		op, err := e.nextDrainable(skip)
		if err != nil {
			return err
		}
		if op == nil {
			return nil
		}
		if err := e.replayOperation(ctx, op, skip); err != nil {
			return err
		}
		e.refreshCounts()
	}
}

func (e *Engine) nextDrainable(skip map[string]bool) (*QueuedOperation, error) {
	ops, err := e.queue.Snapshot()
	if err != nil {
		return nil, err
	}
	for i := range ops {
		if ops[i].Status != StatusPending {
			continue
		}
		key := string(ops[i].EntityType) + "/" + ops[i].EntityID
		if skip[key] {
			continue
		}
		open, err := e.conflicts.UnresolvedFor(ops[i].EntityType, ops[i].EntityID)
		if err != nil {
			return nil, err
		}
		if len(open) > 0 {
			skip[key] = true // blocked until the user resolves
			continue
		}
		op := ops[i]
		return &op, nil
	}
	return nil, nil
}

// replayOperation runs the conflict pre-check and then applies the
// operation with bounded exponential backoff.
func (e *Engine) replayOperation(ctx context.Context, op *QueuedOperation, skip map[string]bool) error {
	entityKey := string(op.EntityType) + "/" + op.EntityID
	if err := e.queue.MarkSyncing(op.ID); err != nil {
		return err
	}

	if len(op.BaseState) > 0 {
		remote, err := e.fetchOne(ctx, op.EntityType, op.EntityID)
		if err != nil {
			if KindOf(err) == KindNotFound {
				// Replay target is gone remotely: permanent, actionable.
				e.logger.Info("replay target no longer exists", "op", op.ID)
				if dlErr := e.queue.DeadLetter(op.ID, err); dlErr != nil {
					return dlErr
				}
				if invErr := e.cache.Invalidate(op.EntityType, op.EntityID); invErr != nil {
					e.logger.Warn("failed to invalidate vanished entity", "error", invErr)
				}
				return nil
			}
			// Conflict detection itself failed: requeue, never apply blindly.
			skip[entityKey] = true
			return e.queue.MarkPending(op.ID)
		}

		conflict, err := DetectConflict(op, remote)
		if err != nil {
			skip[entityKey] = true
			return e.queue.MarkPending(op.ID)
		}
		if conflict != nil {
			winner, resolution, auto, err := e.resolver.Resolve(conflict)
			if err != nil || !auto {
				if err != nil {
					e.logger.Warn("resolver failed, surfacing conflict", "op", op.ID, "error", err)
				}
				if recErr := e.conflicts.Record(conflict); recErr != nil {
					return recErr
				}
				skip[entityKey] = true
				return e.queue.MarkPending(op.ID)
			}
			if resolution == ResolutionKeepRemote {
				// Local intent superseded; adopt server state and drop the op.
				if err := e.cache.Reconcile(op.EntityType, op.EntityID, winner); err != nil {
					return err
				}
				return e.queue.MarkCompleted(op.ID)
			}
			// Keep-local: refresh the base so the server-side version check
			// passes, then replay.
			op.BaseState = remote.Payload
		}
	}

	return e.applyWithRetry(ctx, op, skip)
}

func (e *Engine) applyWithRetry(ctx context.Context, op *QueuedOperation, skip map[string]bool) error {
	entityKey := string(op.EntityType) + "/" + op.EntityID
	delay := e.cfg.BackoffMin
	for {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		result, err := e.remote.Apply(callCtx, op)
		cancel()
		if err == nil {
			return e.finishOperation(op, result)
		}

		if !IsTransient(err) {
			if KindOf(err) == KindNotFound {
				if invErr := e.cache.Invalidate(op.EntityType, op.EntityID); invErr != nil {
					e.logger.Warn("failed to invalidate vanished entity", "error", invErr)
				}
			}
			e.logger.Info("operation failed permanently", "op", op.ID, "kind", KindOf(err))
			return e.queue.DeadLetter(op.ID, err)
		}

		deadLettered, markErr := e.queue.MarkFailed(op.ID, err, e.cfg.MaxRetries)
		if markErr != nil {
			return markErr
		}
		if deadLettered {
			e.logger.Warn("retry budget exhausted", "op", op.ID, "error", err)
			return nil
		}
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			// Cycle cancelled mid-backoff; the op stays pending for next time.
			skip[entityKey] = true
			return nil
		}
		delay = nextBackoff(delay, e.cfg.BackoffMax)
	}
}

// finishOperation removes the completed op and reconciles the cache with the
// authoritative result. AlreadyApplied acknowledgements complete the same
// way: the server state already reflects the mutation.
func (e *Engine) finishOperation(op *QueuedOperation, result *MutationResult) error {
	if err := e.queue.MarkCompleted(op.ID); err != nil {
		return err
	}
	if op.Type == OpDeleteComment {
		return e.cache.Invalidate(op.EntityType, op.EntityID)
	}
	if result != nil && result.Entity != nil {
		return e.cache.Reconcile(op.EntityType, result.Entity.ID, result.Entity.Payload)
	}
	return nil
}

// refreshCache refetches every listed entity type, isolating failures so a
// broken kata fetch never blocks the forum refresh.
func (e *Engine) refreshCache(ctx context.Context, types []EntityType) error {
	var firstErr error
	for _, t := range types {
		entities, err := e.fetchAll(ctx, t)
		if err != nil {
			e.logger.Warn("cache refresh failed", "type", t, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("refresh %s: %w", t, err)
			}
			continue
		}
		if err := e.cache.PutList(t, entities); err != nil {
			e.logger.Warn("cache write failed", "type", t, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) fetchAll(ctx context.Context, t EntityType) ([]CachedEntity, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.remote.FetchAll(callCtx, t)
}

func (e *Engine) fetchOne(ctx context.Context, t EntityType, id string) (*CachedEntity, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.remote.FetchOne(callCtx, t, id)
}

// ResolveConflict applies the user's choice for a surfaced conflict.
// Keep-remote adopts the server state and discards the blocked operation;
// keep-local rebases the operation onto the remote state and replays it on
// the next cycle.
func (e *Engine) ResolveConflict(ctx context.Context, t EntityType, entityID, conflictID string, resolution Resolution) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	conflict, err := e.conflicts.Resolve(t, entityID, conflictID, resolution)
	if err != nil {
		return err
	}

	switch resolution {
	case ResolutionKeepRemote:
		if err := e.cache.Reconcile(t, entityID, conflict.RemoteState); err != nil {
			return err
		}
		if err := e.queue.Discard(conflict.OperationID); err != nil {
			e.logger.Debug("conflicted operation already gone", "op", conflict.OperationID)
		}
	case ResolutionKeepLocal:
		err := e.queue.transition(conflict.OperationID, func(op *QueuedOperation) {
			op.BaseState = conflict.RemoteState
			op.Status = StatusPending
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported resolution %q", resolution)
	}

	e.refreshCounts()
	e.TriggerSync()
	return nil
}

func (e *Engine) setSyncing(v bool) {
	e.stateMu.Lock()
	e.state.IsSyncing = v
	e.stateMu.Unlock()
	e.publish()
}

func (e *Engine) setLastSyncSuccess(v bool) {
	e.stateMu.Lock()
	e.state.LastSyncSuccess = v
	e.stateMu.Unlock()
}

// refreshCounts recomputes the queue/dead-letter/conflict counts exposed to
// the UI and publishes a snapshot.
func (e *Engine) refreshCounts() {
	pending, err := e.queue.Len()
	if err != nil {
		e.logger.Warn("failed to count pending operations", "error", err)
	}
	dead, err := e.queue.DeadLetters()
	if err != nil {
		e.logger.Warn("failed to load dead letters", "error", err)
	}
	open, err := e.conflicts.UnresolvedCount()
	if err != nil {
		e.logger.Warn("failed to count conflicts", "error", err)
	}

	e.stateMu.Lock()
	e.state.PendingOperations = pending
	e.state.DeadLetters = len(dead)
	e.state.UnresolvedConflicts = open
	e.stateMu.Unlock()
	e.publish()
}

func (e *Engine) publish() {
	e.stateMu.Lock()
	snapshot := e.state
	subs := e.subscribers
	e.stateMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Drop stale snapshot so the sync loop never blocks on a slow
			// observer; replace it with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// ensureEditable blocks further mutations while the entity has unresolved
// conflicts.
func (e *Engine) ensureEditable(t EntityType, id string) error {
	open, err := e.conflicts.UnresolvedFor(t, id)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return ErrConflictPending
	}
	return nil
}

// SetLike enqueues a set-like mutation with an optimistic cache update.
// Call sites implementing a toggle read the cached state first and pass the
// inverse; replaying set-to-state is idempotent where replaying a toggle is
// not.
func (e *Engine) SetLike(t EntityType, id, userID string, target bool) error {
	return e.setReaction(OpSetLike, t, id, userID, target)
}

// SetDislike enqueues a set-dislike mutation with an optimistic cache
// update.
func (e *Engine) SetDislike(t EntityType, id, userID string, target bool) error {
	return e.setReaction(OpSetDislike, t, id, userID, target)
}

func (e *Engine) setReaction(kind OpType, t EntityType, id, userID string, target bool) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	if err := e.ensureEditable(t, id); err != nil {
		return err
	}

	entity, _, err := e.cache.GetAny(t, id)
	if err != nil {
		return err
	}
	if entity == nil {
		return fmt.Errorf("cannot react to uncached %s/%s", t, id)
	}
	baseState := entity.Payload

	if err := e.cache.ApplyOptimistic(t, id, func(payload json.RawMessage) (json.RawMessage, error) {
		return applyReaction(payload, kind, target)
	}); err != nil {
		return err
	}

	data, err := json.Marshal(&SetReactionData{Target: target})
	if err != nil {
		return fmt.Errorf("failed to encode reaction: %w", err)
	}
	op := &QueuedOperation{
		ID:         OperationID(kind, t, id, ""),
		Type:       kind,
		EntityType: t,
		EntityID:   id,
		UserID:     userID,
		Data:       data,
		BaseState:  baseState,
	}
	if err := e.queue.Enqueue(op); err != nil {
		return err
	}
	e.refreshCounts()
	e.TriggerSync()
	return nil
}

// AddComment enqueues a comment creation and returns the client-generated
// temporary id the optimistic UI can key on until the server assigns the
// real one.
func (e *Engine) AddComment(t EntityType, targetID, userID, parentID, content string) (string, error) {
	if !e.ready.Load() {
		return "", ErrNotReady
	}

	tempID := uuid.NewString()
	data, err := json.Marshal(&AddCommentData{TempID: tempID, ParentID: parentID, Content: content})
	if err != nil {
		return "", fmt.Errorf("failed to encode comment: %w", err)
	}

	// Optimistic local comment, keyed by the temp id until reconciled.
	comment := Comment{
		ID:         tempID,
		ParentID:   parentID,
		TargetType: t,
		TargetID:   targetID,
		AuthorID:   userID,
		Content:    content,
		UpdatedAt:  e.clock(),
	}
	payload, err := json.Marshal(&comment)
	if err != nil {
		return "", fmt.Errorf("failed to encode optimistic comment: %w", err)
	}
	if err := e.cache.Put(EntityCommentInteraction, tempID, payload); err != nil {
		return "", err
	}

	op := &QueuedOperation{
		ID:         OperationID(OpAddComment, EntityCommentInteraction, tempID, tempID),
		Type:       OpAddComment,
		EntityType: EntityCommentInteraction,
		EntityID:   tempID,
		UserID:     userID,
		Data:       data,
		// No base state: creates cannot conflict.
	}
	if err := e.queue.Enqueue(op); err != nil {
		return "", err
	}
	e.refreshCounts()
	e.TriggerSync()
	return tempID, nil
}

// UpdateComment enqueues a content edit with the current cached state as the
// conflict base.
func (e *Engine) UpdateComment(commentID, userID, content string) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	if err := e.ensureEditable(EntityCommentInteraction, commentID); err != nil {
		return err
	}

	entity, _, err := e.cache.GetAny(EntityCommentInteraction, commentID)
	if err != nil {
		return err
	}
	if entity == nil {
		return fmt.Errorf("cannot edit uncached comment %s", commentID)
	}
	baseState := entity.Payload

	if err := e.cache.ApplyOptimistic(EntityCommentInteraction, commentID, func(payload json.RawMessage) (json.RawMessage, error) {
		var comment Comment
		if err := json.Unmarshal(payload, &comment); err != nil {
			return nil, err
		}
		comment.Content = content
		comment.UpdatedAt = e.clock()
		return json.Marshal(&comment)
	}); err != nil {
		return err
	}

	data, err := json.Marshal(&UpdateCommentData{Content: content})
	if err != nil {
		return fmt.Errorf("failed to encode edit: %w", err)
	}
	op := &QueuedOperation{
		ID:         OperationID(OpUpdateComment, EntityCommentInteraction, commentID, ""),
		Type:       OpUpdateComment,
		EntityType: EntityCommentInteraction,
		EntityID:   commentID,
		UserID:     userID,
		Data:       data,
		BaseState:  baseState,
	}
	if err := e.queue.Enqueue(op); err != nil {
		return err
	}
	e.refreshCounts()
	e.TriggerSync()
	return nil
}

// DeleteComment enqueues a comment deletion with optimistic removal.
func (e *Engine) DeleteComment(commentID, userID string) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	if err := e.ensureEditable(EntityCommentInteraction, commentID); err != nil {
		return err
	}

	entity, _, err := e.cache.GetAny(EntityCommentInteraction, commentID)
	if err != nil {
		return err
	}
	var baseState json.RawMessage
	if entity != nil {
		baseState = entity.Payload
	}

	if err := e.cache.Invalidate(EntityCommentInteraction, commentID); err != nil {
		return err
	}

	op := &QueuedOperation{
		ID:         OperationID(OpDeleteComment, EntityCommentInteraction, commentID, ""),
		Type:       OpDeleteComment,
		EntityType: EntityCommentInteraction,
		EntityID:   commentID,
		UserID:     userID,
		BaseState:  baseState,
	}
	if err := e.queue.Enqueue(op); err != nil {
		return err
	}
	e.refreshCounts()
	e.TriggerSync()
	return nil
}

// applyReaction mutates the reaction slice of a payload while preserving
// every other field. Setting a like clears an active dislike (and vice
// versa), matching the app's mutual-exclusion rule.
func applyReaction(payload json.RawMessage, kind OpType, target bool) (json.RawMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}

	getBool := func(key string) bool {
		v, _ := fields[key].(bool)
		return v
	}
	getCount := func(key string) int {
		v, _ := fields[key].(float64)
		return int(v)
	}
	setCount := func(key string, delta int) {
		n := getCount(key) + delta
		if n < 0 {
			n = 0
		}
		fields[key] = n
	}

	switch kind {
	case OpSetLike:
		if getBool("is_liked") != target {
			if target {
				setCount("like_count", 1)
				if getBool("is_disliked") {
					fields["is_disliked"] = false
					setCount("dislike_count", -1)
				}
			} else {
				setCount("like_count", -1)
			}
			fields["is_liked"] = target
		}
	case OpSetDislike:
		if getBool("is_disliked") != target {
			if target {
				setCount("dislike_count", 1)
				if getBool("is_liked") {
					fields["is_liked"] = false
					setCount("like_count", -1)
				}
			} else {
				setCount("dislike_count", -1)
			}
			fields["is_disliked"] = target
		}
	default:
		return nil, fmt.Errorf("unsupported reaction op %s", kind)
	}

	return json.Marshal(fields)
}
