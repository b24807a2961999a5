// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"context"
	"time"
)

// RemoteDataSource is the boundary to the hosted backend. Implementations
// must return *RemoteError so failures can be classified without string
// matching, and must expose idempotent semantics for Apply: replaying an
// operation the server already applied reports AlreadyApplied instead of
// applying it twice.
type RemoteDataSource interface {
	FetchAll(ctx context.Context, t EntityType) ([]CachedEntity, error)
	FetchOne(ctx context.Context, t EntityType, id string) (*CachedEntity, error)
	FetchComments(ctx context.Context, t EntityType, id string, page, pageSize int) ([]Comment, error)
	Apply(ctx context.Context, op *QueuedOperation) (*MutationResult, error)
}

// MutationResult is the acknowledgement for a replayed mutation.
type MutationResult struct {
	// Entity is the authoritative post-mutation state, when the backend
	// returns one (nil for deletes).
	Entity *CachedEntity
	// ServerTime is the server-side timestamp of the applied mutation, used
	// for last-write-wins resolution.
	ServerTime time.Time
	// AlreadyApplied is true when the server recognized the operation id and
	// skipped re-application.
	AlreadyApplied bool
}

// ConnectivitySignal gates sync cycles. How it is produced is
// platform-specific; the engine only asks.
type ConnectivitySignal interface {
	Connected() bool
}

// DataUsagePolicy gates bandwidth-heavy work such as the comprehensive
// cache warm-up.
type DataUsagePolicy interface {
	AllowsBulkData() bool
}

// ConnectivityFunc adapts a function to ConnectivitySignal.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) Connected() bool { return f() }

// DataUsageFunc adapts a function to DataUsagePolicy.
type DataUsageFunc func() bool

func (f DataUsageFunc) AllowsBulkData() bool { return f() }
