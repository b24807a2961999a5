// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package karasync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRemote is a scriptable RemoteDataSource that records every call.
type fakeRemote struct {
	mu sync.Mutex

	entities map[EntityType]map[string]json.RawMessage
	comments map[string][]Comment

	// applyErrs scripts errors per operation id, consumed in order.
	applyErrs map[string][]error
	// alreadyApplied marks operation ids the server has seen before.
	alreadyApplied map[string]bool

	calls       []string // "fetchAll:kata", "apply:set-like:...", ...
	appliedOps  []QueuedOperation
	fetchAllErr error
	fetchOneErr error
	serverTime  time.Time
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		entities:       map[EntityType]map[string]json.RawMessage{},
		comments:       map[string][]Comment{},
		applyErrs:      map[string][]error{},
		alreadyApplied: map[string]bool{},
		serverTime:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRemote) seed(t EntityType, id string, payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entities[t] == nil {
		f.entities[t] = map[string]json.RawMessage{}
	}
	f.entities[t][id] = payload
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) FetchAll(ctx context.Context, t EntityType) ([]CachedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetchAll:"+string(t))
	if f.fetchAllErr != nil {
		return nil, f.fetchAllErr
	}
	var out []CachedEntity
	for id, payload := range f.entities[t] {
		out = append(out, CachedEntity{ID: id, Type: t, Payload: payload})
	}
	return out, nil
}

func (f *fakeRemote) FetchOne(ctx context.Context, t EntityType, id string) (*CachedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetchOne:"+string(t)+":"+id)
	if f.fetchOneErr != nil {
		return nil, f.fetchOneErr
	}
	payload, ok := f.entities[t][id]
	if !ok {
		return nil, NewRemoteError(KindNotFound, fmt.Errorf("%s %s not found", t, id))
	}
	return &CachedEntity{ID: id, Type: t, Payload: payload}, nil
}

func (f *fakeRemote) FetchComments(ctx context.Context, t EntityType, id string, page, pageSize int) ([]Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("fetchComments:%s:%s:%d", t, id, page))
	all := f.comments[string(t)+"/"+id]
	start := page * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeRemote) Apply(ctx context.Context, op *QueuedOperation) (*MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "apply:"+op.ID)

	if errs := f.applyErrs[op.ID]; len(errs) > 0 {
		err := errs[0]
		f.applyErrs[op.ID] = errs[1:]
		if err != nil {
			return nil, err
		}
	}

	f.appliedOps = append(f.appliedOps, *op)
	if f.alreadyApplied[op.ID] {
		return &MutationResult{AlreadyApplied: true, ServerTime: f.serverTime}, nil
	}
	f.alreadyApplied[op.ID] = true

	// Reflect the mutation into the fake server state for reactions.
	if op.Type == OpSetLike || op.Type == OpSetDislike {
		if payload, ok := f.entities[op.EntityType][op.EntityID]; ok {
			var data SetReactionData
			_ = json.Unmarshal(op.Data, &data)
			mutated, err := applyReaction(payload, op.Type, data.Target)
			if err == nil {
				f.entities[op.EntityType][op.EntityID] = mutated
				return &MutationResult{
					Entity:     &CachedEntity{ID: op.EntityID, Type: op.EntityType, Payload: mutated},
					ServerTime: f.serverTime,
				}, nil
			}
		}
	}
	return &MutationResult{ServerTime: f.serverTime}, nil
}

type staticConnectivity bool

func (s staticConnectivity) Connected() bool { return bool(s) }

type staticPolicy bool

func (s staticPolicy) AllowsBulkData() bool { return bool(s) }
