// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package postgrest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anne-LindedeGroot/Karatapp-sub006/karasync"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "anon-key",
		func(ctx context.Context) (string, error) { return "test-jwt", nil },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchAllDecodesRows(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/katas", r.URL.Path)
		require.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		w.Write([]byte(`[{"id":"k1","name":"Heian Shodan","like_count":3},{"id":"k2","name":"Heian Nidan"}]`))
	})

	entities, err := client.FetchAll(context.Background(), karasync.EntityKata)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	require.Equal(t, "k1", entities[0].ID)
	require.Equal(t, karasync.EntityKata, entities[0].Type)
	require.Contains(t, string(entities[0].Payload), "Heian Shodan")
}

func TestFetchOneEmptyResultIsNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eq.k404", r.URL.Query().Get("id"))
		w.Write([]byte(`[]`))
	})

	_, err := client.FetchOne(context.Background(), karasync.EntityKata, "k404")
	require.Error(t, err)
	require.Equal(t, karasync.KindNotFound, karasync.KindOf(err))
}

func TestStatusKindMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   karasync.ErrorKind
	}{
		{http.StatusUnauthorized, karasync.KindAuth},
		{http.StatusForbidden, karasync.KindAuth},
		{http.StatusNotFound, karasync.KindNotFound},
		{http.StatusNotAcceptable, karasync.KindNotFound},
		{http.StatusBadRequest, karasync.KindValidation},
		{http.StatusConflict, karasync.KindValidation},
		{http.StatusUnprocessableEntity, karasync.KindValidation},
		{http.StatusRequestTimeout, karasync.KindTimeout},
		{http.StatusInternalServerError, karasync.KindServer},
		{http.StatusBadGateway, karasync.KindServer},
		{http.StatusTeapot, karasync.KindUnknown},
	}
	for _, tc := range cases {
		err := classifyStatus(tc.status, []byte("body"))
		require.Equal(t, tc.kind, err.Kind, "status %d", tc.status)
	}
}

func TestConnectionRefusedIsNetworkKind(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close() // nothing listens here anymore

	client := NewClient(url, "anon-key",
		func(ctx context.Context) (string, error) { return "jwt", nil },
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := client.FetchAll(context.Background(), karasync.EntityKata)
	require.Error(t, err)
	require.Equal(t, karasync.KindNetwork, karasync.KindOf(err))
	require.True(t, karasync.IsTransient(err))
}

func TestApplyAddCommentSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotPrefer string
	var gotBody map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/v1/comments", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotPrefer = r.Header.Get("Prefer")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"c-server-1","content":"osu","updated_at":"2025-06-01T12:00:00Z"}]`))
	})

	op := &karasync.QueuedOperation{
		ID:         karasync.OperationID(karasync.OpAddComment, karasync.EntityCommentInteraction, "tmp1", "tmp1"),
		Type:       karasync.OpAddComment,
		EntityType: karasync.EntityCommentInteraction,
		EntityID:   "tmp1",
		UserID:     "user-1",
		Data:       json.RawMessage(`{"temp_id":"tmp1","content":"osu"}`),
	}
	result, err := client.Apply(context.Background(), op)
	require.NoError(t, err)

	require.Equal(t, op.ID, gotKey, "operation id travels as the idempotency key")
	require.Contains(t, gotPrefer, "merge-duplicates")
	require.Equal(t, "tmp1", gotBody["client_id"])
	require.Nil(t, gotBody["parent_id"], "empty parent becomes SQL null")

	require.NotNil(t, result.Entity)
	require.Equal(t, "c-server-1", result.Entity.ID, "server-assigned id replaces the temp id")
	require.Equal(t, "2025-06-01T12:00:00Z", result.ServerTime.Format("2006-01-02T15:04:05Z"))
}

func TestApplyDeleteOfMissingCommentIsAlreadyApplied(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	op := &karasync.QueuedOperation{
		ID:         karasync.OperationID(karasync.OpDeleteComment, karasync.EntityCommentInteraction, "c1", ""),
		Type:       karasync.OpDeleteComment,
		EntityType: karasync.EntityCommentInteraction,
		EntityID:   "c1",
	}
	result, err := client.Apply(context.Background(), op)
	require.NoError(t, err, "deleting an already-deleted comment is success for replay")
	require.True(t, result.AlreadyApplied)
}

func TestApplySetReactionCallsRPC(t *testing.T) {
	var gotBody map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/rpc/set_reaction", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id":"k1","is_liked":true,"like_count":4,"already_applied":false}`))
	})

	op := &karasync.QueuedOperation{
		ID:         karasync.OperationID(karasync.OpSetLike, karasync.EntityKata, "k1", ""),
		Type:       karasync.OpSetLike,
		EntityType: karasync.EntityKata,
		EntityID:   "k1",
		UserID:     "user-1",
		Data:       json.RawMessage(`{"target":true}`),
	}
	result, err := client.Apply(context.Background(), op)
	require.NoError(t, err)

	require.Equal(t, "like", gotBody["reaction"])
	require.Equal(t, true, gotBody["target"])
	require.NotNil(t, result.Entity)
	require.Contains(t, string(result.Entity.Payload), `"like_count":4`)
}

func TestApplyReplayedCreateAcknowledged(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Merge-duplicates on a replayed create returns the existing row.
		w.Write([]byte(`[{"id":"c-server-1","content":"osu","already_applied":true}]`))
	})

	op := &karasync.QueuedOperation{
		ID:         karasync.OperationID(karasync.OpAddComment, karasync.EntityCommentInteraction, "tmp1", "tmp1"),
		Type:       karasync.OpAddComment,
		EntityType: karasync.EntityCommentInteraction,
		EntityID:   "tmp1",
		Data:       json.RawMessage(`{"temp_id":"tmp1","content":"osu"}`),
	}
	result, err := client.Apply(context.Background(), op)
	require.NoError(t, err)
	require.True(t, result.AlreadyApplied)
}

func TestFetchCommentsPagination(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "eq.kata", q.Get("target_type"))
		require.Equal(t, "eq.k1", q.Get("target_id"))
		require.Equal(t, "100", q.Get("offset"))
		require.Equal(t, "50", q.Get("limit"))
		w.Write([]byte(`[{"id":"c1","content":"osu"}]`))
	})

	comments, err := client.FetchComments(context.Background(), karasync.EntityKata, "k1", 2, 50)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "c1", comments[0].ID)
}
