// Package postgrest implements karasync.RemoteDataSource against a
// Supabase/PostgREST-style REST API. It is the only layer that sees
// transport errors; everything it returns is a *karasync.RemoteError so the
// engine classifies failures by kind, never by message text.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Anne-LindedeGroot/Karatapp-sub006/karasync"
)

// Client talks to the backend's REST endpoint.
type Client struct {
	BaseURL string
	// APIKey is the anon/service key, sent as the apikey header.
	APIKey string
	// Token returns the bearer JWT attached to each request.
	Token  func(ctx context.Context) (string, error)
	HTTP   *http.Client
	logger *slog.Logger
}

// NewClient creates a REST client. The HTTP client carries a generous
// overall timeout; per-call deadlines come from the engine's context.
func NewClient(baseURL, apiKey string, token func(ctx context.Context) (string, error), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

var tableFor = map[karasync.EntityType]string{
	karasync.EntityKata:               "katas",
	karasync.EntityOhyo:               "ohyos",
	karasync.EntityForumPost:          "forum_posts",
	karasync.EntityCommentInteraction: "comments",
}

// row is the wire shape of a fetched record: an id plus arbitrary columns
// kept opaque as the entity payload.
type row map[string]json.RawMessage

func (r row) id() (string, error) {
	raw, ok := r["id"]
	if !ok {
		return "", fmt.Errorf("row missing id column")
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("failed to decode row id: %w", err)
	}
	return id, nil
}

// FetchAll returns every row of the entity's table.
func (c *Client) FetchAll(ctx context.Context, t karasync.EntityType) ([]karasync.CachedEntity, error) {
	table, err := c.table(t)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, "/rest/v1/"+table+"?select=*", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeEntities(body, t)
}

// FetchOne returns a single row or a not-found error.
func (c *Client) FetchOne(ctx context.Context, t karasync.EntityType, id string) (*karasync.CachedEntity, error) {
	table, err := c.table(t)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/rest/v1/%s?select=*&id=eq.%s", table, url.QueryEscape(id))
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	entities, err := decodeEntities(body, t)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, karasync.NewRemoteError(karasync.KindNotFound,
			fmt.Errorf("%s %s not found", t, id))
	}
	return &entities[0], nil
}

// FetchComments returns one page of comments for a target entity, ordered
// by creation so pagination is stable.
func (c *Client) FetchComments(ctx context.Context, t karasync.EntityType, id string, page, pageSize int) ([]karasync.Comment, error) {
	path := fmt.Sprintf(
		"/rest/v1/comments?select=*&target_type=eq.%s&target_id=eq.%s&order=updated_at.asc&offset=%d&limit=%d",
		url.QueryEscape(string(t)), url.QueryEscape(id), page*pageSize, pageSize)
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var comments []karasync.Comment
	if err := json.Unmarshal(body, &comments); err != nil {
		return nil, karasync.NewRemoteError(karasync.KindValidation,
			fmt.Errorf("failed to decode comments: %w", err))
	}
	return comments, nil
}

// Apply replays a queued mutation. The operation id travels as an
// Idempotency-Key header so a retried call the server already applied is
// acknowledged instead of re-applied; the server signals that with a 200 on
// a create (201 for a fresh insert).
func (c *Client) Apply(ctx context.Context, op *karasync.QueuedOperation) (*karasync.MutationResult, error) {
	headers := http.Header{}
	headers.Set("Idempotency-Key", op.ID)

	switch op.Type {
	case karasync.OpAddComment:
		var data karasync.AddCommentData
		if err := json.Unmarshal(op.Data, &data); err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation, err)
		}
		payload := map[string]any{
			"client_id": data.TempID,
			"parent_id": nullable(data.ParentID),
			"content":   data.Content,
			"author_id": op.UserID,
		}
		headers.Set("Prefer", "return=representation,resolution=merge-duplicates")
		return c.mutate(ctx, http.MethodPost, "/rest/v1/comments", payload, headers, op)

	case karasync.OpUpdateComment:
		var data karasync.UpdateCommentData
		if err := json.Unmarshal(op.Data, &data); err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation, err)
		}
		headers.Set("Prefer", "return=representation")
		path := "/rest/v1/comments?id=eq." + url.QueryEscape(op.EntityID)
		return c.mutate(ctx, http.MethodPatch, path, map[string]any{"content": data.Content}, headers, op)

	case karasync.OpDeleteComment:
		path := "/rest/v1/comments?id=eq." + url.QueryEscape(op.EntityID)
		if _, err := c.do(ctx, http.MethodDelete, path, nil, headers); err != nil {
			// Deleting an already-deleted comment is success for replay.
			if karasync.KindOf(err) == karasync.KindNotFound {
				return &karasync.MutationResult{AlreadyApplied: true}, nil
			}
			return nil, err
		}
		return &karasync.MutationResult{}, nil

	case karasync.OpSetLike, karasync.OpSetDislike:
		var data karasync.SetReactionData
		if err := json.Unmarshal(op.Data, &data); err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation, err)
		}
		reaction := "like"
		if op.Type == karasync.OpSetDislike {
			reaction = "dislike"
		}
		payload := map[string]any{
			"entity_type": op.EntityType,
			"entity_id":   op.EntityID,
			"user_id":     op.UserID,
			"reaction":    reaction,
			"target":      data.Target,
		}
		return c.mutate(ctx, http.MethodPost, "/rest/v1/rpc/set_reaction", payload, headers, op)

	default:
		return nil, karasync.NewRemoteError(karasync.KindValidation,
			fmt.Errorf("unsupported operation type %s", op.Type))
	}
}

// mutate issues a write and decodes the representation (when returned) into
// a MutationResult.
func (c *Client) mutate(ctx context.Context, method, path string, payload any, headers http.Header, op *karasync.QueuedOperation) (*karasync.MutationResult, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation, err)
		}
		body = bytes.NewReader(raw)
	}
	respBody, err := c.do(ctx, method, path, body, headers)
	if err != nil {
		return nil, err
	}

	result := &karasync.MutationResult{ServerTime: time.Now().UTC()}
	if len(respBody) == 0 {
		return result, nil
	}

	// Representation comes back either as a bare object or a one-element
	// array depending on the endpoint.
	trimmed := bytes.TrimSpace(respBody)
	var rows []row
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation,
				fmt.Errorf("failed to decode mutation response: %w", err))
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var single row
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation,
				fmt.Errorf("failed to decode mutation response: %w", err))
		}
		rows = []row{single}
	default:
		return result, nil
	}
	if len(rows) == 0 {
		return result, nil
	}

	id, err := rows[0].id()
	if err != nil {
		return nil, karasync.NewRemoteError(karasync.KindValidation, err)
	}
	payloadRaw, err := json.Marshal(rows[0])
	if err != nil {
		return nil, karasync.NewRemoteError(karasync.KindValidation, err)
	}
	result.Entity = &karasync.CachedEntity{
		ID:      id,
		Type:    op.EntityType,
		Payload: payloadRaw,
	}
	if raw, ok := rows[0]["updated_at"]; ok {
		var ts time.Time
		if err := json.Unmarshal(raw, &ts); err == nil {
			result.ServerTime = ts
		}
	}
	if raw, ok := rows[0]["already_applied"]; ok {
		_ = json.Unmarshal(raw, &result.AlreadyApplied)
	}
	return result, nil
}

// do issues a request and maps any failure into the error-kind taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, karasync.NewRemoteError(karasync.KindValidation,
			fmt.Errorf("failed to build request: %w", err))
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, karasync.NewRemoteError(karasync.KindAuth,
			fmt.Errorf("failed to get token: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, classifyStatus(resp.StatusCode, respBody)
}

func (c *Client) table(t karasync.EntityType) (string, error) {
	table, ok := tableFor[t]
	if !ok {
		return "", karasync.NewRemoteError(karasync.KindValidation,
			fmt.Errorf("unknown entity type %s", t))
	}
	return table, nil
}

func decodeEntities(body []byte, t karasync.EntityType) ([]karasync.CachedEntity, error) {
	var rows []row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, karasync.NewRemoteError(karasync.KindValidation,
			fmt.Errorf("failed to decode %s rows: %w", t, err))
	}
	entities := make([]karasync.CachedEntity, 0, len(rows))
	for _, r := range rows {
		id, err := r.id()
		if err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation, err)
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, karasync.NewRemoteError(karasync.KindValidation, err)
		}
		entities = append(entities, karasync.CachedEntity{ID: id, Type: t, Payload: payload})
	}
	return entities, nil
}

func classifyTransport(err error) *karasync.RemoteError {
	if errors.Is(err, context.DeadlineExceeded) {
		return karasync.NewRemoteError(karasync.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return karasync.NewRemoteError(karasync.KindTimeout, err)
	}
	return karasync.NewRemoteError(karasync.KindNetwork, err)
}

func classifyStatus(status int, body []byte) *karasync.RemoteError {
	err := fmt.Errorf("server returned status %d: %s", status, bytes.TrimSpace(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return karasync.NewRemoteError(karasync.KindAuth, err)
	case status == http.StatusNotFound || status == http.StatusNotAcceptable:
		return karasync.NewRemoteError(karasync.KindNotFound, err)
	case status == http.StatusBadRequest || status == http.StatusConflict ||
		status == http.StatusUnprocessableEntity:
		return karasync.NewRemoteError(karasync.KindValidation, err)
	case status == http.StatusRequestTimeout:
		return karasync.NewRemoteError(karasync.KindTimeout, err)
	case status >= 500:
		return karasync.NewRemoteError(karasync.KindServer, err)
	default:
		return karasync.NewRemoteError(karasync.KindUnknown, err)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
