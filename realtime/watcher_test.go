// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoServer upgrades and then just reads, answering pings automatically via
// the default control handler. It tracks upgraded connections so tests can
// sever them; closing the HTTP listener alone leaves hijacked websocket
// connections alive.
type echoServer struct {
	*httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

// dropConnections severs every live websocket from the server side.
func (s *echoServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestWatcher(url string) *Watcher {
	w := NewWatcher(url, testLogger())
	w.PingInterval = 20 * time.Millisecond
	w.RedialMin = 10 * time.Millisecond
	w.RedialMax = 50 * time.Millisecond
	return w
}

func TestWatcherConnects(t *testing.T) {
	server := newEchoServer(t)
	w := newTestWatcher(wsURL(server.Server))

	require.False(t, w.Connected(), "down until the first dial succeeds")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.Eventually(t, w.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherFiresOnReconnect(t *testing.T) {
	server := newEchoServer(t)
	w := newTestWatcher(wsURL(server.Server))

	var fires atomic.Int32
	w.OnReconnect = func() { fires.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.Eventually(t, func() bool { return fires.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherDetectsDisconnect(t *testing.T) {
	server := newEchoServer(t)
	w := newTestWatcher(wsURL(server.Server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	require.Eventually(t, w.Connected, 2*time.Second, 10*time.Millisecond)

	// Stop accepting new dials, then sever the live websocket. The read loop
	// breaks and the state flips down; every redial fails, so Connected
	// stays false.
	server.Close()
	server.dropConnections()

	require.Eventually(t, func() bool { return !w.Connected() }, 2*time.Second, 10*time.Millisecond)
}

// A peer that swallows pings without answering looks alive to writes; only
// the pong deadline can declare the link dead. A second reconnect proves the
// watcher dropped the first connection on its own.
func TestWatcherDropsUnresponsivePeer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error { return nil }) // never pong
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	w := newTestWatcher(wsURL(server))
	var reconnects atomic.Int32
	w.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.Eventually(t, func() bool { return reconnects.Load() >= 2 },
		2*time.Second, 10*time.Millisecond,
		"pong deadline must kill a silently dead link")
}

func TestWatcherStaysDownWhileUnreachable(t *testing.T) {
	// A server that was already closed: every dial fails.
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	w := newTestWatcher(url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	require.False(t, w.Connected())
}
