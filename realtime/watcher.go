// Package realtime implements the connectivity signal as a websocket
// heartbeat against the backend's realtime endpoint. The engine only ever
// asks Connected(); the watcher keeps the answer fresh in the background
// and fires a callback when connectivity returns so a sync cycle can run
// immediately instead of waiting for the next tick.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Watcher maintains a websocket heartbeat and exposes the connectivity
// state. It implements karasync.ConnectivitySignal.
type Watcher struct {
	URL          string
	PingInterval time.Duration
	RedialMin    time.Duration
	RedialMax    time.Duration

	// OnReconnect runs every time the connection transitions from down to
	// up, typically wired to the engine's TriggerSync.
	OnReconnect func()

	dialer    *websocket.Dialer
	logger    *slog.Logger
	connected atomic.Bool
}

// NewWatcher creates a watcher for the given websocket URL.
func NewWatcher(url string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		URL:          url,
		PingInterval: 15 * time.Second,
		RedialMin:    1 * time.Second,
		RedialMax:    60 * time.Second,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
	}
}

// Connected reports the current connectivity state. Always a non-blocking
// local read.
func (w *Watcher) Connected() bool { return w.connected.Load() }

// Start runs the dial/heartbeat loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	backoff := w.RedialMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := w.dialer.DialContext(ctx, w.URL, nil)
		if err != nil {
			w.connected.Store(false)
			w.logger.Debug("realtime dial failed", "error", err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = backoff * 2
			if backoff > w.RedialMax {
				backoff = w.RedialMax
			}
			continue
		}

		backoff = w.RedialMin
		wasDown := !w.connected.Swap(true)
		if wasDown && w.OnReconnect != nil {
			w.OnReconnect()
		}

		w.heartbeat(ctx, conn)
		w.connected.Store(false)
		conn.Close()
	}
}

// heartbeat pings until the connection breaks, pongs stop coming, or ctx is
// cancelled.
func (w *Watcher) heartbeat(ctx context.Context, conn *websocket.Conn) {
	// Pong-based liveness. A link that drops silently (mobile network loss,
	// no RST) keeps accepting writes into the socket buffer, so write errors
	// alone never reveal the dead peer; a missed read deadline does.
	liveness := 2 * w.PingInterval
	if err := conn.SetReadDeadline(time.Now().Add(liveness)); err != nil {
		w.logger.Debug("realtime read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveness))
	})

	// Reader must run for control frames (pongs) to be processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.PingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.logger.Debug("realtime ping failed", "error", err)
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
