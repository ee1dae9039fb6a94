// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishisan-dev/brokerlink/internal/queue"
	"github.com/nishisan-dev/brokerlink/internal/wire"
)

// dispatchLoop drains q, delivering meta lifecycle events and routed packets
// to user callbacks on a single goroutine (spec.md §4.7). It owns reconnect
// orchestration and is responsible for closing done on exit.
func (c *Connection) dispatchLoop(q *queue.Queue, done chan struct{}) {
	defer close(done)
	log := c.logger.With("worker", "dispatch")
	log.Debug("dispatch worker started")

	for {
		item, err := q.Get()
		if err == queue.ErrClosed {
			return
		}

		switch item.Kind {
		case queue.Exit:
			log.Debug("dispatch worker exiting")
			return
		case queue.Meta:
			if len(item.Payload) < 2 {
				continue
			}
			c.handleMeta(int(item.Payload[0]), int(item.Payload[1]), log)
		case queue.Packet:
			c.handlePacket(item.Payload, log)
		}
	}
}

func (c *Connection) handleMeta(kind, reason int, log *slog.Logger) {
	switch kind {
	case metaConnected:
		log.Info("dispatching connected callback", "reason", reason)
		c.invokeConnected(reason)
	case metaDisconnected:
		log.Info("dispatching disconnected callback", "reason", reason)
		c.handleDisconnectedMeta(reason, log)
	}
}

func (c *Connection) invokeConnected(reason int) {
	c.callbacksMu.RLock()
	fn := c.onConnected
	c.callbacksMu.RUnlock()
	if fn == nil {
		return
	}
	c.inDispatchCallback.Store(true)
	fn(reason)
	c.inDispatchCallback.Store(false)
}

func (c *Connection) invokeDisconnected(reason int) {
	c.callbacksMu.RLock()
	fn := c.onDisconnected
	c.callbacksMu.RUnlock()
	if fn == nil {
		return
	}
	c.inDispatchCallback.Store(true)
	fn(reason)
	c.inDispatchCallback.Store(false)
}

// handleDisconnectedMeta implements spec.md §4.7's DISCONNECTED handling:
// close the socket, settle briefly, notify the user, then — unless this was
// a user-requested disconnect — run the cooperatively-cancellable
// auto-reconnect loop.
func (c *Connection) handleDisconnectedMeta(reason int, log *slog.Logger) {
	c.socketLock.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.socketLock.Unlock()

	time.Sleep(postCloseSettle)

	c.invokeDisconnected(reason)

	if reason == DisconnectReasonRequest || !c.autoReconnect.Load() || !c.autoReconnectAllowed.Load() {
		return
	}

	c.autoReconnectPending.Store(true)
	c.reconnectLoop(log)
}

// reconnectLoop retries connectUnlocked until it succeeds or
// auto_reconnect_allowed is cleared by a concurrent Disconnect.
func (c *Connection) reconnectLoop(log *slog.Logger) {
	ctx := context.Background()

	for {
		c.socketLock.Lock()
		if !c.autoReconnectAllowed.Load() {
			c.autoReconnectPending.Store(false)
			c.socketLock.Unlock()
			log.Info("auto-reconnect cancelled")
			return
		}
		if c.conn != nil {
			c.autoReconnectPending.Store(false)
			c.socketLock.Unlock()
			return
		}

		err := c.connectUnlocked(true)
		c.socketLock.Unlock()

		if err == nil {
			c.autoReconnectPending.Store(false)
			log.Info("auto-reconnect succeeded")
			return
		}

		log.Warn("auto-reconnect attempt failed", "error", err)
		c.reconnectPacer.wait(ctx)
	}
}

// handlePacket implements spec.md §4.7's PACKET handling.
func (c *Connection) handlePacket(frame []byte, log *slog.Logger) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		log.Warn("dropping malformed frame", "error", err)
		return
	}
	payload := frame[wire.HeaderSize:]

	if h.FunctionID == wire.FunctionEnumerateCallback {
		cb, err := wire.ParseEnumerateCallback(payload)
		if err != nil {
			log.Warn("dropping malformed enumerate callback", "error", err)
			return
		}
		c.callbacksMu.RLock()
		fn := c.onEnumerate
		c.callbacksMu.RUnlock()
		if fn == nil {
			return
		}
		c.inDispatchCallback.Store(true)
		fn(cb)
		c.inDispatchCallback.Store(false)
		return
	}

	entry, ok := c.registry.Lookup(h.UID)
	if !ok {
		return
	}
	dev, ok := entry.(*Device)
	if !ok {
		return
	}

	wrapper, ok := dev.wrapperFor(h.FunctionID)
	if !ok {
		return
	}
	c.inDispatchCallback.Store(true)
	wrapper(dev, h.FunctionID, payload)
	c.inDispatchCallback.Store(false)
}
