// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"errors"
	"io"
	"net"

	"github.com/nishisan-dev/brokerlink/internal/queue"
	"github.com/nishisan-dev/brokerlink/internal/wire"
)

// receiveBufferPackets sizes the accumulation buffer for at least 10
// maximum-size packets, per spec.md §4.6.
const receiveBufferPackets = 10

// receiveLoop reads frames off conn until the connection is closed (locally
// or by the broker), reassembling frames by header length and routing each
// one to its device's response slot or to the dispatch queue.
//
// It runs as the receive worker spawned by connect_unlocked. receiveFlag is
// the cooperative stop signal: Disconnect sets it false and closes conn
// before this loop would otherwise notice, so a local shutdown never
// double-posts a DISCONNECTED meta — Disconnect posts its own.
func (c *Connection) receiveLoop(conn net.Conn) {
	log := c.logger.With("worker", "receive")
	log.Debug("receive worker started")

	tmp := make([]byte, wire.MaxPacketSize*receiveBufferPackets)
	pending := make([]byte, 0, len(tmp))

	for {
		n, err := conn.Read(tmp)

		if !c.receiveFlag.Load() {
			log.Debug("receive worker stopping, disconnect already in progress")
			return
		}

		if n > 0 {
			pending = append(pending, tmp[:n]...)
			pending = c.drainFrames(pending)
		}

		if err != nil {
			c.autoReconnectAllowed.Store(true)
			c.receiveFlag.Store(false)

			reason := DisconnectReasonError
			if errors.Is(err, io.EOF) {
				reason = DisconnectReasonShutdown
			}
			log.Info("receive worker exiting", "reason", reason, "error", err)
			c.postDisconnected(reason)
			return
		}
	}
}

// drainFrames extracts every complete frame from the front of buf, routing
// each one, and returns the unconsumed remainder.
func (c *Connection) drainFrames(buf []byte) []byte {
	for {
		if len(buf) < wire.HeaderSize {
			return buf
		}

		length := buf[4]
		if int(length) > len(buf) {
			return buf
		}
		if length < wire.HeaderSize {
			// Malformed length byte; drop the byte and resync rather than
			// spinning on a frame that can never complete.
			buf = buf[1:]
			continue
		}

		frame := append([]byte(nil), buf[:length]...)
		buf = buf[length:]
		c.routeFrame(frame)
	}
}

// routeFrame implements spec.md §4.6 step 5: classify and deliver one frame.
func (c *Connection) routeFrame(frame []byte) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		return
	}
	payload := frame[wire.HeaderSize:]

	if h.IsEvent() && h.FunctionID == wire.FunctionEnumerateCallback {
		if c.hasEnumerateCallback() {
			if q := c.dispatchQueueRef(); q != nil {
				q.Put(queue.Packet, frame)
			}
		}
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

	if h.IsEvent() {
		if dev.HasHandler(h.FunctionID) {
			if q := c.dispatchQueueRef(); q != nil {
				q.Put(queue.Packet, frame)
			}
		}
		return
	}

	dev.deliverResponse(h, payload)
}
