// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package client implements the broker connection lifecycle: connect,
// disconnect, auto-reconnect, sequence-number allocation, and synchronous
// request/response exchange over a persistent stream connection.
package client

import (
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/brokerlink/internal/queue"
	"github.com/nishisan-dev/brokerlink/internal/registry"
	"github.com/nishisan-dev/brokerlink/internal/wire"
)

// Connection states (spec.md §6).
const (
	StateDisconnected = 0
	StateConnected    = 1
	StatePending      = 2
)

// Connect reasons delivered with a CONNECTED meta event.
const (
	ConnectReasonRequest       = 0
	ConnectReasonAutoReconnect = 1
)

// Disconnect reasons delivered with a DISCONNECTED meta event.
const (
	DisconnectReasonRequest  = 0
	DisconnectReasonError    = 1
	DisconnectReasonShutdown = 2
)

// Callback ids. Values are fixed by the protocol and must be preserved.
const (
	CallbackConnected    = 0
	CallbackEnumerate    = 253
	CallbackDisconnected = 2
)

// reconnectRetryInterval paces the dispatch worker's auto-reconnect loop.
const reconnectRetryInterval = 100 * time.Millisecond

// postCloseSettle is the pause observed by the dispatch worker between
// closing a socket and invoking the disconnected callback, so a server
// that is mid-restart doesn't get raced by an immediate reconnect attempt
// (spec.md §4.7).
const postCloseSettle = 100 * time.Millisecond

// Connection is the broker connection manager described in spec.md §3/§4.8.
type Connection struct {
	logger *slog.Logger

	host string
	port int

	timeoutMs atomic.Int64

	socketLock sync.Mutex
	conn       net.Conn

	seq      *wire.SequenceAllocator
	registry *registry.Registry

	autoReconnect        atomic.Bool
	autoReconnectAllowed atomic.Bool
	autoReconnectPending atomic.Bool

	receiveFlag atomic.Bool

	dispatchMu    sync.Mutex
	dispatchQueue *queue.Queue
	dispatchDone  chan struct{}

	inDispatchCallback atomic.Bool

	callbacksMu    sync.RWMutex
	onConnected    func(reason int)
	onDisconnected func(reason int)
	onEnumerate    func(wire.EnumerateCallback)

	reconnectPacer *reconnectPacer
}

// New creates a disconnected connection manager. Call Connect to establish
// the socket and spawn the workers.
func New(logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		logger:         logger.With("component", "connection"),
		seq:            wire.NewSequenceAllocator(),
		registry:       registry.New(),
		reconnectPacer: newReconnectPacer(reconnectRetryInterval),
	}
	c.timeoutMs.Store(2500)
	c.autoReconnect.Store(true)
	return c
}

// RegisterConnectedHandler stores the callback invoked for CallbackConnected.
func (c *Connection) RegisterConnectedHandler(fn func(reason int)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onConnected = fn
}

// RegisterDisconnectedHandler stores the callback invoked for CallbackDisconnected.
func (c *Connection) RegisterDisconnectedHandler(fn func(reason int)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onDisconnected = fn
}

// RegisterEnumerateHandler stores the callback invoked for CallbackEnumerate.
func (c *Connection) RegisterEnumerateHandler(fn func(wire.EnumerateCallback)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onEnumerate = fn
}

func (c *Connection) hasEnumerateCallback() bool {
	c.callbacksMu.RLock()
	defer c.callbacksMu.RUnlock()
	return c.onEnumerate != nil
}

// SetAutoReconnect enables or disables reconnect-on-failure. Disabling also
// aborts any retry currently in progress (spec.md §4.8).
func (c *Connection) SetAutoReconnect(flag bool) {
	c.autoReconnect.Store(flag)
	if !flag {
		c.autoReconnectAllowed.Store(false)
	}
}

// AutoReconnect reports the current auto-reconnect setting.
func (c *Connection) AutoReconnect() bool { return c.autoReconnect.Load() }

// SetTimeoutMs sets the per-request timeout in milliseconds.
func (c *Connection) SetTimeoutMs(ms int) { c.timeoutMs.Store(int64(ms)) }

// TimeoutMs returns the current per-request timeout in milliseconds.
func (c *Connection) TimeoutMs() int { return int(c.timeoutMs.Load()) }

// Registry exposes the connection's device registry for device construction.
func (c *Connection) Registry() *registry.Registry { return c.registry }

// Host returns the broker hostname passed to the most recent Connect call.
func (c *Connection) Host() string {
	c.socketLock.Lock()
	defer c.socketLock.Unlock()
	return c.host
}

// Port returns the broker port passed to the most recent Connect call.
func (c *Connection) Port() int {
	c.socketLock.Lock()
	defer c.socketLock.Unlock()
	return c.port
}

// GetConnectionState implements spec.md §4.8's tri-state accessor.
func (c *Connection) GetConnectionState() int {
	c.socketLock.Lock()
	defer c.socketLock.Unlock()

	if c.conn != nil {
		return StateConnected
	}
	if c.autoReconnectPending.Load() {
		return StatePending
	}
	return StateDisconnected
}

// Connect establishes the broker connection, spawning the dispatch and
// receive workers on first use.
func (c *Connection) Connect(host string, port int) error {
	c.socketLock.Lock()
	defer c.socketLock.Unlock()

	if c.conn != nil {
		return newError("connect", AlreadyConnected, nil)
	}

	c.host = host
	c.port = port
	return c.connectUnlocked(false)
}

// connectUnlocked assumes socketLock is held. is_auto distinguishes a
// user-requested connect from an auto-reconnect attempt, only for the
// CONNECTED meta's reason field. A bad hostname or unreachable broker
// leaves the dispatch worker it ensured running, so a retried Connect (or
// the next auto-reconnect attempt) can reuse it instead of respawning —
// matching ipcon_connect_unlocked, which only tears down the callback
// thread on E_NO_THREAD, never on E_HOSTNAME_INVALID or E_NO_CONNECT.
func (c *Connection) connectUnlocked(isAuto bool) error {
	c.ensureDispatchWorker()

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return newError("connect", HostnameInvalid, err)
	}

	dialer := net.Dialer{Timeout: time.Duration(c.TimeoutMs()) * time.Millisecond}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return newError("connect", NoConnect, err)
	}

	c.conn = conn
	c.receiveFlag.Store(true)

	go c.receiveLoop(conn)

	c.autoReconnectAllowed.Store(false)
	c.autoReconnectPending.Store(false)

	reason := ConnectReasonRequest
	if isAuto {
		reason = ConnectReasonAutoReconnect
	}
	c.postConnected(reason)

	c.logger.Info("connected", "host", c.host, "port", c.port, "auto", isAuto)
	return nil
}

// ensureDispatchWorker spawns the dispatch worker and its queue if none
// exists yet. The dispatch worker persists across reconnects and across
// failed connect attempts alike; only an explicit Disconnect tears it down.
func (c *Connection) ensureDispatchWorker() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if c.dispatchQueue != nil {
		return
	}

	c.dispatchQueue = queue.New()
	c.dispatchDone = make(chan struct{})
	go c.dispatchLoop(c.dispatchQueue, c.dispatchDone)
}

// Disconnect tears down the connection and, unless auto-reconnect is
// actively retrying, both workers.
func (c *Connection) Disconnect() error {
	c.socketLock.Lock()

	c.autoReconnectAllowed.Store(false)

	if c.autoReconnectPending.Load() {
		c.autoReconnectPending.Store(false)
		c.socketLock.Unlock()
		return nil
	}

	if c.conn == nil {
		c.socketLock.Unlock()
		return newError("disconnect", NotConnected, nil)
	}

	c.receiveFlag.Store(false)
	conn := c.conn
	c.conn = nil
	conn.Close()

	c.dispatchMu.Lock()
	q := c.dispatchQueue
	done := c.dispatchDone
	c.dispatchQueue = nil
	c.dispatchDone = nil
	c.dispatchMu.Unlock()

	c.socketLock.Unlock()

	if q != nil {
		q.Put(queue.Meta, encodeMeta(metaDisconnected, DisconnectReasonRequest))
		q.Put(queue.Exit, nil)
	}
	if done != nil && !c.inDispatchCallback.Load() {
		<-done
	}

	c.logger.Info("disconnected")
	return nil
}

// Enumerate broadcasts an ENUMERATE request; the broker replies with one
// ENUMERATE_CALLBACK frame per attached device.
func (c *Connection) Enumerate() error {
	c.socketLock.Lock()
	defer c.socketLock.Unlock()

	if c.conn == nil {
		return newError("enumerate", NotConnected, nil)
	}

	h := wire.BuildEnumerateHeader(c.seq)
	frame := h.Marshal()
	_, err := c.conn.Write(frame[:])
	if err != nil {
		return newError("enumerate", NoConnect, err)
	}
	return nil
}

// dispatchQueueRef returns the current dispatch queue, if any, under
// dispatchMu — the receive worker and connection manager only ever touch
// the queue pointer through this accessor or the postX helpers below.
func (c *Connection) dispatchQueueRef() *queue.Queue {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	return c.dispatchQueue
}

// postConnected enqueues a CONNECTED meta event for the dispatch worker.
func (c *Connection) postConnected(reason int) {
	if q := c.dispatchQueueRef(); q != nil {
		q.Put(queue.Meta, encodeMeta(metaConnected, reason))
	}
}

// postDisconnected enqueues a DISCONNECTED meta event for the dispatch
// worker, called by the receive worker on an unsolicited disconnect.
func (c *Connection) postDisconnected(reason int) {
	if q := c.dispatchQueueRef(); q != nil {
		q.Put(queue.Meta, encodeMeta(metaDisconnected, reason))
	}
}

const (
	metaConnected    = 0
	metaDisconnected = 1
)

func encodeMeta(kind, reason int) []byte {
	return []byte{byte(kind), byte(reason)}
}
