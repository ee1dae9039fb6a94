// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/brokerlink/internal/wire"
)

// mockBroker is a bare TCP listener standing in for the broker: tests
// accept connections from it directly and write/read raw frames.
type mockBroker struct {
	ln net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func newMockBroker(t *testing.T) *mockBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &mockBroker{ln: ln}
	t.Cleanup(b.close)
	return b
}

func (b *mockBroker) hostPort() (string, int) {
	addr := b.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (b *mockBroker) accept(t *testing.T) net.Conn {
	t.Helper()
	conn, err := b.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	return conn
}

func (b *mockBroker) close() {
	b.ln.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustConnect(t *testing.T, c *Connection, host string, port int) {
	t.Helper()
	if err := c.Connect(host, port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnectDisconnectLifecycle(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- broker.accept(t) }()

	mustConnect(t, c, host, port)
	<-accepted

	if got := c.GetConnectionState(); got != StateConnected {
		t.Fatalf("want StateConnected, got %d", got)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := c.GetConnectionState(); got != StateDisconnected {
		t.Fatalf("want StateDisconnected after Disconnect, got %d", got)
	}

	if err := c.Disconnect(); err == nil {
		t.Fatal("want NOT_CONNECTED on double disconnect")
	}
}

func TestConnectAlreadyConnected(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	go broker.accept(t)
	mustConnect(t, c, host, port)

	if err := c.Connect(host, port); err == nil {
		t.Fatal("want ALREADY_CONNECTED on second connect")
	}
}

func TestEnumerateWritesHeaderOnlyFrame(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	connCh := make(chan net.Conn, 1)
	go func() { connCh <- broker.accept(t) }()
	mustConnect(t, c, host, port)
	serverSide := <-connCh

	if err := c.Enumerate(); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	buf := make([]byte, wire.HeaderSize)
	serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(serverSide, buf); err != nil {
		t.Fatalf("reading enumerate frame: %v", err)
	}
	h, err := wire.ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.FunctionID != wire.FunctionEnumerate {
		t.Errorf("want function id %d, got %d", wire.FunctionEnumerate, h.FunctionID)
	}
	if h.UID != 0 {
		t.Errorf("want uid 0, got %d", h.UID)
	}
}

func TestSendRequestRoundTrip(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	connCh := make(chan net.Conn, 1)
	go func() { connCh <- broker.accept(t) }()
	mustConnect(t, c, host, port)
	serverSide := <-connCh

	dev := NewDevice(c, 0xdcc6e796)
	dev.DeclareFunction(1, RXTrue)

	go func() {
		buf := make([]byte, wire.HeaderSize+4)
		io.ReadFull(serverSide, buf)
		h, _ := wire.ParseHeader(buf)

		resp := wire.Header{
			UID:            dev.id,
			Length:         wire.HeaderSize + 2,
			FunctionID:     1,
			SequenceNumber: h.SequenceNumber,
			ErrorCode:      wire.ErrorCodeOK,
		}
		frame := resp.Marshal()
		out := append(frame[:], []byte{0xAB, 0xCD}...)
		serverSide.Write(out)
	}()

	payload, err := dev.SendRequest(1, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if len(payload) != 2 || payload[0] != 0xAB || payload[1] != 0xCD {
		t.Errorf("want response payload [0xAB 0xCD], got %v", payload)
	}
}

func TestSendRequestTimeout(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	c.SetTimeoutMs(100)
	connCh := make(chan net.Conn, 1)
	go func() { connCh <- broker.accept(t) }()
	mustConnect(t, c, host, port)
	serverSide := <-connCh
	defer serverSide.Close()

	dev := NewDevice(c, 1)
	dev.DeclareFunction(1, RXTrue)

	start := time.Now()
	_, err := dev.SendRequest(1, nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("want TIMEOUT error")
	}
	ce, ok := err.(*Error)
	if !ok || ce.Code != Timeout {
		t.Fatalf("want Timeout code, got %v", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("returned before timeout elapsed: %v", elapsed)
	}
}

func TestSendRequestNotConnected(t *testing.T) {
	c := New(discardLogger())
	dev := NewDevice(c, 1)
	dev.DeclareFunction(1, RXFalse)

	_, err := dev.SendRequest(1, nil)
	ce, ok := err.(*Error)
	if !ok || ce.Code != NotConnected {
		t.Fatalf("want NotConnected, got %v", err)
	}
}

func TestEventDispatchOrdering(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	connCh := make(chan net.Conn, 1)
	go func() { connCh <- broker.accept(t) }()
	mustConnect(t, c, host, port)
	serverSide := <-connCh

	var mu sync.Mutex
	var order []string
	got := make(chan struct{}, 3)

	c.RegisterEnumerateHandler(func(cb wire.EnumerateCallback) {
		mu.Lock()
		order = append(order, cb.UID)
		mu.Unlock()
		got <- struct{}{}
	})

	for _, uid := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"} {
		payload := make([]byte, wire.EnumerateCallbackPayloadSize)
		copy(payload[0:8], uid)
		h := wire.Header{
			UID:        0,
			Length:     uint8(wire.HeaderSize + len(payload)),
			FunctionID: wire.FunctionEnumerateCallback,
		}
		frame := h.Marshal()
		serverSide.Write(append(frame[:], payload...))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for enumerate callbacks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("position %d: want %q, got %q", i, w, order[i])
		}
	}
}

func TestAutoReconnect(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	connCh := make(chan net.Conn, 1)
	go func() { connCh <- broker.accept(t) }()
	mustConnect(t, c, host, port)
	first := <-connCh

	disconnected := make(chan int, 1)
	connected := make(chan int, 2)
	c.RegisterDisconnectedHandler(func(reason int) { disconnected <- reason })
	c.RegisterConnectedHandler(func(reason int) { connected <- reason })

	// drain the initial REQUEST connected meta
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("missing initial connected callback")
	}

	connCh2 := make(chan net.Conn, 1)
	go func() { connCh2 <- broker.accept(t) }()

	first.Close()

	select {
	case reason := <-disconnected:
		if reason != DisconnectReasonShutdown && reason != DisconnectReasonError {
			t.Errorf("want SHUTDOWN or ERROR reason, got %d", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnected callback")
	}

	if got := c.GetConnectionState(); got != StatePending && got != StateConnected {
		t.Errorf("want Pending or Connected shortly after drop, got %d", got)
	}

	select {
	case reason := <-connected:
		if reason != ConnectReasonAutoReconnect {
			t.Errorf("want AUTO_RECONNECT reason, got %d", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for auto-reconnect")
	}
	<-connCh2

	if got := c.GetConnectionState(); got != StateConnected {
		t.Errorf("want Connected after auto-reconnect, got %d", got)
	}

	c.Disconnect()
}

func TestDisconnectFromWithinDisconnectedCallback(t *testing.T) {
	broker := newMockBroker(t)
	host, port := broker.hostPort()

	c := New(discardLogger())
	c.SetAutoReconnect(false)
	connCh := make(chan net.Conn, 1)
	go func() { connCh <- broker.accept(t) }()
	mustConnect(t, c, host, port)
	<-connCh

	done := make(chan error, 1)
	c.RegisterDisconnectedHandler(func(reason int) {
		done <- c.Disconnect()
	})

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("want NOT_CONNECTED from reentrant disconnect, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant disconnect deadlocked")
	}
}
