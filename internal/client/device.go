// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"sync"
	"time"

	"github.com/nishisan-dev/brokerlink/internal/wire"
)

// ResponseExpected is the per-(device,function) policy controlling whether
// send_request waits for a reply (spec.md §3, §4.9). INVALID and the ALWAYS_*
// entries are immutable; only FALSE/TRUE can be flipped by the user.
type ResponseExpected int

const (
	RXInvalid ResponseExpected = iota
	RXAlwaysFalse
	RXAlwaysTrue
	RXFalse
	RXTrue
)

func (r ResponseExpected) bool() bool {
	return r == RXAlwaysTrue || r == RXTrue
}

func (r ResponseExpected) mutable() bool {
	return r == RXFalse || r == RXTrue
}

// EventHandler is a user callback invoked for an unsolicited event frame.
type EventHandler func(dev *Device, functionID uint8, payload []byte)

// EventWrapper is what the dispatch worker actually invokes for a function
// id. A generated stub normally registers a wrapper that decodes payload
// into typed fields before calling the user's handler; RegisterHandler
// installs a pass-through wrapper for callers that want raw bytes.
type EventWrapper func(dev *Device, functionID uint8, payload []byte)

// response is what the receive worker copies into a device's response slot.
type response struct {
	header  wire.Header
	payload []byte
}

// Device is the per-device state described in spec.md §3: response-expected
// policy, the single in-flight response slot, and the handler/wrapper
// tables the dispatch worker consults for event frames.
type Device struct {
	id   uint32
	conn *Connection

	apiVersionMu sync.RWMutex
	apiVersion   [3]uint8

	// requestLock serializes send_request calls for this device — only one
	// in-flight request at a time (spec.md §3 invariant).
	requestLock sync.Mutex

	// stateMu guards everything below it: the response-expected table and
	// the fields identifying the response currently awaited.
	stateMu                sync.Mutex
	responseExpected       map[uint8]ResponseExpected
	expectedFunctionID     uint8
	expectedSequenceNumber uint8
	awaiting               bool
	responseCh             chan response

	handlersMu sync.RWMutex
	registered map[uint8]bool
	wrappers   map[uint8]EventWrapper
}

// NewDevice creates a device and self-registers it into conn's registry,
// matching spec.md §3's "devices self-register on construction" lifecycle.
func NewDevice(conn *Connection, id uint32) *Device {
	d := &Device{
		id:               id,
		conn:             conn,
		responseExpected: make(map[uint8]ResponseExpected),
		responseCh:       make(chan response, 1),
		registered:       make(map[uint8]bool),
		wrappers:         make(map[uint8]EventWrapper),
	}
	if conn != nil {
		conn.registry.Insert(d)
	}
	return d
}

// ID implements registry.Entry.
func (d *Device) ID() uint32 { return d.id }

// Release deregisters the device from its connection, matching the
// "deregister on destruction" half of spec.md §3's device lifecycle.
func (d *Device) Release() {
	if d.conn != nil {
		d.conn.registry.Remove(d.id)
	}
}

// APIVersion returns the device's (major, minor, revision) triple as last
// recorded by SetAPIVersion (all zero until then). No protocol operation
// sets or reads it (SPEC_FULL.md §3).
func (d *Device) APIVersion() (major, minor, revision uint8) {
	d.apiVersionMu.RLock()
	defer d.apiVersionMu.RUnlock()
	return d.apiVersion[0], d.apiVersion[1], d.apiVersion[2]
}

// SetAPIVersion records the device's API version triple.
func (d *Device) SetAPIVersion(major, minor, revision uint8) {
	d.apiVersionMu.Lock()
	defer d.apiVersionMu.Unlock()
	d.apiVersion = [3]uint8{major, minor, revision}
}

// DeclareFunction registers the default response-expected policy for a
// function id, as a generated stub would at construction time.
func (d *Device) DeclareFunction(functionID uint8, policy ResponseExpected) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.responseExpected[functionID] = policy
}

// GetResponseExpected returns the policy currently recorded for functionID,
// or RXInvalid if it was never declared.
func (d *Device) GetResponseExpected(functionID uint8) ResponseExpected {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.responseExpected[functionID]
}

// SetResponseExpected flips a mutable (FALSE/TRUE) entry; ALWAYS_* and
// undeclared entries are left untouched (spec.md §4.9).
func (d *Device) SetResponseExpected(functionID uint8, flag bool) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	cur, ok := d.responseExpected[functionID]
	if !ok || !cur.mutable() {
		return newError("set_response_expected", InvalidParameter, nil)
	}
	if flag {
		d.responseExpected[functionID] = RXTrue
	} else {
		d.responseExpected[functionID] = RXFalse
	}
	return nil
}

// SetResponseExpectedAll flips every currently mutable entry.
func (d *Device) SetResponseExpectedAll(flag bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	for id, cur := range d.responseExpected {
		if !cur.mutable() {
			continue
		}
		if flag {
			d.responseExpected[id] = RXTrue
		} else {
			d.responseExpected[id] = RXFalse
		}
	}
}

// RegisterHandler installs a raw byte-slice handler for functionID and
// marks the function as having a registered handler, so the receive worker
// knows to enqueue rather than drop matching event frames.
func (d *Device) RegisterHandler(functionID uint8, fn EventHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.registered[functionID] = true
	d.wrappers[functionID] = func(dev *Device, id uint8, payload []byte) { fn(dev, id, payload) }
}

// RegisterWrapper installs a decoding wrapper for functionID, as a generated
// stub would: it decodes the raw payload into typed fields and calls a
// user's typed callback itself.
func (d *Device) RegisterWrapper(functionID uint8, fn EventWrapper) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.registered[functionID] = true
	d.wrappers[functionID] = fn
}

// HasHandler reports whether functionID has a registered handler or wrapper.
func (d *Device) HasHandler(functionID uint8) bool {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	return d.registered[functionID]
}

// wrapperFor returns the wrapper registered for functionID, if any.
func (d *Device) wrapperFor(functionID uint8) (EventWrapper, bool) {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	w, ok := d.wrappers[functionID]
	return w, ok
}

// armResponse resets the device's response slot and records which
// (function id, sequence number) pair the receive worker should route into
// it. Must be called under the connection's socket lock, matching the
// ordering in spec.md §4.9.
func (d *Device) armResponse(functionID, sequenceNumber uint8) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	select {
	case <-d.responseCh:
	default:
	}
	d.expectedFunctionID = functionID
	d.expectedSequenceNumber = sequenceNumber
	d.awaiting = true
}

// disarm clears the expected-response fields, so a later-arriving frame
// with the same sequence number (e.g. after a timeout) is discarded by
// deliverResponse instead of matching stale state.
func (d *Device) disarm() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.awaiting = false
}

// deliverResponse is called by the receive worker for every frame whose
// sequence number is nonzero and whose device id resolved to d. It copies
// the frame into the response slot only if it matches what was armed.
func (d *Device) deliverResponse(h wire.Header, payload []byte) bool {
	d.stateMu.Lock()
	if !d.awaiting || h.FunctionID != d.expectedFunctionID || h.SequenceNumber != d.expectedSequenceNumber {
		d.stateMu.Unlock()
		return false
	}
	d.awaiting = false
	d.stateMu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)

	select {
	case d.responseCh <- response{header: h, payload: cp}:
	default:
		// Slot already holds an (impossible under request_lock) stale entry; drop.
	}
	return true
}

// SendRequest implements spec.md §4.9: build and write a request frame for
// functionID, then, if the device's response-expected policy calls for it,
// wait for the matching response up to the connection's timeout. Only one
// request is ever in flight per device — callers serialize through
// requestLock.
func (d *Device) SendRequest(functionID uint8, payload []byte) ([]byte, error) {
	d.requestLock.Lock()
	defer d.requestLock.Unlock()

	c := d.conn
	responseExpected := d.GetResponseExpected(functionID).bool()

	length := wire.HeaderSize + len(payload)
	if length > wire.MaxPacketSize {
		return nil, newError("send_request", InvalidParameter, nil)
	}

	c.socketLock.Lock()
	if c.conn == nil {
		c.socketLock.Unlock()
		return nil, newError("send_request", NotConnected, nil)
	}

	h := wire.BuildHeader(c.seq, uint8(length), functionID, d.id, responseExpected)
	if responseExpected {
		d.armResponse(functionID, h.SequenceNumber)
	}

	frame := h.Marshal()
	buf := make([]byte, 0, length)
	buf = append(buf, frame[:]...)
	buf = append(buf, payload...)

	_, err := c.conn.Write(buf)
	c.socketLock.Unlock()

	if err != nil {
		if responseExpected {
			d.disarm()
		}
		return nil, newError("send_request", NoConnect, err)
	}

	if !responseExpected {
		return nil, nil
	}

	timeout := time.Duration(c.TimeoutMs()) * time.Millisecond
	select {
	case resp := <-d.responseCh:
		if code := mapBrokerErrorCode(resp.header.ErrorCode); code != OK {
			return resp.payload, newError("send_request", code, nil)
		}
		return resp.payload, nil
	case <-time.After(timeout):
		d.disarm()
		return nil, newError("send_request", Timeout, nil)
	}
}
