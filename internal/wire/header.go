// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"sync"
)

// HeaderSize is the fixed size, in bytes, of every packet header.
const HeaderSize = 8

// MaxPacketSize bounds the total size (header + payload) of a single packet,
// matching the broker's own cap.
const MaxPacketSize = 80

const (
	// FunctionEnumerate is the function id of an enumerate request (no response expected).
	FunctionEnumerate = 254
	// FunctionEnumerateCallback is the function id of an enumerate callback frame.
	FunctionEnumerateCallback = 253
)

// Broker error codes, carried in the low 6 bits of header byte 7.
const (
	ErrorCodeOK               = 0
	ErrorCodeInvalidParameter = 1
	ErrorCodeNotSupported     = 2
)

const (
	sequenceMask        = 0x0F
	responseExpectedBit = 0x10
	errorCodeMask       = 0x3F
)

// Header is the 8-byte fixed header that prefixes every packet.
//
//	bytes 0..3: device id (u32, little-endian)
//	byte  4:    total length in bytes, header included
//	byte  5:    function id
//	byte  6:    low 4 bits sequence number (1..15; 0 = event); bit 4 = response expected
//	byte  7:    low 6 bits broker error code
type Header struct {
	UID               uint32
	Length            uint8
	FunctionID        uint8
	SequenceNumber    uint8
	ResponseExpected  bool
	ErrorCode         uint8
}

// Marshal encodes the header into its 8-byte wire representation.
func (h Header) Marshal() [HeaderSize]byte {
	var buf [HeaderSize]byte
	uidBytes := ToWireU32(h.UID)
	copy(buf[0:4], uidBytes[:])
	buf[4] = h.Length
	buf[5] = h.FunctionID

	flags := h.SequenceNumber & sequenceMask
	if h.ResponseExpected {
		flags |= responseExpectedBit
	}
	buf[6] = flags
	buf[7] = h.ErrorCode & errorCodeMask
	return buf
}

// ParseHeader decodes an 8-byte wire header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: header needs %d bytes, got %d", HeaderSize, len(buf))
	}
	var uidBytes [4]byte
	copy(uidBytes[:], buf[0:4])

	return Header{
		UID:              FromWireU32(uidBytes),
		Length:           buf[4],
		FunctionID:       buf[5],
		SequenceNumber:   buf[6] & sequenceMask,
		ResponseExpected: buf[6]&responseExpectedBit != 0,
		ErrorCode:        buf[7] & errorCodeMask,
	}, nil
}

// IsEvent reports whether the header describes an unsolicited event rather
// than a response (spec.md §3: sequence number 0 denotes an event).
func (h Header) IsEvent() bool {
	return h.SequenceNumber == 0
}

// SequenceAllocator hands out cyclic sequence numbers in 1..15 (0 is
// reserved to mark events) under a small, dedicated lock.
type SequenceAllocator struct {
	mu   sync.Mutex
	next uint8
}

// NewSequenceAllocator creates an allocator that starts at sequence number 1.
func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{next: 1}
}

// Next returns the next sequence number, cycling through 1..15 and never
// emitting 0.
func (a *SequenceAllocator) Next() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.next
	a.next++
	if a.next > 15 {
		a.next = 1
	}
	return n
}

// BuildHeader allocates a sequence number and assembles a request header for
// the given device id, function id, and response-expected policy.
func BuildHeader(seq *SequenceAllocator, length, functionID uint8, uid uint32, responseExpected bool) Header {
	return Header{
		UID:              uid,
		Length:           length,
		FunctionID:       functionID,
		SequenceNumber:   seq.Next(),
		ResponseExpected: responseExpected,
	}
}

// BuildEnumerateHeader builds the header-only enumerate request (spec.md §6):
// function id 254, uid 0, no response expected, sequence number still
// allocated so frames remain traceable in logs.
func BuildEnumerateHeader(seq *SequenceAllocator) Header {
	return Header{
		UID:            0,
		Length:         HeaderSize,
		FunctionID:     FunctionEnumerate,
		SequenceNumber: seq.Next(),
	}
}
