// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements the broker wire format: little-endian integer and
// float codecs, base58 UID decoding, and the fixed 8-byte packet header.
package wire

import "math"

// ToWireU16 converts a host uint16 to its little-endian wire representation.
func ToWireU16(v uint16) [2]byte {
	return [2]byte{byte(v), byte(v >> 8)}
}

// FromWireU16 converts a little-endian wire uint16 back to a host value.
//
// The original C implementation this protocol is modeled on swaps 16-bit
// fields with a 4-byte swap routine, which corrupts any value above 0xFFFF
// in subtle ways on big-endian hosts. That bug is not reproduced here: this
// function performs an exact 2-byte swap.
func FromWireU16(b [2]byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// ToWireU32 converts a host uint32 to its little-endian wire representation.
func ToWireU32(v uint32) [4]byte {
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// FromWireU32 converts a little-endian wire uint32 back to a host value.
func FromWireU32(b [4]byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ToWireU64 converts a host uint64 to its little-endian wire representation.
func ToWireU64(v uint64) [8]byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// FromWireU64 converts a little-endian wire uint64 back to a host value.
func FromWireU64(b [8]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// ToWireI16 converts a host int16 to its little-endian wire representation.
func ToWireI16(v int16) [2]byte { return ToWireU16(uint16(v)) }

// FromWireI16 converts a little-endian wire int16 back to a host value.
func FromWireI16(b [2]byte) int16 { return int16(FromWireU16(b)) }

// ToWireI32 converts a host int32 to its little-endian wire representation.
func ToWireI32(v int32) [4]byte { return ToWireU32(uint32(v)) }

// FromWireI32 converts a little-endian wire int32 back to a host value.
func FromWireI32(b [4]byte) int32 { return int32(FromWireU32(b)) }

// ToWireI64 converts a host int64 to its little-endian wire representation.
func ToWireI64(v int64) [8]byte { return ToWireU64(uint64(v)) }

// FromWireI64 converts a little-endian wire int64 back to a host value.
func FromWireI64(b [8]byte) int64 { return int64(FromWireU64(b)) }

// ToWireF32 converts a host float32 to its little-endian wire representation.
// The conversion reinterprets the bit pattern; it never performs a numeric
// byte-order-independent re-encoding, so NaN payloads and subnormals survive
// the round trip exactly.
func ToWireF32(v float32) [4]byte {
	return ToWireU32(math.Float32bits(v))
}

// FromWireF32 converts a little-endian wire float32 back to a host value.
func FromWireF32(b [4]byte) float32 {
	return math.Float32frombits(FromWireU32(b))
}
