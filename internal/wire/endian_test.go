// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import "testing"

func TestU16RoundTrip(t *testing.T) {
	values := []uint16{0, 1, 0x00FF, 0xFF00, 0xBEEF, 0xFFFF}
	for _, v := range values {
		got := FromWireU16(ToWireU16(v))
		if got != v {
			t.Errorf("u16 round trip: want %#x, got %#x", v, got)
		}
	}
}

func TestU32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF}
	for _, v := range values {
		got := FromWireU32(ToWireU32(v))
		if got != v {
			t.Errorf("u32 round trip: want %#x, got %#x", v, got)
		}
	}
}

func TestU64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x0123456789ABCDEF, 0xFFFFFFFFFFFFFFFF}
	for _, v := range values {
		got := FromWireU64(ToWireU64(v))
		if got != v {
			t.Errorf("u64 round trip: want %#x, got %#x", v, got)
		}
	}
}

func TestSignedRoundTrip(t *testing.T) {
	if got := FromWireI16(ToWireI16(-1)); got != -1 {
		t.Errorf("i16 round trip: want -1, got %d", got)
	}
	if got := FromWireI32(ToWireI32(-12345)); got != -12345 {
		t.Errorf("i32 round trip: want -12345, got %d", got)
	}
	if got := FromWireI64(ToWireI64(-9876543210)); got != -9876543210 {
		t.Errorf("i64 round trip: want -9876543210, got %d", got)
	}
}

func TestF32RoundTrip(t *testing.T) {
	values := []float32{0, 1.5, -3.25, 3.14159265}
	for _, v := range values {
		got := FromWireF32(ToWireF32(v))
		if got != v {
			t.Errorf("f32 round trip: want %v, got %v", v, got)
		}
	}
}

func TestU16WireByteOrder(t *testing.T) {
	// 0x1234 little-endian on the wire is low byte first.
	b := ToWireU16(0x1234)
	if b[0] != 0x34 || b[1] != 0x12 {
		t.Errorf("expected little-endian bytes [0x34 0x12], got %x", b)
	}
}
