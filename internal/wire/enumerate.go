// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import "fmt"

// EnumerateCallbackPayloadSize is the payload size following the header in
// an enumerate callback frame (spec.md §6).
const EnumerateCallbackPayloadSize = 8 + 8 + 1 + 3 + 3 + 2 + 1

// Enumeration types (spec.md §6).
const (
	EnumerationAvailable  = 0
	EnumerationConnected  = 1
	EnumerationDisconnect = 2
)

// EnumerateCallback is the decoded payload of an ENUMERATE_CALLBACK frame.
type EnumerateCallback struct {
	UID              string
	ConnectedUID     string
	Position         int8
	HardwareVersion  [3]uint8
	FirmwareVersion  [3]uint8
	DeviceIdentifier uint16
	EnumerationType  uint8
}

// ParseEnumerateCallback decodes the payload that follows the 8-byte header
// of an ENUMERATE_CALLBACK frame:
//
//	uid[8] | connected_uid[8] | position:i8 | hardware_version[3] |
//	firmware_version[3] | device_identifier:u16 (LE) | enumeration_type:u8
func ParseEnumerateCallback(payload []byte) (EnumerateCallback, error) {
	if len(payload) < EnumerateCallbackPayloadSize {
		return EnumerateCallback{}, fmt.Errorf(
			"wire: enumerate callback payload needs %d bytes, got %d",
			EnumerateCallbackPayloadSize, len(payload))
	}

	var devID [2]byte
	copy(devID[:], payload[23:25])

	return EnumerateCallback{
		UID:              trimNul(payload[0:8]),
		ConnectedUID:     trimNul(payload[8:16]),
		Position:         int8(payload[16]),
		HardwareVersion:  [3]uint8{payload[17], payload[18], payload[19]},
		FirmwareVersion:  [3]uint8{payload[20], payload[21], payload[22]},
		DeviceIdentifier: FromWireU16(devID),
		EnumerationType:  payload[25],
	}, nil
}

func trimNul(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}
