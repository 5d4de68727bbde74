// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package tilt

import "strconv"

// FrameLength is the full on-wire frame size in bytes. A frame is a
// Modbus read-holding-registers response carrying six registers:
// 3 header bytes, 12 payload bytes, 2 CRC bytes. Each axis occupies
// two consecutive registers.
const FrameLength = 17

// Payload offsets of the three axis groups within a frame.
const (
	offsetAngX = 3
	offsetAngY = 7
	offsetAngZ = 11
)

// axisValue assembles the signed 32-bit axis reading whose four bytes
// sit at frame offsets o..o+3. The sensor transmits each value as two
// big-endian registers with the low word first, so the integer reads,
// most significant byte first: o+2, o+3, o, o+1.
func axisValue(frame []byte, o int) int32 {
	return int32(uint32(frame[o+2])<<24 |
		uint32(frame[o+3])<<16 |
		uint32(frame[o])<<8 |
		uint32(frame[o+1]))
}

// FormatAngle renders a raw axis value, in thousandths of a degree, as
// a decimal string with exactly three fractional digits.
func FormatAngle(raw int32) string {
	return strconv.FormatFloat(float64(raw)/1000, 'f', 3, 64)
}

// DecodeAngles extracts the three axis angles from a complete frame.
// The caller has already checked the header and CRC.
func DecodeAngles(frame []byte) (angX, angY, angZ string) {
	return FormatAngle(axisValue(frame, offsetAngX)),
		FormatAngle(axisValue(frame, offsetAngY)),
		FormatAngle(axisValue(frame, offsetAngZ))
}
