// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package modbus

// funcReadHoldingRegisters is the only function code the sensor
// exchange uses.
const funcReadHoldingRegisters = 0x03

// ReadHoldingRequest builds the 8-byte read-holding-registers command:
// slave address, function 0x03, start register (big-endian), register
// count (big-endian), CRC16 (little-endian). The agent builds this
// once at startup and writes the same bytes on every poll.
func ReadHoldingRequest(slave byte, register, count uint16) []byte {
	frame := make([]byte, 0, 8)
	frame = append(frame, slave, funcReadHoldingRegisters,
		byte(register>>8), byte(register),
		byte(count>>8), byte(count))
	return AppendCRC(frame)
}

// ResponseHeader returns the 3-byte prefix of a valid response to a
// count-register read: slave address, function code, payload byte
// count (two bytes per register). Every frame the decoder accepts
// starts with exactly these bytes.
func ResponseHeader(slave byte, count uint16) [3]byte {
	return [3]byte{slave, funcReadHoldingRegisters, byte(2 * count)}
}

// ResponseLength returns the total frame size of a response to a
// count-register read: 3 header bytes, 2 bytes per register, 2 CRC
// bytes.
func ResponseLength(count uint16) int {
	return 3 + 2*int(count) + 2
}
