// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package modbus implements the small slice of Modbus RTU the tilt
// sensor speaks: CRC16 frame integrity and the shape of one fixed
// read-holding-registers exchange. There is no register map and no
// function-code dispatch; the sensor is polled with a single
// precomputed command and answers with a single fixed-size frame.
package modbus

// CRC16 computes the Modbus variant of CRC-16 over data: polynomial
// 0xA001 (reflected 0x8005), initial register 0xFFFF, no final XOR.
// On the wire the checksum is transmitted low byte first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the little-endian CRC16 of frame to frame and
// returns the extended slice.
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// VerifyFrame reports whether the trailing two bytes of frame hold the
// little-endian CRC16 of everything before them. Frames shorter than
// three bytes (one body byte plus the checksum) never verify.
func VerifyFrame(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	body := frame[:len(frame)-2]
	received := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	return CRC16(body) == received
}
