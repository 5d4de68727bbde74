// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package tilt

import (
	"bytes"
	"time"

	"github.com/slopewatch/slopewatch/lib/modbus"
)

// Decoder turns the serial byte stream into Readings and ErrorRecords.
// It owns the bytes accumulated between Feed calls, so chunks may
// split frames at any boundary. Not safe for concurrent use; the
// agent's processing loop is its only caller.
type Decoder struct {
	header [3]byte
	now    func() time.Time
	buffer []byte
}

// NewDecoder returns a decoder that recognizes frames beginning with
// header. now supplies the sensing timestamp stamped on each record;
// the agent passes its time anchor's Now.
func NewDecoder(header [3]byte, now func() time.Time) *Decoder {
	return &Decoder{header: header, now: now}
}

// Feed appends chunk to the pending buffer and decodes every complete
// frame in it, returning the records in arrival order.
//
// While at least FrameLength bytes are buffered: a frame with a valid
// header and CRC becomes a Reading; a valid header with a bad CRC
// becomes a CRC ErrorRecord and the whole frame is consumed. On a
// header mismatch the decoder resynchronizes by discarding up to the
// next occurrence of the first header byte; if none exists the buffer
// is dropped and a no-valid-frame ErrorRecord emitted.
func (d *Decoder) Feed(chunk []byte) []Record {
	d.buffer = append(d.buffer, chunk...)
	var records []Record
	for len(d.buffer) >= FrameLength {
		if !d.headerMatches() {
			next := bytes.IndexByte(d.buffer[1:], d.header[0])
			if next < 0 {
				d.buffer = d.buffer[:0]
				records = append(records, ErrorRecord{
					SensingTime: At(d.now()),
					Reason:      ReasonNoValidFrame,
				})
				break
			}
			d.buffer = d.buffer[1+next:]
			continue
		}
		frame := d.buffer[:FrameLength]
		if modbus.VerifyFrame(frame) {
			angX, angY, angZ := DecodeAngles(frame)
			records = append(records, Reading{
				SensingTime: At(d.now()),
				AngX:        angX,
				AngY:        angY,
				AngZ:        angZ,
			})
		} else {
			records = append(records, ErrorRecord{
				SensingTime: At(d.now()),
				Reason:      ReasonCRCFailed,
			})
		}
		d.buffer = d.buffer[FrameLength:]
	}
	return records
}

// Pending returns how many bytes are buffered awaiting a complete
// frame. Always less than FrameLength after Feed returns.
func (d *Decoder) Pending() int { return len(d.buffer) }

func (d *Decoder) headerMatches() bool {
	return d.buffer[0] == d.header[0] &&
		d.buffer[1] == d.header[1] &&
		d.buffer[2] == d.header[2]
}
