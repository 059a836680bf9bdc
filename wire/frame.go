// frame.go - frame codec
// Copyright (C) 2026  The dotmap authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the frame header in bytes.
	HeaderLen = 6

	// MaxFrameLen is the largest frame the 2 byte size field can
	// describe, header included.
	MaxFrameLen = 65535

	// MaxPayloadLen is the largest payload a single frame can carry.
	MaxPayloadLen = MaxFrameLen - HeaderLen
)

var (
	// ErrOversizeFrame is returned when a frame, or the framer's
	// accumulation buffer, exceeds MaxFrameLen.
	ErrOversizeFrame = errors.New("wire: frame exceeds 65535 bytes")

	// ErrUndersizeFrame is returned when a frame's declared size is
	// smaller than the header itself.
	ErrUndersizeFrame = errors.New("wire: frame smaller than the 6 byte header")

	// ErrBadFrom is returned when a frame's from field does not match
	// the connection it arrived on.
	ErrBadFrom = errors.New("wire: frame from field does not match connection id")
)

// Frame is a single decoded protocol frame.
type Frame struct {
	// From is the sender's connection id, 0 for server originated
	// notifications.
	From uint16

	// ID is the message id; replies echo it, notifications carry 0.
	ID uint16

	// Data is the frame payload, without the header.
	Data []byte
}

// ParseFrame decodes raw, a complete frame including the header.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) < HeaderLen {
		return nil, ErrUndersizeFrame
	}
	if len(raw) > MaxFrameLen {
		return nil, ErrOversizeFrame
	}
	size := binary.BigEndian.Uint16(raw[4:6])
	if int(size) != len(raw) {
		return nil, fmt.Errorf("wire: declared size %d != frame length %d", size, len(raw))
	}
	return &Frame{
		From: binary.BigEndian.Uint16(raw[0:2]),
		ID:   binary.BigEndian.Uint16(raw[2:4]),
		Data: raw[HeaderLen:],
	}, nil
}

// StampHeader prepends the 6 byte header to payload and returns the
// ready-to-write frame.
func StampHeader(payload []byte, from, msgID uint16) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, ErrOversizeFrame
	}
	frame := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], from)
	binary.BigEndian.PutUint16(frame[2:4], msgID)
	binary.BigEndian.PutUint16(frame[4:6], uint16(HeaderLen+len(payload)))
	copy(frame[HeaderLen:], payload)
	return frame, nil
}

// Order is one outbound frame waiting in a connection's send queue.
type Order struct {
	// From is stamped into the frame header; 0 for notifications.
	From uint16

	// To is the destination connection id.
	To int

	// MsgID is stamped into the frame header.
	MsgID uint16

	// Data is the payload.
	Data []byte
}

// Framer accumulates a connection's inbound byte stream and slices it
// into frames.  It keeps at most one partial frame buffered; feeding it
// past MaxFrameLen is a protocol violation.
type Framer struct {
	buf []byte
}

// Feed appends p to the accumulation buffer.
func (f *Framer) Feed(p []byte) error {
	f.buf = append(f.buf, p...)
	if len(f.buf) > MaxFrameLen {
		f.buf = f.buf[:0]
		return ErrOversizeFrame
	}
	return nil
}

// Next returns the next complete frame, header included, or nil when the
// buffered bytes do not yet form one.  Call it repeatedly after each
// Feed; a single read can carry several frames.
func (f *Framer) Next() ([]byte, error) {
	if len(f.buf) < HeaderLen {
		return nil, nil
	}
	size := int(binary.BigEndian.Uint16(f.buf[4:6]))
	if size < HeaderLen {
		f.buf = f.buf[:0]
		return nil, ErrUndersizeFrame
	}
	if size > len(f.buf) {
		return nil, nil
	}
	frame := make([]byte, size)
	copy(frame, f.buf[:size])
	n := copy(f.buf, f.buf[size:])
	f.buf = f.buf[:n]
	return frame, nil
}

// Pending reports whether the framer is holding an incomplete tail.
func (f *Framer) Pending() bool {
	return len(f.buf) > 0
}
