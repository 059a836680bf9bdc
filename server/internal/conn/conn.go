// conn.go - connection record and non-blocking socket I/O
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

//go:build linux

// Package conn holds the per-connection state shared by the server's
// workers, and the non-blocking read/write primitives on the underlying
// socket halves.
package conn

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dotmap/dotmap/wire"
)

const readChunk = 4096

// ErrWouldBlock signals that the socket cannot make progress right now.
// It is control flow, not a failure; any returned byte count still
// represents real progress.
var ErrWouldBlock = errors.New("conn: operation would block")

// ErrPeerClosed is returned when the peer has shut down its end.
var ErrPeerClosed = errors.New("conn: peer closed connection")

// Conn is one registered half of a client connection.  A connection id
// appears twice in the server's registries: once as the read half, once
// as the write half, each owning its own duplicated descriptor.
//
// The embedded mutex guards the mutable state below it; the registries'
// lock only guards the id lookup.
type Conn struct {
	sync.Mutex

	// ID is the server-assigned connection id.
	ID int

	// FD is this half's socket descriptor.
	FD int

	// Addr is the peer address.
	Addr string

	// Queue is the outbound order queue (write halves only).
	Queue []wire.Order

	// Partial holds the unwritten tail of a stamped frame after a
	// short write.
	Partial []byte

	// PendingRead is set while the framer holds an incomplete tail.
	PendingRead bool

	LastRead  time.Time
	LastWrite time.Time

	// Closed marks the connection for the cleaner.
	Closed bool
}

// New creates a connection record for one socket half.
func New(id, fd int, addr string) *Conn {
	now := time.Now()
	return &Conn{
		ID:        id,
		FD:        fd,
		Addr:      addr,
		LastRead:  now,
		LastWrite: now,
	}
}

// Read drains the socket until it would block, returning whatever was
// available.  A zero-byte read means the peer is gone and yields
// ErrPeerClosed.  Interrupted reads are retried.
func (c *Conn) Read() ([]byte, error) {
	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := unix.Read(c.FD, chunk)
		switch {
		case n > 0:
			buf = append(buf, chunk[:n]...)
			continue
		case n == 0 && err == nil:
			return buf, ErrPeerClosed
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return buf, nil
		default:
			return buf, err
		}
	}
}

// Write pushes p to the socket, retrying on interrupts.  On would-block
// it returns the bytes written so far together with ErrWouldBlock; the
// caller keeps the remainder.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.FD, p[written:])
		switch {
		case n > 0:
			written += n
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, ErrWouldBlock
		case err != nil:
			return written, err
		default:
			return written, ErrPeerClosed
		}
	}
	return written, nil
}

// Shutdown shuts down both directions of the socket, waking any poller
// interest so the reactor notices the corpse.
func (c *Conn) Shutdown() {
	_ = unix.Shutdown(c.FD, unix.SHUT_RDWR)
}

// Close releases the descriptor.
func (c *Conn) Close() {
	_ = unix.Close(c.FD)
}
