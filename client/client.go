// client.go - dotmap protocol client
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

// Package client implements a blocking client for the dotmap wire
// protocol.
package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/wire"
)

var (
	// ErrHalted is returned when the client is shut down mid-request.
	ErrHalted = errors.New("client: halted")

	// ErrTimeout is returned when the server does not reply in time.
	ErrTimeout = errors.New("client: request timed out")
)

const defaultTimeout = 30 * time.Second

// Client is a connection to a dotmap server.  It is safe for concurrent
// use; replies are matched to requests by message id, and subscription
// notifications are surfaced on a separate channel.
type Client struct {
	worker.Worker

	conn net.Conn
	id   uint16

	mu      sync.Mutex
	wmu     sync.Mutex
	nextID  uint16
	pending map[uint16]chan []byte

	notifications chan *wire.Frame
}

// Dial connects to a dotmap server and consumes the welcome frame that
// carries the assigned connection id.
func Dial(address string) (*Client, error) {
	nc, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}

	fr := new(wire.Framer)
	welcome, err := readFrame(nc, fr)
	if err != nil {
		nc.Close()
		return nil, err
	}

	c := &Client{
		conn:          nc,
		id:            welcome.From,
		pending:       make(map[uint16]chan []byte),
		notifications: make(chan *wire.Frame, 64),
	}
	c.Go(func() { c.readLoop(fr) })
	return c, nil
}

// ID returns the server-assigned connection id.
func (c *Client) ID() uint16 {
	return c.id
}

// Notifications returns the channel carrying every frame with from=0,
// msg_id=0: subscription notifications, and also the server's zero
// payload idle pings.  Slow consumers lose notifications.
func (c *Client) Notifications() <-chan *wire.Frame {
	return c.notifications
}

// Close tears the connection down.
func (c *Client) Close() {
	c.conn.Close()
	c.Halt()
}

// Send transmits one raw command line and waits for its reply.
func (c *Client) Send(line []byte) ([]byte, error) {
	c.mu.Lock()
	c.nextID++
	if c.nextID == 0 { // msg id 0 is reserved for notifications
		c.nextID = 1
	}
	mid := c.nextID
	ch := make(chan []byte, 1)
	c.pending[mid] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, mid)
		c.mu.Unlock()
	}()

	frame, err := wire.StampHeader(line, c.id, mid)
	if err != nil {
		return nil, err
	}
	c.wmu.Lock()
	_, err = c.conn.Write(frame)
	c.wmu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.HaltCh():
		return nil, ErrHalted
	case <-time.After(defaultTimeout):
		return nil, ErrTimeout
	}
}

func (c *Client) do(cmd wire.Command) ([]byte, error) {
	return c.Send(cmd.Serialize())
}

// Set stores value at key.
func (c *Client) Set(key string, value []byte) error {
	_, err := c.do(wire.Command{Op: wire.Set, Key: key, Value: value})
	return err
}

// SetIfNone stores value at key only when the key is absent.
func (c *Client) SetIfNone(key string, value []byte) error {
	_, err := c.do(wire.Command{Op: wire.SetIfNone, Key: key, Value: value})
	return err
}

// Get returns the value at key; absent keys yield an empty value.
func (c *Client) Get(key string) ([]byte, error) {
	return c.do(wire.Command{Op: wire.Get, Key: key})
}

// Inc increments the integer at key and returns its new 8 byte
// big-endian value.
func (c *Client) Inc(key string) ([]byte, error) {
	return c.do(wire.Command{Op: wire.Inc, Key: key})
}

// Append extends the value at key and returns the new value.
func (c *Client) Append(key string, value []byte) ([]byte, error) {
	return c.do(wire.Command{Op: wire.Append, Key: key, Value: value})
}

// Delete removes key.
func (c *Client) Delete(key string) error {
	_, err := c.do(wire.Command{Op: wire.Delete, Key: key})
	return err
}

// KeyValue returns the NUL-separated enumeration of key's prefix range.
func (c *Client) KeyValue(key string) ([]byte, error) {
	return c.do(wire.Command{Op: wire.KeyValue, Key: key})
}

// Jtrim returns the JSON subtree at key.
func (c *Client) Jtrim(key string) ([]byte, error) {
	return c.do(wire.Command{Op: wire.Jtrim, Key: key})
}

// Json returns the full JSON object rooted at key's prefix range.
func (c *Client) Json(key string) ([]byte, error) {
	return c.do(wire.Command{Op: wire.Json, Key: key})
}

// Subscribe registers for notifications on key.
func (c *Client) Subscribe(key string) error {
	_, err := c.do(wire.Command{Op: wire.SubGet, Key: key})
	return err
}

// Unsubscribe removes the subscription on key.
func (c *Client) Unsubscribe(key string) error {
	_, err := c.do(wire.Command{Op: wire.Unsub, Key: key})
	return err
}

// Call notifies key's subscribers with value without touching the store.
func (c *Client) Call(key string, value []byte) error {
	_, err := c.do(wire.Command{Op: wire.SubCall, Key: key, Value: value})
	return err
}

func (c *Client) readLoop(fr *wire.Framer) {
	for {
		f, err := readFrame(c.conn, fr)
		if err != nil {
			return
		}
		if f.From == 0 && f.ID == 0 {
			select {
			case c.notifications <- f:
			default:
			}
			continue
		}
		c.mu.Lock()
		ch := c.pending[f.ID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- f.Data:
			default:
			}
		}
	}
}

// readFrame blocks until fr yields one complete frame from nc.
func readFrame(nc net.Conn, fr *wire.Framer) (*wire.Frame, error) {
	buf := make([]byte, 4096)
	for {
		raw, err := fr.Next()
		if err != nil {
			return nil, err
		}
		if raw != nil {
			return wire.ParseFrame(raw)
		}
		n, err := nc.Read(buf)
		if n > 0 {
			if ferr := fr.Feed(buf[:n]); ferr != nil {
				return nil, ferr
			}
		}
		if err != nil {
			return nil, err
		}
	}
}
