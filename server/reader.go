// reader.go - socket reader worker
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

package server

import (
	"time"

	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/server/internal/instrument"
	"github.com/dotmap/dotmap/server/internal/poll"
	"github.com/dotmap/dotmap/wire"
)

type readCmd struct {
	id int
}

type forgetCmd struct {
	id int
}

// readerWorker drains readable sockets, recovers frames through the
// per-connection framer and hands them to the parser.
type readerWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	in      *channels.InfiniteChannel
	framers map[int]*wire.Framer
}

func newReaderWorker(s *Server) *readerWorker {
	return &readerWorker{
		s:       s,
		log:     s.logBackend.GetLogger("reader"),
		in:      channels.NewInfiniteChannel(),
		framers: make(map[int]*wire.Framer),
	}
}

// read schedules a drain of connection id.
func (r *readerWorker) read(id int) {
	r.in.In() <- readCmd{id: id}
}

// forget discards connection id's framer state.  The cleaner calls it
// before the id returns to the free pool, so a reused id always starts
// with a fresh buffer; inbox ordering guarantees the discard lands
// before any read of the successor connection.
func (r *readerWorker) forget(id int) {
	r.in.In() <- forgetCmd{id: id}
}

func (r *readerWorker) worker() {
	for {
		select {
		case <-r.HaltCh():
			return
		case v, ok := <-r.in.Out():
			if !ok {
				return
			}
			switch cmd := v.(type) {
			case readCmd:
				r.handleRead(cmd.id)
			case forgetCmd:
				delete(r.framers, cmd.id)
			}
		}
	}
}

func (r *readerWorker) handleRead(id int) {
	c := r.s.readers.get(id)
	if c == nil {
		return
	}

	fr := r.framers[id]
	if fr == nil {
		fr = new(wire.Framer)
		r.framers[id] = fr
	}

	c.Lock()

	data, err := c.Read()
	if len(data) > 0 {
		if ferr := fr.Feed(data); ferr != nil {
			c.Closed = true
			r.log.Infof("Connection #%d closed: %v", id, ferr)
		}
	}

	for !c.Closed {
		raw, ferr := fr.Next()
		if ferr != nil {
			c.Closed = true
			r.log.Infof("Connection #%d closed: %v", id, ferr)
			break
		}
		if raw == nil {
			break
		}
		msg, perr := wire.ParseFrame(raw)
		if perr != nil {
			c.Closed = true
			r.log.Infof("Connection #%d closed, bad frame: %v", id, perr)
			break
		}
		if int(msg.From) != id {
			c.Closed = true
			r.log.Infof("Connection #%d closed: %v (got #%d)", id, wire.ErrBadFrom, msg.From)
			break
		}
		instrument.FrameRead()
		r.s.parser.parse(msg, c.Addr)
	}

	if err != nil && !c.Closed {
		c.Closed = true
		r.log.Debugf("Connection #%d closed, read failed: %v", id, err)
	}

	c.PendingRead = fr.Pending()
	c.LastRead = time.Now()
	closed := c.Closed
	fd := c.FD
	c.Unlock()

	if closed {
		delete(r.framers, id)
		r.s.cleaner.drop(id)
		return
	}
	if err := r.s.poller.Modify(fd, poll.Event{Key: id, Readable: true}); err != nil {
		r.log.Errorf("Failed to re-arm connection #%d: %v", id, err)
	}
}
