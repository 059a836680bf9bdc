// writer.go - socket writer worker
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
	"github.com/dotmap/dotmap/server/internal/conn"
	"github.com/dotmap/dotmap/server/internal/instrument"
	"github.com/dotmap/dotmap/server/internal/poll"
	"github.com/dotmap/dotmap/wire"
)

type (
	writeQueue    struct{ order wire.Order }
	writeQueueAll struct{ orders []wire.Order }
	writeFlush    struct{ id int }
)

// writerWorker owns the outbound side: it appends orders to the
// destination connection's queue, toggles write interest, and drains
// queues when the poller reports writability.
type writerWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	in *channels.InfiniteChannel
}

func newWriterWorker(s *Server) *writerWorker {
	return &writerWorker{
		s:   s,
		log: s.logBackend.GetLogger("writer"),
		in:  channels.NewInfiniteChannel(),
	}
}

func (w *writerWorker) queue(o wire.Order) {
	w.in.In() <- writeQueue{order: o}
}

func (w *writerWorker) queueAll(orders []wire.Order) {
	w.in.In() <- writeQueueAll{orders: orders}
}

func (w *writerWorker) flush(id int) {
	w.in.In() <- writeFlush{id: id}
}

func (w *writerWorker) worker() {
	for {
		select {
		case <-w.HaltCh():
			return
		case v, ok := <-w.in.Out():
			if !ok {
				return
			}
			switch c := v.(type) {
			case writeQueue:
				w.handleQueue(c.order)
			case writeQueueAll:
				for _, o := range c.orders {
					w.handleQueue(o)
				}
			case writeFlush:
				w.handleFlush(c.id)
			}
		}
	}
}

func (w *writerWorker) handleQueue(o wire.Order) {
	c := w.s.writers.get(o.To)
	if c == nil {
		return
	}
	c.Lock()
	if c.Closed {
		c.Unlock()
		return
	}
	wasIdle := len(c.Queue) == 0 && len(c.Partial) == 0
	c.Queue = append(c.Queue, o)
	fd := c.FD
	c.Unlock()

	if wasIdle {
		if err := w.s.poller.Modify(fd, poll.Event{Key: o.To, Writable: true}); err != nil {
			w.log.Errorf("Failed to arm writer #%d: %v", o.To, err)
		}
	}
}

func (w *writerWorker) handleFlush(id int) {
	c := w.s.writers.get(id)
	if c == nil {
		return
	}

	c.Lock()
	rearm := poll.Event{Key: id}
	for {
		if len(c.Partial) > 0 {
			n, err := c.Write(c.Partial)
			if err == conn.ErrWouldBlock {
				c.Partial = c.Partial[n:]
				rearm.Writable = true
				break
			}
			if err != nil {
				c.Closed = true
				w.log.Debugf("Connection #%d closed, write failed: %v", id, err)
				break
			}
			c.Partial = nil
			c.LastWrite = time.Now()
			instrument.FrameWritten()
		}

		if len(c.Queue) == 0 {
			break
		}
		o := c.Queue[0]
		c.Queue = c.Queue[1:]

		frame, err := wire.StampHeader(o.Data, o.From, o.MsgID)
		if err != nil {
			w.log.Errorf("Connection #%d: dropping oversize order: %v", id, err)
			continue
		}

		n, err := c.Write(frame)
		if err == conn.ErrWouldBlock {
			c.Partial = frame[n:]
			rearm.Writable = true
			break
		}
		if err != nil {
			c.Closed = true
			w.log.Debugf("Connection #%d closed, write failed: %v", id, err)
			break
		}
		c.LastWrite = time.Now()
		instrument.FrameWritten()
	}
	closed := c.Closed
	fd := c.FD
	c.Unlock()

	if closed {
		w.s.cleaner.drop(id)
		return
	}
	if err := w.s.poller.Modify(fd, rearm); err != nil {
		w.log.Errorf("Failed to re-arm writer #%d: %v", id, err)
	}
}
